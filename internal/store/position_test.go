package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_ReturnsRow(t *testing.T) {
	s, _ := newTestStore(t)

	p, err := s.AppendFrom(context.Background(), NewPosition{Name: "chair", X: 1, Y: 2, Z: 3, Source: "cam-1"})
	require.NoError(t, err)

	assert.Positive(t, p.ID)
	assert.Equal(t, "chair", p.Name)
	assert.Equal(t, epoch, p.Timestamp)
	assert.Equal(t, "cam-1", p.Source)
}

func TestSnapshot_LatestWins(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "chair", 1, 1, 1)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.Append(ctx, "chair", 2, 2, 2)
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)

	want := []Position{*second}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}

	// Appending never removes earlier rows.
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSnapshot_TieBreakByID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// The mock clock does not move, so both rows share a timestamp.
	first, err := s.Append(ctx, "cup", 1, 1, 1)
	require.NoError(t, err)
	second, err := s.Append(ctx, "cup", 5, 5, 5)
	require.NoError(t, err)
	require.Equal(t, first.Timestamp, second.Timestamp)
	require.Greater(t, second.ID, first.ID)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, second.ID, snap[0].ID)
	assert.Equal(t, 5.0, snap[0].X)
}

func TestSnapshot_OlderTimestampInsertedLaterLoses(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	clock.Set(epoch.Add(time.Minute))
	newer, err := s.Append(ctx, "book", 1, 1, 1)
	require.NoError(t, err)

	clock.Set(epoch)
	_, err = s.Append(ctx, "book", 9, 9, 9)
	require.NoError(t, err)

	got, err := s.Latest(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestSnapshot_PerNameCardinality(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	names := []string{"lamp", "chair", "book", "cup"}
	for i := 0; i < 5; i++ {
		for _, name := range names {
			_, err := s.Append(ctx, name, float64(i), 0, 0)
			require.NoError(t, err)
			clock.Advance(time.Millisecond)
		}
	}

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, len(names))

	var got []string
	for _, p := range snap {
		got = append(got, p.Name)
		assert.Equal(t, 4.0, p.X, "snapshot row for %s should be the last append", p.Name)
	}
	assert.Equal(t, []string{"book", "chair", "cup", "lamp"}, got)
}

func TestSnapshot_Empty(t *testing.T) {
	s, _ := newTestStore(t)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestAppend_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		pos  NewPosition
	}{
		{"empty name", NewPosition{Name: "", X: 1, Y: 1, Z: 1}},
		{"whitespace name", NewPosition{Name: "  \t", X: 1, Y: 1, Z: 1}},
		{"NaN x", NewPosition{Name: "chair", X: math.NaN(), Y: 1, Z: 1}},
		{"+Inf y", NewPosition{Name: "chair", X: 1, Y: math.Inf(1), Z: 1}},
		{"-Inf z", NewPosition{Name: "chair", X: 1, Y: 1, Z: math.Inf(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			ctx := context.Background()

			_, err := s.Append(ctx, "seed", 0, 0, 0)
			require.NoError(t, err)
			before, err := s.Snapshot(ctx)
			require.NoError(t, err)

			_, err = s.AppendFrom(ctx, tt.pos)
			assert.ErrorIs(t, err, ErrInvalidPosition)

			after, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.Len(t, after, len(before))

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestLatest(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "keys", 1, 0, 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.Append(ctx, "keys", 2, 0, 0)
	require.NoError(t, err)

	p, err := s.Latest(ctx, "keys")
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.X)
	assert.Equal(t, epoch.Add(time.Second), p.Timestamp)

	_, err = s.Latest(ctx, "wallet")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNames(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"tv", "chair", "tv", "bottle"} {
		_, err := s.Append(ctx, name, 0, 0, 0)
		require.NoError(t, err)
	}

	names, err = s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bottle", "chair", "tv"}, names)
}

func TestAppend_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("object-%d", w%4)
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, name, float64(i), float64(w), 0); err != nil {
					errs <- err
				}
			}
		}(w)
	}

	// Readers run alongside writers and must always see one row per name.
	done := make(chan struct{})
	var readErr error
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			snap, err := s.Snapshot(ctx)
			if err != nil {
				readErr = err
				return
			}
			seen := map[string]bool{}
			for _, p := range snap {
				if seen[p.Name] {
					readErr = errors.New("duplicate name in snapshot: " + p.Name)
					return
				}
				seen[p.Name] = true
			}
		}
	}()

	wg.Wait()
	<-done
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Append() error = %v", err)
	}
	require.NoError(t, readErr)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), n)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 4)
}

func TestStore_ErrorsAfterClose(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())
	ctx := context.Background()

	_, err := s.Append(ctx, "chair", 1, 1, 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPosition)

	_, err = s.Snapshot(ctx)
	assert.Error(t, err)
}
