package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrInvalidPosition is returned when an append is rejected before any
	// row is written.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrNotFound is returned when no row exists for a name.
	ErrNotFound = errors.New("object not found")
)

// Position is one row of the position log.
type Position struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// NewPosition is the input to AppendFrom.
type NewPosition struct {
	Name    string
	X, Y, Z float64
	Source  string
}

// Validate reports why p cannot be stored, wrapping ErrInvalidPosition.
func (p NewPosition) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPosition)
	}
	for _, c := range []struct {
		axis string
		v    float64
	}{{"x", p.X}, {"y", p.Y}, {"z", p.Z}} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalidPosition, c.axis)
		}
	}
	return nil
}

// Append records a position for name timestamped with the store clock.
func (s *Store) Append(ctx context.Context, name string, x, y, z float64) (*Position, error) {
	return s.AppendFrom(ctx, NewPosition{Name: name, X: x, Y: y, Z: z})
}

// AppendFrom records p. It is a single INSERT, so it either writes one
// row or nothing.
func (s *Store) AppendFrom(ctx context.Context, p NewPosition) (*Position, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ts := s.clock.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (name, x, y, z, timestamp, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Name, p.X, p.Y, p.Z, ts.UnixNano(), p.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to insert position: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get position id: %w", err)
	}

	return &Position{
		ID:        id,
		Name:      p.Name,
		X:         p.X,
		Y:         p.Y,
		Z:         p.Z,
		Timestamp: time.Unix(0, ts.UnixNano()).UTC(),
		Source:    p.Source,
	}, nil
}

// Snapshot returns the latest row for every name, ordered by name. The
// projection is one statement so it reads a single committed state.
func (s *Store) Snapshot(ctx context.Context) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, x, y, z, timestamp, source
		FROM (
			SELECT id, name, x, y, z, timestamp, source,
				ROW_NUMBER() OVER (PARTITION BY name ORDER BY timestamp DESC, id DESC) AS rn
			FROM objects
		)
		WHERE rn = 1
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return positions, nil
}

// Latest returns the snapshot row for name.
func (s *Store) Latest(ctx context.Context, name string) (*Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, x, y, z, timestamp, source
		FROM objects
		WHERE name = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, name)

	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Names returns every distinct object name in ascending order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM objects ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read names: %w", err)
	}
	return names, nil
}

// Count returns the total number of rows in the log.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(sc scanner) (Position, error) {
	var (
		p  Position
		ts int64
	)
	if err := sc.Scan(&p.ID, &p.Name, &p.X, &p.Y, &p.Z, &ts, &p.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Position{}, err
		}
		return Position{}, fmt.Errorf("failed to scan position: %w", err)
	}
	p.Timestamp = time.Unix(0, ts).UTC()
	return p, nil
}
