package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVision_Valid(t *testing.T) {
	cfg := DefaultVision()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 600.0, cfg.FocalLength)
	assert.Equal(t, [3]float64{0, 0, 0}, cfg.CameraPosition)
	assert.Equal(t, 2*time.Second, cfg.Interval.Duration)
	assert.Equal(t, 5.0, cfg.MaxDepthMeters)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.StoreURL)
	assert.Zero(t, cfg.Send.MaxRetries, "default send policy is at-most-once")
}

func TestVision_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Vision)
	}{
		{"zero focal length", func(v *Vision) { v.FocalLength = 0 }},
		{"negative focal length", func(v *Vision) { v.FocalLength = -1 }},
		{"NaN focal length", func(v *Vision) { v.FocalLength = math.NaN() }},
		{"infinite camera position", func(v *Vision) { v.CameraPosition[1] = math.Inf(1) }},
		{"zero interval", func(v *Vision) { v.Interval = Duration{} }},
		{"zero max depth", func(v *Vision) { v.MaxDepthMeters = 0 }},
		{"confidence above one", func(v *Vision) { v.MinConfidence = 1.5 }},
		{"zero frame width", func(v *Vision) { v.FrameWidth = 0 }},
		{"bad store url scheme", func(v *Vision) { v.StoreURL = "ftp://host" }},
		{"store url without host", func(v *Vision) { v.StoreURL = "http://" }},
		{"negative retries", func(v *Vision) { v.Send.MaxRetries = -1 }},
		{"negative queue", func(v *Vision) { v.QueueSize = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultVision()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestStore_Validate(t *testing.T) {
	require.NoError(t, DefaultStore().Validate())

	cfg := DefaultStore()
	cfg.DBPath = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultStore()
	cfg.LiveInterval = Duration{}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadVisionFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vision.json")
	body := `{"focal_length": 700, "interval": "500ms", "camera_position": [1, 2, 3], "send": {"max_retries": 2}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadVisionFile(path)
	require.NoError(t, err)

	assert.Equal(t, 700.0, cfg.FocalLength)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval.Duration)
	assert.Equal(t, [3]float64{1, 2, 3}, cfg.CameraPosition)
	assert.Equal(t, 2, cfg.Send.MaxRetries)
	assert.Equal(t, DefaultMaxDepthMeters, cfg.MaxDepthMeters)
	assert.Equal(t, DefaultStoreURL, cfg.StoreURL)
}

func TestLoadVisionFile_Errors(t *testing.T) {
	dir := t.TempDir()

	yaml := filepath.Join(dir, "vision.yaml")
	require.NoError(t, os.WriteFile(yaml, []byte("focal_length: 1"), 0o644))
	_, err := LoadVisionFile(yaml)
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadVisionFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"interval": 2}`), 0o644))
	_, err = LoadVisionFile(bad)
	assert.Error(t, err)

	big := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat(" ", 1024*1024+1)), 0o644))
	_, err = LoadVisionFile(big)
	assert.ErrorContains(t, err, "too large")
}

func TestVisionFromEnv(t *testing.T) {
	t.Setenv("CTRLF_FOCAL_LENGTH", "750")
	t.Setenv("CTRLF_INTERVAL", "3s")
	t.Setenv("CTRLF_CAMERA_POSITION", "0.5, 1, -2")
	t.Setenv("CTRLF_STORE_URL", "http://store:5000")
	t.Setenv("CTRLF_SEND_RETRIES", "3")

	cfg, err := VisionFromEnv(DefaultVision())
	require.NoError(t, err)

	assert.Equal(t, 750.0, cfg.FocalLength)
	assert.Equal(t, 3*time.Second, cfg.Interval.Duration)
	assert.Equal(t, [3]float64{0.5, 1, -2}, cfg.CameraPosition)
	assert.Equal(t, "http://store:5000", cfg.StoreURL)
	assert.Equal(t, 3, cfg.Send.MaxRetries)
}

func TestVisionFromEnv_BadValues(t *testing.T) {
	t.Setenv("CTRLF_FOCAL_LENGTH", "wide")
	t.Setenv("CTRLF_INTERVAL", "soon")

	cfg, err := VisionFromEnv(DefaultVision())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CTRLF_FOCAL_LENGTH")
	assert.Contains(t, err.Error(), "CTRLF_INTERVAL")
	assert.Equal(t, DefaultFocalLength, cfg.FocalLength, "bad values keep the previous setting")
}

func TestStoreFromEnv(t *testing.T) {
	t.Setenv("CTRLF_LISTEN_ADDR", ":6000")
	t.Setenv("CTRLF_DB_PATH", "/tmp/x.db")

	cfg, err := StoreFromEnv(DefaultStore())
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.ListenAddr)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition("1,2,3")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1, 2, 3}, p)

	_, err = ParsePosition("1,2")
	assert.Error(t, err)
	_, err = ParsePosition("1,b,3")
	assert.Error(t, err)
}

func TestDuration_JSON(t *testing.T) {
	b, err := Duration{1500 * time.Millisecond}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"250ms"`)))
	assert.Equal(t, 250*time.Millisecond, d.Duration)
}
