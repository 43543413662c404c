// Package config holds runtime configuration for the ctrlf binaries.
//
// Values are layered: compiled-in defaults, then an optional JSON file,
// then CTRLF_* environment variables, then command-line flags (applied by
// main). Validate is called once at startup; an invalid configuration is
// fatal.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultFocalLength    = 600.0
	DefaultInterval       = 2 * time.Second
	DefaultMaxDepthMeters = 5.0
	DefaultStoreURL       = "http://127.0.0.1:5000"
	DefaultListenAddr     = ":5000"
	DefaultDBPath         = "ctrlf.db"
	DefaultLiveInterval   = time.Second
	DefaultSendTimeout    = 5 * time.Second
	DefaultQueueSize      = 64
)

// Duration is a time.Duration that reads and writes JSON as a string
// like "500ms" or "2s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// SendPolicy controls delivery of position records to the store.
// Zero retries means at-most-once.
type SendPolicy struct {
	MaxRetries int      `json:"max_retries"`
	Backoff    Duration `json:"backoff"`
	Timeout    Duration `json:"timeout"`
}

// Vision configures the capture pipeline.
type Vision struct {
	// Camera is a device index ("0") or a video file path.
	Camera      string `json:"camera"`
	FrameWidth  int    `json:"frame_width"`
	FrameHeight int    `json:"frame_height"`

	ModelPath     string  `json:"model_path"`
	MinConfidence float64 `json:"min_confidence"`

	DepthScript string `json:"depth_script"`
	DepthPython string `json:"depth_python"`
	DepthModel  string `json:"depth_model"`

	FocalLength    float64    `json:"focal_length"`
	CameraPosition [3]float64 `json:"camera_position"`
	MaxDepthMeters float64    `json:"max_depth_meters"`
	Interval       Duration   `json:"interval"`

	StoreURL  string     `json:"store_url"`
	Send      SendPolicy `json:"send"`
	QueueSize int        `json:"queue_size"`
	// Source tags stored records. Empty means a generated id.
	Source string `json:"source"`

	PreviewAddr string `json:"preview_addr"`
	Tray        bool   `json:"tray"`
	LogLevel    string `json:"log_level"`
}

// DefaultVision returns the pipeline defaults.
func DefaultVision() Vision {
	return Vision{
		Camera:         "0",
		FrameWidth:     640,
		FrameHeight:    480,
		ModelPath:      "models/yolov8n.onnx",
		MinConfidence:  0.5,
		DepthModel:     "Intel/dpt-large",
		FocalLength:    DefaultFocalLength,
		MaxDepthMeters: DefaultMaxDepthMeters,
		Interval:       Duration{DefaultInterval},
		StoreURL:       DefaultStoreURL,
		Send:           SendPolicy{Timeout: Duration{DefaultSendTimeout}},
		QueueSize:      DefaultQueueSize,
		LogLevel:       "info",
	}
}

// Validate checks the pipeline configuration.
func (v Vision) Validate() error {
	if v.FocalLength <= 0 || math.IsNaN(v.FocalLength) || math.IsInf(v.FocalLength, 0) {
		return fmt.Errorf("%w: focal_length must be positive, got %v", ErrInvalidConfig, v.FocalLength)
	}
	for i, c := range v.CameraPosition {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: camera_position[%d] is not finite", ErrInvalidConfig, i)
		}
	}
	if v.Interval.Duration <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidConfig, v.Interval)
	}
	if v.MaxDepthMeters <= 0 || math.IsNaN(v.MaxDepthMeters) || math.IsInf(v.MaxDepthMeters, 0) {
		return fmt.Errorf("%w: max_depth_meters must be positive, got %v", ErrInvalidConfig, v.MaxDepthMeters)
	}
	if v.MinConfidence < 0 || v.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be between 0 and 1, got %v", ErrInvalidConfig, v.MinConfidence)
	}
	if v.FrameWidth <= 0 || v.FrameHeight <= 0 {
		return fmt.Errorf("%w: frame size must be positive, got %dx%d", ErrInvalidConfig, v.FrameWidth, v.FrameHeight)
	}
	if err := validateURL(v.StoreURL); err != nil {
		return err
	}
	if v.Send.MaxRetries < 0 {
		return fmt.Errorf("%w: send.max_retries must be >= 0, got %d", ErrInvalidConfig, v.Send.MaxRetries)
	}
	if v.Send.Backoff.Duration < 0 || v.Send.Timeout.Duration < 0 {
		return fmt.Errorf("%w: send durations must not be negative", ErrInvalidConfig)
	}
	if v.QueueSize < 0 {
		return fmt.Errorf("%w: queue_size must be >= 0, got %d", ErrInvalidConfig, v.QueueSize)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: store_url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: store_url must be http or https, got %q", ErrInvalidConfig, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: store_url has no host: %q", ErrInvalidConfig, raw)
	}
	return nil
}

// Store configures the position store service.
type Store struct {
	ListenAddr   string   `json:"listen_addr"`
	DBPath       string   `json:"db_path"`
	LiveInterval Duration `json:"live_interval"`
	LogLevel     string   `json:"log_level"`
}

// DefaultStore returns the store service defaults.
func DefaultStore() Store {
	return Store{
		ListenAddr:   DefaultListenAddr,
		DBPath:       DefaultDBPath,
		LiveInterval: Duration{DefaultLiveInterval},
		LogLevel:     "info",
	}
}

// Validate checks the store configuration.
func (s Store) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if s.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	}
	if s.LiveInterval.Duration <= 0 {
		return fmt.Errorf("%w: live_interval must be positive, got %s", ErrInvalidConfig, s.LiveInterval)
	}
	return nil
}

// LoadVisionFile reads a JSON file over the defaults. Fields omitted from
// the file keep their default values.
func LoadVisionFile(path string) (Vision, error) {
	cfg := DefaultVision()
	if err := loadJSON(path, &cfg); err != nil {
		return Vision{}, err
	}
	return cfg, nil
}

func loadJSON(path string, into any) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

// VisionFromEnv applies CTRLF_* overrides to cfg. Unparseable numeric
// values are reported rather than ignored.
func VisionFromEnv(cfg Vision) (Vision, error) {
	var errs []error

	cfg.Camera = getEnv("CTRLF_CAMERA", cfg.Camera)
	cfg.ModelPath = getEnv("CTRLF_MODEL_PATH", cfg.ModelPath)
	cfg.DepthScript = getEnv("CTRLF_DEPTH_SCRIPT", cfg.DepthScript)
	cfg.DepthPython = getEnv("CTRLF_DEPTH_PYTHON", cfg.DepthPython)
	cfg.DepthModel = getEnv("CTRLF_DEPTH_MODEL", cfg.DepthModel)
	cfg.StoreURL = getEnv("CTRLF_STORE_URL", cfg.StoreURL)
	cfg.Source = getEnv("CTRLF_SOURCE", cfg.Source)
	cfg.PreviewAddr = getEnv("CTRLF_PREVIEW_ADDR", cfg.PreviewAddr)
	cfg.LogLevel = getEnv("CTRLF_LOG_LEVEL", cfg.LogLevel)

	cfg.FocalLength = getEnvFloat("CTRLF_FOCAL_LENGTH", cfg.FocalLength, &errs)
	cfg.MaxDepthMeters = getEnvFloat("CTRLF_MAX_DEPTH", cfg.MaxDepthMeters, &errs)
	cfg.MinConfidence = getEnvFloat("CTRLF_MIN_CONFIDENCE", cfg.MinConfidence, &errs)
	cfg.Interval.Duration = getEnvDuration("CTRLF_INTERVAL", cfg.Interval.Duration, &errs)
	cfg.Send.MaxRetries = getEnvInt("CTRLF_SEND_RETRIES", cfg.Send.MaxRetries, &errs)
	cfg.Send.Timeout.Duration = getEnvDuration("CTRLF_SEND_TIMEOUT", cfg.Send.Timeout.Duration, &errs)
	cfg.QueueSize = getEnvInt("CTRLF_QUEUE_SIZE", cfg.QueueSize, &errs)

	if pos := os.Getenv("CTRLF_CAMERA_POSITION"); pos != "" {
		p, err := ParsePosition(pos)
		if err != nil {
			errs = append(errs, fmt.Errorf("CTRLF_CAMERA_POSITION: %w", err))
		} else {
			cfg.CameraPosition = p
		}
	}

	return cfg, errors.Join(errs...)
}

// StoreFromEnv applies CTRLF_* overrides to cfg.
func StoreFromEnv(cfg Store) (Store, error) {
	var errs []error
	cfg.ListenAddr = getEnv("CTRLF_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DBPath = getEnv("CTRLF_DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("CTRLF_LOG_LEVEL", cfg.LogLevel)
	cfg.LiveInterval.Duration = getEnvDuration("CTRLF_LIVE_INTERVAL", cfg.LiveInterval.Duration, &errs)
	return cfg, errors.Join(errs...)
}

// StoreURLFromEnv returns CTRLF_STORE_URL or the default store URL.
func StoreURLFromEnv() string {
	return getEnv("CTRLF_STORE_URL", DefaultStoreURL)
}

// ParsePosition parses "x,y,z".
func ParsePosition(s string) ([3]float64, error) {
	var p [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("position must be x,y,z, got %q", s)
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return p, fmt.Errorf("position component %d: %w", i, err)
		}
		p[i] = v
	}
	return p, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64, errs *[]error) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return f
}

func getEnvInt(key string, defaultVal int, errs *[]error) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration, errs *[]error) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return d
}
