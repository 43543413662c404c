package depth

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultIdleTimeout is how long the depth service may sit unused before the
// subprocess is shut down. It is restarted on the next Estimate.
const DefaultIdleTimeout = 30 * time.Second

// ServiceConfig configures the subprocess depth estimator.
type ServiceConfig struct {
	// Script is the path to the Python DPT service. Empty means search the
	// usual locations.
	Script string
	// Python is the interpreter. Empty means a virtualenv python if one is
	// found, else python3.
	Python string
	// Model is passed to the script as --model (e.g. "Intel/dpt-large").
	Model       string
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// ServiceEstimator implements Estimator using a Python DPT subprocess.
//
// Protocol: for each frame a 4-byte big-endian length followed by the JPEG
// bytes is written to stdin; the service answers with one JSON line
// {"width":W,"height":H,"data":[...]} holding the model-resolution depth map
// in row-major order, or {"error":"..."}.
type ServiceEstimator struct {
	config    ServiceConfig
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewServiceEstimator locates the service script. The subprocess is started
// lazily on first use.
func NewServiceEstimator(config ServiceConfig) (*ServiceEstimator, error) {
	script := config.Script
	if script == "" {
		script = findScript("depth_service.py")
	}
	if script == "" {
		return nil, errors.New("depth_service.py not found")
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("depth service script: %w", err)
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &ServiceEstimator{config: config, script: script}, nil
}

// Estimate sends the frame to the service and returns a depth map resized to
// the frame's dimensions.
func (e *ServiceEstimator) Estimate(frame *gocv.Mat) (*Map, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	raw, err := e.roundTrip(buf.GetBytes())
	if err != nil {
		return nil, err
	}

	return Resize(raw, frame.Cols(), frame.Rows())
}

func (e *ServiceEstimator) roundTrip(jpeg []byte) (*Map, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return nil, err
	}

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(jpeg)))

	if _, err := e.stdin.Write(length); err != nil {
		e.shutdown()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := e.stdin.Write(jpeg); err != nil {
		e.shutdown()
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	e.resetIdleTimer()

	return decodeResponse(line)
}

type serviceResponse struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   []float32 `json:"data"`
	Error  string    `json:"error,omitempty"`
}

func decodeResponse(line []byte) (*Map, error) {
	var resp serviceResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("depth service: %s", resp.Error)
	}
	if resp.Width <= 0 || resp.Height <= 0 || len(resp.Data) != resp.Width*resp.Height {
		return nil, fmt.Errorf("depth service returned %dx%d map with %d values", resp.Width, resp.Height, len(resp.Data))
	}
	for i, v := range resp.Data {
		if v < 0 {
			resp.Data[i] = 0
		}
	}
	return &Map{Width: resp.Width, Height: resp.Height, Data: resp.Data}, nil
}

// Close shuts down the Python process.
func (e *ServiceEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown()
}

func (e *ServiceEstimator) ensureStarted() error {
	if e.started {
		return nil
	}

	python := e.config.Python
	if python == "" {
		python = findScript(filepath.Join("venv", "bin", "python"))
	}
	if python == "" {
		python = "python3"
	}

	args := []string{e.script}
	if e.config.Model != "" {
		args = append(args, "--model", e.config.Model)
	}
	e.cmd = exec.Command(python, args...)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Model loading progress goes to stderr
	e.cmd.Stderr = os.Stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start depth service: %w", err)
	}

	e.stdin = stdin
	e.stdout = bufio.NewReaderSize(stdout, 1<<20)
	e.started = true
	e.config.Logger.Info("depth service started", "script", e.script, "pid", e.cmd.Process.Pid)

	return nil
}

func (e *ServiceEstimator) shutdown() error {
	if !e.started {
		return nil
	}

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}

	if e.stdin != nil {
		e.stdin.Close()
	}

	err := e.cmd.Wait()
	e.started = false
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil

	e.config.Logger.Info("depth service stopped")
	return err
}

func (e *ServiceEstimator) resetIdleTimer() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(e.config.IdleTimeout, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.shutdown()
	})
}

// findScript looks for name relative to the working directory, the
// executable and ~/.ctrlf, returning the first absolute match.
func findScript(name string) string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		name,
		filepath.Join("..", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(execDir, name),
		filepath.Join(os.Getenv("HOME"), ".ctrlf", "scripts", name),
		filepath.Join(os.Getenv("HOME"), ".ctrlf", name),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
