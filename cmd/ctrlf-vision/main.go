// Command ctrlf-vision runs the capture pipeline: it detects objects in
// camera frames, estimates their 3D position and reports them to the
// position store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/emiilyxie/ctrlf/internal/app"
	"github.com/emiilyxie/ctrlf/internal/capture"
	"github.com/emiilyxie/ctrlf/internal/client"
	"github.com/emiilyxie/ctrlf/internal/config"
	"github.com/emiilyxie/ctrlf/internal/depth"
	"github.com/emiilyxie/ctrlf/internal/detector"
	"github.com/emiilyxie/ctrlf/internal/emitter"
	"github.com/emiilyxie/ctrlf/internal/geometry"
	"github.com/emiilyxie/ctrlf/internal/httputil"
	"github.com/emiilyxie/ctrlf/internal/log"
	"github.com/emiilyxie/ctrlf/internal/preview"
	"github.com/emiilyxie/ctrlf/internal/timeutil"
	"github.com/emiilyxie/ctrlf/internal/tray"
)

// The tray must own the main thread on macOS.
func init() {
	runtime.LockOSThread()
}

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ctrlf-vision: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel)
	if err := run(cfg, log.L()); err != nil {
		log.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Vision, logger *slog.Logger) error {
	if cfg.Source == "" {
		cfg.Source = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}

	yoloCfg := detector.DefaultYOLOConfig()
	yoloCfg.ModelPath = cfg.ModelPath
	yoloCfg.MinConfidence = float32(cfg.MinConfidence)
	det, err := detector.NewYOLO(yoloCfg)
	if err != nil {
		return fmt.Errorf("load detector: %w", err)
	}

	est, err := depth.NewServiceEstimator(depth.ServiceConfig{
		Script: cfg.DepthScript,
		Python: cfg.DepthPython,
		Model:  cfg.DepthModel,
		Logger: logger,
	})
	if err != nil {
		det.Close()
		return fmt.Errorf("load depth estimator: %w", err)
	}

	storeClient, err := client.New(cfg.StoreURL, httputil.NewClient(httputil.DefaultTimeout))
	if err != nil {
		det.Close()
		est.Close()
		return err
	}

	var sink emitter.Sink = emitter.WithPolicy(storeClient, emitter.SendPolicy{
		MaxRetries: cfg.Send.MaxRetries,
		Backoff:    cfg.Send.Backoff.Duration,
		Timeout:    cfg.Send.Timeout.Duration,
	}, clock)

	var async *emitter.AsyncSink
	if cfg.QueueSize > 0 {
		async = emitter.NewAsyncSink(sink, cfg.QueueSize, logger)
		sink = async
	}

	deps := app.Deps{
		Camera:    capture.NewCamera(capture.ParseSource(cfg.Camera), cfg.FrameWidth, cfg.FrameHeight),
		Detector:  det,
		Estimator: est,
		Sink:      sink,
		Clock:     clock,
		Logger:    logger,
	}

	var previewSrv *http.Server
	if cfg.PreviewAddr != "" {
		b := preview.NewBroadcaster(logger)
		deps.Preview = b
		previewSrv = &http.Server{
			Addr:              cfg.PreviewAddr,
			Handler:           preview.NewHandler(b).Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	a, err := app.New(deps, app.Options{
		Camera: geometry.Camera{
			FocalLength: cfg.FocalLength,
			Position:    r3.Vec{X: cfg.CameraPosition[0], Y: cfg.CameraPosition[1], Z: cfg.CameraPosition[2]},
		},
		Interval:       cfg.Interval.Duration,
		MaxDepthMeters: cfg.MaxDepthMeters,
		MinConfidence:  cfg.MinConfidence,
		Source:         cfg.Source,
	})
	if err != nil {
		det.Close()
		est.Close()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("error releasing pipeline", "error", err)
		}
		if async != nil {
			async.Close()
			delivered, failed, dropped := async.Stats()
			logger.Info("send queue drained", "delivered", delivered, "failed", failed, "dropped", dropped)
		}
	}()

	if previewSrv != nil {
		go func() {
			logger.Info("preview listening", "addr", cfg.PreviewAddr)
			if err := previewSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("preview server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			previewSrv.Shutdown(shutdownCtx)
		}()
	}

	if !cfg.Tray {
		return a.Run(ctx)
	}

	t := tray.New()
	t.OnToggle(a.SetEnabled)
	t.OnQuit(stop)
	if cfg.PreviewAddr != "" {
		t.OnPreview(func() { openBrowser(previewURL(cfg.PreviewAddr), logger) })
	}
	a.SetOnResult(func(res emitter.Result) {
		labels := make([]string, 0, len(res.Records))
		for _, rec := range res.Records {
			labels = append(labels, rec.Name)
		}
		t.SetLast(labels)
	})

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
		t.Quit()
	}()

	t.Run()
	stop()
	return <-done
}

func previewURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/stream"
}

func openBrowser(url string, logger *slog.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.Warn("failed to open preview", "url", url, "error", err)
	}
}
