package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/emiilyxie/ctrlf/internal/config"
)

// loadConfig resolves the pipeline configuration. Later sources win:
// defaults, then the -config file, then CTRLF_* variables, then flags
// given explicitly on the command line.
func loadConfig(args []string, stderr io.Writer) (config.Vision, error) {
	fs := flag.NewFlagSet("ctrlf-vision", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		flagCfg  = config.DefaultVision()
		path     = fs.String("config", "", "JSON config file")
		position = fs.String("position", "", "camera position in world units as x,y,z")
	)
	fs.StringVar(&flagCfg.Camera, "camera", flagCfg.Camera, "camera index, video file or stream URL")
	fs.IntVar(&flagCfg.FrameWidth, "width", flagCfg.FrameWidth, "capture width")
	fs.IntVar(&flagCfg.FrameHeight, "height", flagCfg.FrameHeight, "capture height")
	fs.StringVar(&flagCfg.ModelPath, "model", flagCfg.ModelPath, "YOLO ONNX model path")
	fs.Float64Var(&flagCfg.MinConfidence, "min-confidence", flagCfg.MinConfidence, "minimum detection confidence")
	fs.StringVar(&flagCfg.DepthScript, "depth-script", flagCfg.DepthScript, "path to depth_service.py")
	fs.StringVar(&flagCfg.DepthModel, "depth-model", flagCfg.DepthModel, "depth model name")
	fs.Float64Var(&flagCfg.FocalLength, "focal", flagCfg.FocalLength, "focal length in pixels")
	fs.Float64Var(&flagCfg.MaxDepthMeters, "max-depth", flagCfg.MaxDepthMeters, "depth in meters of the farthest raw value")
	fs.DurationVar(&flagCfg.Interval.Duration, "interval", flagCfg.Interval.Duration, "minimum time between processed frames")
	fs.StringVar(&flagCfg.StoreURL, "store", flagCfg.StoreURL, "position store base URL")
	fs.IntVar(&flagCfg.Send.MaxRetries, "retries", flagCfg.Send.MaxRetries, "extra send attempts per record")
	fs.IntVar(&flagCfg.QueueSize, "queue", flagCfg.QueueSize, "async send queue size, 0 sends inline")
	fs.StringVar(&flagCfg.Source, "source", flagCfg.Source, "source id attached to records")
	fs.StringVar(&flagCfg.PreviewAddr, "preview-addr", flagCfg.PreviewAddr, "serve an annotated MJPEG preview on this address")
	fs.BoolVar(&flagCfg.Tray, "tray", flagCfg.Tray, "show a system tray control")
	fs.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return config.Vision{}, err
	}

	cfg := config.DefaultVision()
	if *path != "" {
		var err error
		if cfg, err = config.LoadVisionFile(*path); err != nil {
			return config.Vision{}, err
		}
	}

	cfg, err := config.VisionFromEnv(cfg)
	if err != nil {
		return config.Vision{}, err
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.Camera = flagCfg.Camera
		case "width":
			cfg.FrameWidth = flagCfg.FrameWidth
		case "height":
			cfg.FrameHeight = flagCfg.FrameHeight
		case "model":
			cfg.ModelPath = flagCfg.ModelPath
		case "min-confidence":
			cfg.MinConfidence = flagCfg.MinConfidence
		case "depth-script":
			cfg.DepthScript = flagCfg.DepthScript
		case "depth-model":
			cfg.DepthModel = flagCfg.DepthModel
		case "focal":
			cfg.FocalLength = flagCfg.FocalLength
		case "max-depth":
			cfg.MaxDepthMeters = flagCfg.MaxDepthMeters
		case "interval":
			cfg.Interval = flagCfg.Interval
		case "store":
			cfg.StoreURL = flagCfg.StoreURL
		case "retries":
			cfg.Send.MaxRetries = flagCfg.Send.MaxRetries
		case "queue":
			cfg.QueueSize = flagCfg.QueueSize
		case "source":
			cfg.Source = flagCfg.Source
		case "preview-addr":
			cfg.PreviewAddr = flagCfg.PreviewAddr
		case "tray":
			cfg.Tray = flagCfg.Tray
		case "log-level":
			cfg.LogLevel = flagCfg.LogLevel
		case "position":
			p, err := config.ParsePosition(*position)
			if err != nil {
				flagErr = fmt.Errorf("-position: %w", err)
				return
			}
			cfg.CameraPosition = p
		}
	})
	if flagErr != nil {
		return config.Vision{}, flagErr
	}

	if err := cfg.Validate(); err != nil {
		return config.Vision{}, err
	}
	return cfg, nil
}
