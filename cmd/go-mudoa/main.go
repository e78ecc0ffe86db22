// go-mudoa: direction of arrival daemon for MEMS microphone arrays
// Streams beamformer DOA estimates over HTTP and WebSocket
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-mudoa/internal/acquisition"
	"github.com/teslashibe/go-mudoa/internal/beamformer"
	"github.com/teslashibe/go-mudoa/internal/config"
	"github.com/teslashibe/go-mudoa/internal/doa"
	"github.com/teslashibe/go-mudoa/internal/server"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-mudoa/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use the synthetic array instead of the acquisition server")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-mudoa %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-mudoa",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	geometry, err := buildGeometry(cfg.Array)
	if err != nil {
		logger.Error("invalid array geometry", "error", err)
		os.Exit(1)
	}

	bank, err := beamformer.Build(geometry,
		cfg.Beamformer.Beams,
		cfg.Beamformer.SamplingFrequency,
		cfg.Beamformer.WindowDuration,
		beamformer.WithSoundSpeed(cfg.Beamformer.SoundSpeed),
	)
	if err != nil {
		logger.Error("failed to build beam bank", "error", err)
		os.Exit(1)
	}

	logger.Info("beam bank ready",
		"beams", bank.NumBeams(),
		"mics", bank.NumMics(),
		"window_samples", bank.WindowSamples(),
		"fft_size", bank.FFTSize(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acqCfg := acquisitionConfig(cfg)

	var acq acquisition.Source
	if *useMock {
		logger.Info("using mock acquisition source")
		acq = acquisition.NewMockSource(acqCfg, geometry)
	} else {
		acq = acquisition.NewSourceWithFallback(ctx, acqCfg, geometry, logger)
	}

	source := doa.NewBeamformerSource(bank, acq, cfg.Beamformer.ActivityThreshold, logger)
	defer source.Close()

	logger.Info("DOA source ready",
		"type", source.Name(),
		"healthy", source.Healthy(),
	)

	tracker := doa.NewTracker(source, trackerConfig(cfg.Tracker), logger)

	go func() {
		if err := tracker.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("tracker error", "error", err)
		}
	}()

	srv := server.New(cfg, server.Deps{Bank: bank, Tracker: tracker, Source: source}, logger, version)

	go srv.WSHub().Run(ctx)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	printStartupBanner(cfg, bank, version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> tracker -> acquisition
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("stopping tracker...")
	tracker.Stop()

	logger.Info("go-mudoa stopped")
}

func buildGeometry(cfg config.ArrayConfig) (beamformer.Geometry, error) {
	layout, err := beamformer.ParseLayout(cfg.Layout)
	if err != nil {
		return beamformer.Geometry{}, err
	}

	g := beamformer.Geometry{
		Origin:  cfg.OriginPoint(),
		Mics:    cfg.Mics,
		Angle:   doa.Radians(cfg.Angle),
		Spacing: cfg.Spacing,
		Layout:  layout,
	}
	return g, g.Validate()
}

func acquisitionConfig(cfg *config.Config) acquisition.Config {
	a := cfg.Acquisition

	return acquisition.Config{
		SampleRate:    cfg.Beamformer.SamplingFrequency,
		BlockDuration: a.BlockDuration,
		QueueSize:     a.QueueSize,
		Remote: acquisition.RemoteConfig{
			URL:              a.URL,
			Mems:             a.Mems,
			Counter:          a.Counter,
			CounterSkip:      a.CounterSkip,
			Duration:         a.Duration,
			BuffersNumber:    a.BuffersNumber,
			ReconnectBackoff: a.ReconnectDelay,
			MaxBackoff:       a.MaxReconnectDelay,
		},
		Mock: acquisition.MockConfig{
			Frequency: a.Mock.Frequency,
			Amplitude: a.Mock.Amplitude,
			Noise:     a.Mock.Noise,
			Angle:     doa.Radians(a.Mock.Angle),
			Sweep:     a.Mock.Sweep,
			Realtime:  true,
		},
	}
}

func trackerConfig(cfg config.TrackerConfig) doa.TrackerConfig {
	return doa.TrackerConfig{
		PollInterval:   time.Second / time.Duration(cfg.PollHz),
		ActivityLatch:  time.Duration(cfg.ActivityLatchMs) * time.Millisecond,
		EMAAlpha:       cfg.EMAAlpha,
		HistorySize:    cfg.HistorySize,
		StabilityLimit: cfg.StabilityLimit,
		Confidence: doa.ConfidenceConfig{
			Base:           cfg.Confidence.Base,
			ActivityBonus:  cfg.Confidence.ActivityBonus,
			StabilityBonus: cfg.Confidence.StabilityBonus,
		},
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, bank *beamformer.Bank, version string) {
	lo, hi := bank.Geometry().FieldOfView()

	fmt.Println()
	fmt.Println("🎙  go-mudoa v" + version)
	fmt.Printf("   %d mics, %d beams over [%.0f°, %.0f°], %.0f Hz\n",
		bank.NumMics(), bank.NumBeams(), doa.Degrees(lo), doa.Degrees(hi), bank.SampleRate())
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health          - Health check")
	fmt.Println("   GET  /api/doa         - Current DOA reading")
	fmt.Println("   WS   /api/doa/stream  - Real-time DOA stream (?format=msgpack)")
	fmt.Println("   GET  /api/beams       - Steering table")
	fmt.Println("   GET  /api/power       - Latest beam power matrix")
	fmt.Println("   POST /api/estimate    - Estimate a raw int32 block")
	fmt.Println("   GET  /api/stats       - Tracker statistics")
	fmt.Println("   GET  /metrics         - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
