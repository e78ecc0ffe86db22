// Package server provides the HTTP server for go-mudoa
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-mudoa/internal/beamformer"
	"github.com/teslashibe/go-mudoa/internal/config"
	"github.com/teslashibe/go-mudoa/internal/doa"
	"github.com/teslashibe/go-mudoa/internal/health"
)

// Deps are the pipeline components served over HTTP. Any of them may be nil;
// the routes that need a missing component answer 503.
type Deps struct {
	Bank    *beamformer.Bank
	Tracker *doa.Tracker
	Source  *doa.BeamformerSource
}

// Server is the HTTP server for go-mudoa
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	bank      *beamformer.Bank
	tracker   *doa.Tracker
	source    *doa.BeamformerSource
	health    *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg *config.Config, deps Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	bank := deps.Bank
	if bank == nil && deps.Source != nil {
		bank = deps.Source.Bank()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-mudoa",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		BodyLimit:             cfg.Server.BodyLimit,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		bank:      bank,
		tracker:   deps.Tracker,
		source:    deps.Source,
		health:    health.NewChecker(version),
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
	s.wsHub = NewWSHub(deps.Tracker, deps.Source, broadcastInterval(cfg.Server.BroadcastHz), logger)

	s.registerProbes()
	s.registerRoutes()

	return s
}

func broadcastInterval(hz int) time.Duration {
	if hz <= 0 {
		hz = 10
	}
	return time.Second / time.Duration(hz)
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	api.Get("/doa", s.doaHandler)
	api.Get("/doa/stream", s.wsHub.UpgradeHandler())
	api.Get("/beams", s.beamsHandler)
	api.Get("/power", s.powerHandler)
	api.Post("/estimate", s.estimateHandler)

	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

func (s *Server) registerProbes() {
	if s.source != nil {
		s.health.Register("acquisition", func() (bool, string) {
			if s.source.Healthy() {
				return true, s.source.Name()
			}
			return false, s.source.Name() + " not delivering"
		})
	}

	if s.tracker != nil {
		s.health.Register("tracker", func() (bool, string) {
			stats := s.tracker.Stats()
			if stats.ErrorCount > 0 && stats.PollCount == 0 {
				return false, fmt.Sprintf("%d failed polls", stats.ErrorCount)
			}
			return true, fmt.Sprintf("%d polls", stats.PollCount)
		})
	}
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	s.health.Refresh()
	status := s.health.GetStatus()

	code := fiber.StatusOK
	if status.Status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// doaHandler returns the current DOA reading
func (s *Server) doaHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "DOA tracker not available",
		})
	}

	return c.JSON(s.tracker.GetLatest())
}

// beamsHandler returns the steering table of the bank
func (s *Server) beamsHandler(c *fiber.Ctx) error {
	if s.bank == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "beam bank not available",
		})
	}

	return c.JSON(fiber.Map{
		"sampling_frequency": s.bank.SampleRate(),
		"window_duration":    s.bank.WindowDuration(),
		"window_samples":     s.bank.WindowSamples(),
		"fft_size":           s.bank.FFTSize(),
		"sound_speed":        s.bank.SoundSpeed(),
		"layout":             s.bank.Geometry().Layout.String(),
		"positions":          s.bank.Positions(),
		"beams":              s.bank.Beams(),
	})
}

// powerHandler returns the power matrix of the latest estimate
func (s *Server) powerHandler(c *fiber.Ctx) error {
	if s.source == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "beamformer source not available",
		})
	}

	pm := s.source.Latest()
	if pm == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no estimate yet",
		})
	}

	return c.JSON(fiber.Map{
		"angles":     s.source.Bank().Angles(),
		"matrix":     pm,
		"mean_power": pm.MeanPower(),
		"peak_beams": pm.PeakBeams(),
	})
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
			"broadcast_hz":     s.cfg.Server.BroadcastHz,
		},
		"array": fiber.Map{
			"mics":    s.cfg.Array.Mics,
			"spacing": s.cfg.Array.Spacing,
			"angle":   s.cfg.Array.Angle,
			"origin":  s.cfg.Array.OriginPoint(),
			"layout":  s.cfg.Array.Layout,
		},
		"beamformer": fiber.Map{
			"beams":              s.cfg.Beamformer.Beams,
			"sampling_frequency": s.cfg.Beamformer.SamplingFrequency,
			"window_duration":    s.cfg.Beamformer.WindowDuration,
			"sound_speed":        s.cfg.Beamformer.SoundSpeed,
			"activity_threshold": s.cfg.Beamformer.ActivityThreshold,
		},
		"acquisition": fiber.Map{
			"url":            s.cfg.Acquisition.URL,
			"counter":        s.cfg.Acquisition.Counter,
			"block_duration": s.cfg.Acquisition.BlockDuration,
			"queue_size":     s.cfg.Acquisition.QueueSize,
		},
		"tracker": fiber.Map{
			"poll_hz":           s.cfg.Tracker.PollHz,
			"activity_latch_ms": s.cfg.Tracker.ActivityLatchMs,
			"ema_alpha":         s.cfg.Tracker.EMAAlpha,
		},
	})
}

// statsHandler returns tracker and estimation statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tracker not available",
		})
	}

	return c.JSON(s.tracker.Stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("# no tracker available\n")
	}

	stats := s.tracker.Stats()

	var blocks, estimates uint64
	if s.source != nil {
		blocks, estimates = s.source.Counts()
	}

	metrics := fmt.Sprintf(`# HELP mudoa_doa_angle_radians Smoothed DOA angle in radians
# TYPE mudoa_doa_angle_radians gauge
mudoa_doa_angle_radians %f

# HELP mudoa_doa_beam Index of the loudest beam
# TYPE mudoa_doa_beam gauge
mudoa_doa_beam %d

# HELP mudoa_active Acoustic activity (1=active, 0=silent)
# TYPE mudoa_active gauge
mudoa_active %d

# HELP mudoa_doa_confidence DOA confidence score
# TYPE mudoa_doa_confidence gauge
mudoa_doa_confidence %f

# HELP mudoa_poll_count Total DOA polls
# TYPE mudoa_poll_count counter
mudoa_poll_count %d

# HELP mudoa_poll_errors Total DOA poll errors
# TYPE mudoa_poll_errors counter
mudoa_poll_errors %d

# HELP mudoa_avg_latency_ms Average poll latency in milliseconds
# TYPE mudoa_avg_latency_ms gauge
mudoa_avg_latency_ms %f

# HELP mudoa_blocks_total Acquisition blocks consumed
# TYPE mudoa_blocks_total counter
mudoa_blocks_total %d

# HELP mudoa_estimates_total Beam power estimates computed
# TYPE mudoa_estimates_total counter
mudoa_estimates_total %d

# HELP mudoa_source_healthy Acquisition health (1=healthy, 0=unhealthy)
# TYPE mudoa_source_healthy gauge
mudoa_source_healthy %d

# HELP mudoa_uptime_seconds Server uptime in seconds
# TYPE mudoa_uptime_seconds gauge
mudoa_uptime_seconds %d

# HELP mudoa_websocket_clients Current WebSocket client count
# TYPE mudoa_websocket_clients gauge
mudoa_websocket_clients %d
`,
		stats.CurrentAngle,
		stats.CurrentBeam,
		boolToInt(stats.ActiveLatched),
		stats.CurrentConfidence,
		stats.PollCount,
		stats.ErrorCount,
		stats.AvgLatencyMs,
		blocks,
		estimates,
		boolToInt(stats.SourceHealthy),
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
