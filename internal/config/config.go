// Package config provides configuration management for go-mudoa
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Array       ArrayConfig       `mapstructure:"array"`
	Beamformer  BeamformerConfig  `mapstructure:"beamformer"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Tracker     TrackerConfig     `mapstructure:"tracker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	BroadcastHz     int           `mapstructure:"broadcast_hz"`
	BodyLimit       int           `mapstructure:"body_limit"` // Max POST /api/estimate size in bytes
}

// ArrayConfig describes the microphone array
type ArrayConfig struct {
	Mics    int       `mapstructure:"mics"`
	Spacing float64   `mapstructure:"spacing"` // Meters between neighbouring microphones
	Angle   float64   `mapstructure:"angle"`   // Axis rotation in degrees
	Origin  []float64 `mapstructure:"origin"`  // Array center (x, y, z) in meters
	Layout  string    `mapstructure:"layout"`  // linear, circular
}

// BeamformerConfig configures the beam bank
type BeamformerConfig struct {
	Beams             int     `mapstructure:"beams"`
	SamplingFrequency float64 `mapstructure:"sampling_frequency"` // Hz
	WindowDuration    float64 `mapstructure:"window_duration"`    // Seconds
	SoundSpeed        float64 `mapstructure:"sound_speed"`        // m/s
	ActivityThreshold float64 `mapstructure:"activity_threshold"` // Beam power marking activity
}

// AcquisitionConfig configures the signal source
type AcquisitionConfig struct {
	URL               string        `mapstructure:"url"` // Acquisition server, empty for mock
	Mems              []int         `mapstructure:"mems"`
	Counter           bool          `mapstructure:"counter"`
	CounterSkip       bool          `mapstructure:"counter_skip"`
	Duration          float64       `mapstructure:"duration"`
	BuffersNumber     int           `mapstructure:"buffers_number"`
	BlockDuration     float64       `mapstructure:"block_duration"` // Seconds per transfer buffer
	QueueSize         int           `mapstructure:"queue_size"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`

	Mock MockConfig `mapstructure:"mock"`
}

// MockConfig configures the synthetic source
type MockConfig struct {
	Frequency float64 `mapstructure:"frequency"`
	Amplitude float64 `mapstructure:"amplitude"`
	Noise     float64 `mapstructure:"noise"`
	Angle     float64 `mapstructure:"angle"` // Degrees
	Sweep     bool    `mapstructure:"sweep"`
}

// TrackerConfig configures DOA tracking
type TrackerConfig struct {
	PollHz          int     `mapstructure:"poll_hz"`
	ActivityLatchMs int     `mapstructure:"activity_latch_ms"`
	EMAAlpha        float64 `mapstructure:"ema_alpha"`
	HistorySize     int     `mapstructure:"history_size"`
	StabilityLimit  float64 `mapstructure:"stability_limit"`

	Confidence ConfidenceConfig `mapstructure:"confidence"`
}

// ConfidenceConfig configures confidence scoring
type ConfidenceConfig struct {
	Base           float64 `mapstructure:"base"`
	ActivityBonus  float64 `mapstructure:"activity_bonus"`
	StabilityBonus float64 `mapstructure:"stability_bonus"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
			BroadcastHz:     10,
			BodyLimit:       64 << 20,
		},
		Array: ArrayConfig{
			Mics:    8,
			Spacing: 0.045,
			Origin:  []float64{0, 0, 0},
			Layout:  "linear",
		},
		Beamformer: BeamformerConfig{
			Beams:             8,
			SamplingFrequency: 50000,
			WindowDuration:    0.1,
			SoundSpeed:        340.29,
			ActivityThreshold: 1e-4,
		},
		Acquisition: AcquisitionConfig{
			BuffersNumber:     8,
			BlockDuration:     0.1,
			QueueSize:         16,
			ReconnectDelay:    1 * time.Second,
			MaxReconnectDelay: 30 * time.Second,
			Mock: MockConfig{
				Frequency: 1000,
				Amplitude: 0.5,
				Noise:     0.01,
			},
		},
		Tracker: TrackerConfig{
			PollHz:          10,
			ActivityLatchMs: 500,
			EMAAlpha:        0.3,
			HistorySize:     100,
			StabilityLimit:  0.01,
			Confidence: ConfidenceConfig{
				Base:           0.3,
				ActivityBonus:  0.4,
				StabilityBonus: 0.2,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Config file not found is okay, use defaults
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("MUDOA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")
	v.SetDefault("server.broadcast_hz", d.Server.BroadcastHz)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)

	// Array defaults
	v.SetDefault("array.mics", d.Array.Mics)
	v.SetDefault("array.spacing", d.Array.Spacing)
	v.SetDefault("array.angle", d.Array.Angle)
	v.SetDefault("array.origin", d.Array.Origin)
	v.SetDefault("array.layout", d.Array.Layout)

	// Beamformer defaults
	v.SetDefault("beamformer.beams", d.Beamformer.Beams)
	v.SetDefault("beamformer.sampling_frequency", d.Beamformer.SamplingFrequency)
	v.SetDefault("beamformer.window_duration", d.Beamformer.WindowDuration)
	v.SetDefault("beamformer.sound_speed", d.Beamformer.SoundSpeed)
	v.SetDefault("beamformer.activity_threshold", d.Beamformer.ActivityThreshold)

	// Acquisition defaults
	v.SetDefault("acquisition.url", "")
	v.SetDefault("acquisition.counter", false)
	v.SetDefault("acquisition.counter_skip", false)
	v.SetDefault("acquisition.duration", 0.0)
	v.SetDefault("acquisition.buffers_number", d.Acquisition.BuffersNumber)
	v.SetDefault("acquisition.block_duration", d.Acquisition.BlockDuration)
	v.SetDefault("acquisition.queue_size", d.Acquisition.QueueSize)
	v.SetDefault("acquisition.reconnect_delay", "1s")
	v.SetDefault("acquisition.max_reconnect_delay", "30s")
	v.SetDefault("acquisition.mock.frequency", d.Acquisition.Mock.Frequency)
	v.SetDefault("acquisition.mock.amplitude", d.Acquisition.Mock.Amplitude)
	v.SetDefault("acquisition.mock.noise", d.Acquisition.Mock.Noise)
	v.SetDefault("acquisition.mock.angle", 0.0)
	v.SetDefault("acquisition.mock.sweep", false)

	// Tracker defaults
	v.SetDefault("tracker.poll_hz", d.Tracker.PollHz)
	v.SetDefault("tracker.activity_latch_ms", d.Tracker.ActivityLatchMs)
	v.SetDefault("tracker.ema_alpha", d.Tracker.EMAAlpha)
	v.SetDefault("tracker.history_size", d.Tracker.HistorySize)
	v.SetDefault("tracker.stability_limit", d.Tracker.StabilityLimit)
	v.SetDefault("tracker.confidence.base", d.Tracker.Confidence.Base)
	v.SetDefault("tracker.confidence.activity_bonus", d.Tracker.Confidence.ActivityBonus)
	v.SetDefault("tracker.confidence.stability_bonus", d.Tracker.Confidence.StabilityBonus)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.BroadcastHz < 1 || c.Server.BroadcastHz > 100 {
		return fmt.Errorf("broadcast_hz must be between 1 and 100, got %d", c.Server.BroadcastHz)
	}

	if c.Array.Mics < 2 {
		return fmt.Errorf("array needs at least 2 mics, got %d", c.Array.Mics)
	}

	if !(c.Array.Spacing > 0) {
		return fmt.Errorf("array spacing must be > 0, got %f", c.Array.Spacing)
	}

	if len(c.Array.Origin) != 0 && len(c.Array.Origin) != 3 {
		return fmt.Errorf("array origin must have 3 coordinates, got %d", len(c.Array.Origin))
	}

	switch strings.ToLower(c.Array.Layout) {
	case "", "linear", "circular":
	default:
		return fmt.Errorf("unknown array layout %q", c.Array.Layout)
	}

	if c.Beamformer.Beams < 1 {
		return fmt.Errorf("beams must be >= 1, got %d", c.Beamformer.Beams)
	}

	if !(c.Beamformer.SamplingFrequency > 0) || !(c.Beamformer.WindowDuration > 0) {
		return fmt.Errorf("sampling_frequency and window_duration must be > 0")
	}

	if math.Round(c.Beamformer.SamplingFrequency*c.Beamformer.WindowDuration) < 1 {
		return fmt.Errorf("window_duration %gs holds no sample at %g Hz",
			c.Beamformer.WindowDuration, c.Beamformer.SamplingFrequency)
	}

	if !(c.Beamformer.SoundSpeed > 0) {
		return fmt.Errorf("sound_speed must be > 0, got %f", c.Beamformer.SoundSpeed)
	}

	if !(c.Acquisition.BlockDuration > 0) {
		return fmt.Errorf("block_duration must be > 0, got %f", c.Acquisition.BlockDuration)
	}

	if len(c.Acquisition.Mems) != 0 && len(c.Acquisition.Mems) != c.Array.Mics {
		return fmt.Errorf("acquisition lists %d mems for a %d mic array", len(c.Acquisition.Mems), c.Array.Mics)
	}

	if c.Tracker.PollHz < 1 || c.Tracker.PollHz > 100 {
		return fmt.Errorf("poll_hz must be between 1 and 100, got %d", c.Tracker.PollHz)
	}

	if c.Tracker.EMAAlpha < 0 || c.Tracker.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be between 0 and 1, got %f", c.Tracker.EMAAlpha)
	}

	return nil
}

// OriginPoint returns the array origin, defaulting to (0, 0, 0)
func (a ArrayConfig) OriginPoint() [3]float64 {
	var o [3]float64
	copy(o[:], a.Origin)
	return o
}
