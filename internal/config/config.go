// Package config provides configuration management for livecore using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultBitrateRegulatorInterval     = 500 * time.Millisecond
	defaultBitrateStepDown              = 0.8
	defaultBitrateStepUp                = 1.1
	defaultBitrateLossThresholdPercent  = 5.0
	defaultBitrateConsecutiveLowWindows = 2
	defaultMinVideoBitrateBps           = 300_000
	defaultMaxVideoBitrateBps           = 20_000_000
	defaultSinkConnectionTimeout        = 5 * time.Second
	defaultSRTPayloadSize               = 1316
	defaultEncoderInputQueueDepth       = 16
	defaultCompositorQueueDepth         = 8
	defaultSnapshotTimeout              = 2 * time.Second
	defaultTSPATInterval                = 40
	defaultTSSDTInterval                = 200
	defaultTSPacketsPerBatch            = 7
)

// Config holds all configuration for the application.
type Config struct {
	Logging    LoggingConfig          `mapstructure:"logging"`
	Buffer     BufferPoolConfig       `mapstructure:"buffer"`
	Compositor CompositorConfig       `mapstructure:"compositor"`
	Encoder    EncoderConfig          `mapstructure:"encoder"`
	Bitrate    BitrateRegulatorConfig `mapstructure:"bitrate"`
	Sink       SinkConfig             `mapstructure:"sink"`
	Muxer      MuxerConfig            `mapstructure:"muxer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BufferPoolConfig holds the recyclable byte-buffer pool configuration (C2).
type BufferPoolConfig struct {
	// Classes lists the capacity classes, in ascending order, that the pool maintains.
	Classes []int `mapstructure:"classes"`
	// MaxIdlePerClass caps the number of idle buffers retained per class (0 = unbounded).
	MaxIdlePerClass int `mapstructure:"max_idle_per_class"`
	// MaxTotalBytes is a soft cap across all classes; allocation beyond it falls back
	// to the system allocator rather than blocking.
	MaxTotalBytes ByteSize `mapstructure:"max_total_bytes"`
}

// CompositorConfig holds surface-compositor configuration (C4).
type CompositorConfig struct {
	// WorkerQueueDepth bounds the GL-thread actor mailbox.
	WorkerQueueDepth int `mapstructure:"worker_queue_depth"`
	// SnapshotTimeout bounds how long a snapshot request waits for the GL thread.
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
}

// EncoderConfig holds encoder wrapper configuration (C5).
type EncoderConfig struct {
	// InputQueueDepth bounds the encoder-to-muxer back-pressure channel (design note, §9).
	InputQueueDepth int `mapstructure:"input_queue_depth"`
}

// BitrateRegulatorConfig holds bitrate regulator configuration (C6).
type BitrateRegulatorConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	StepDownFactor        float64       `mapstructure:"step_down_factor"`
	StepUpFactor          float64       `mapstructure:"step_up_factor"`
	LossThresholdPercent  float64       `mapstructure:"loss_threshold_percent"`
	ConsecutiveLowWindows int           `mapstructure:"consecutive_low_windows"`
	MinVideoBitrateBps    int           `mapstructure:"min_video_bitrate_bps"`
	MaxVideoBitrateBps    int           `mapstructure:"max_video_bitrate_bps"`
}

// SinkConfig holds sink configuration (C8).
type SinkConfig struct {
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	SRT               SRTSinkConfig `mapstructure:"srt"`
}

// SRTSinkConfig holds SRT-specific sink defaults.
type SRTSinkConfig struct {
	PayloadSize int `mapstructure:"payload_size"`
}

// MuxerConfig holds muxer configuration (C7).
type MuxerConfig struct {
	TS TSMuxerConfig `mapstructure:"ts"`
}

// TSMuxerConfig holds MPEG-TS cadence configuration (spec §4.5.1).
type TSMuxerConfig struct {
	PATInterval     int `mapstructure:"pat_interval"`
	SDTInterval     int `mapstructure:"sdt_interval"`
	PacketsPerBatch int `mapstructure:"packets_per_batch"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with LIVECORE_ and use underscores for nesting.
// Example: LIVECORE_BITRATE_INTERVAL=500ms.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/livecore")
		v.AddConfigPath("$HOME/.livecore")
	}

	v.SetEnvPrefix("LIVECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("buffer.classes", []int{4096, 65536, 1048576, 4194304})
	v.SetDefault("buffer.max_idle_per_class", 64)
	v.SetDefault("buffer.max_total_bytes", "256MB")

	v.SetDefault("compositor.worker_queue_depth", defaultCompositorQueueDepth)
	v.SetDefault("compositor.snapshot_timeout", defaultSnapshotTimeout)

	v.SetDefault("encoder.input_queue_depth", defaultEncoderInputQueueDepth)

	v.SetDefault("bitrate.interval", defaultBitrateRegulatorInterval)
	v.SetDefault("bitrate.step_down_factor", defaultBitrateStepDown)
	v.SetDefault("bitrate.step_up_factor", defaultBitrateStepUp)
	v.SetDefault("bitrate.loss_threshold_percent", defaultBitrateLossThresholdPercent)
	v.SetDefault("bitrate.consecutive_low_windows", defaultBitrateConsecutiveLowWindows)
	v.SetDefault("bitrate.min_video_bitrate_bps", defaultMinVideoBitrateBps)
	v.SetDefault("bitrate.max_video_bitrate_bps", defaultMaxVideoBitrateBps)

	v.SetDefault("sink.connection_timeout", defaultSinkConnectionTimeout)
	v.SetDefault("sink.srt.payload_size", defaultSRTPayloadSize)

	v.SetDefault("muxer.ts.pat_interval", defaultTSPATInterval)
	v.SetDefault("muxer.ts.sdt_interval", defaultTSSDTInterval)
	v.SetDefault("muxer.ts.packets_per_batch", defaultTSPacketsPerBatch)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Bitrate.StepDownFactor <= 0 || c.Bitrate.StepDownFactor >= 1 {
		return fmt.Errorf("bitrate.step_down_factor must be in (0, 1)")
	}
	if c.Bitrate.StepUpFactor <= 1 {
		return fmt.Errorf("bitrate.step_up_factor must be > 1")
	}
	if c.Bitrate.MinVideoBitrateBps <= 0 || c.Bitrate.MaxVideoBitrateBps <= c.Bitrate.MinVideoBitrateBps {
		return fmt.Errorf("bitrate.min_video_bitrate_bps must be positive and less than max_video_bitrate_bps")
	}

	if c.Muxer.TS.PATInterval < 1 || c.Muxer.TS.SDTInterval < 1 || c.Muxer.TS.PacketsPerBatch < 1 {
		return fmt.Errorf("muxer.ts cadence fields must be positive")
	}

	return nil
}
