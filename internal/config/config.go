// Package config loads runtime configuration for the corehostd engine
// process: CLI flags override environment variables, which override
// built-in defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the engine process.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	// Core engine surface (spec §6 configuration table).
	SampleRate          int
	BlockSize           int
	RTQueueCapacity     int
	DispatcherTickMS    int
	WorkerTickMS        int
	TimingReportInterval int // seconds

	// Late-event policy (resolves spec §9 open question; see SPEC_FULL.md).
	LateEventPolicy string // "drop" or "deliver_asap"

	// Ambient / domain-stack additions.
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string
	CORSOrigins string
	JWTSecret   string // hex-encoded 32-byte secret for admin API bearer tokens

	// Offline WAV backend (cmd/corehostd demo I/O collaborator).
	InputWAV  string
	OutputWAV string
}

// defaults
const (
	defaultSampleRate           = 48000
	defaultBlockSize            = 64
	defaultRTQueueCapacity      = 1024
	defaultDispatcherTickMS     = 1
	defaultWorkerTickMS         = 10
	defaultTimingReportInterval = 5
	defaultLateEventPolicy      = "deliver_asap"
	defaultDataDir              = "./data"
	defaultHTTPPort             = 8090
	defaultLogLevel             = "info"
	defaultLogFormat            = "text"
)

// envPrefix is the prefix for all corehostd environment variables.
const envPrefix = "COREHOST_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("corehostd", flag.ContinueOnError)

	fs.IntVar(&cfg.SampleRate, "sample-rate", defaultSampleRate, "audio sample rate in Hz")
	fs.IntVar(&cfg.BlockSize, "block-size", defaultBlockSize, "frames per audio block")
	fs.IntVar(&cfg.RTQueueCapacity, "rt-queue-capacity", defaultRTQueueCapacity, "entries per inbound/outbound RT queue (power of two)")
	fs.IntVar(&cfg.DispatcherTickMS, "dispatcher-tick-ms", defaultDispatcherTickMS, "dispatcher tick period in milliseconds")
	fs.IntVar(&cfg.WorkerTickMS, "worker-tick-ms", defaultWorkerTickMS, "worker tick period in milliseconds")
	fs.IntVar(&cfg.TimingReportInterval, "timing-report-interval-s", defaultTimingReportInterval, "worker telemetry report cadence in seconds")
	fs.StringVar(&cfg.LateEventPolicy, "late-event-policy", defaultLateEventPolicy, "policy for timed events whose block has already passed: drop or deliver_asap")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for telemetry history")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "admin HTTP API listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for admin API bearer tokens (auto-generated if empty)")
	fs.StringVar(&cfg.InputWAV, "input-wav", "", "path to an input WAV file for the offline audio backend")
	fs.StringVar(&cfg.OutputWAV, "output-wav", "", "path to write the processed output WAV file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"sample-rate":              envPrefix + "SAMPLE_RATE",
		"block-size":               envPrefix + "BLOCK_SIZE",
		"rt-queue-capacity":        envPrefix + "RT_QUEUE_CAPACITY",
		"dispatcher-tick-ms":       envPrefix + "DISPATCHER_TICK_MS",
		"worker-tick-ms":           envPrefix + "WORKER_TICK_MS",
		"timing-report-interval-s": envPrefix + "TIMING_REPORT_INTERVAL_S",
		"late-event-policy":        envPrefix + "LATE_EVENT_POLICY",
		"data-dir":                 envPrefix + "DATA_DIR",
		"http-port":                envPrefix + "HTTP_PORT",
		"log-level":                envPrefix + "LOG_LEVEL",
		"log-format":               envPrefix + "LOG_FORMAT",
		"cors-origins":             envPrefix + "CORS_ORIGINS",
		"jwt-secret":               envPrefix + "JWT_SECRET",
		"input-wav":                envPrefix + "INPUT_WAV",
		"output-wav":               envPrefix + "OUTPUT_WAV",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "sample-rate":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SampleRate = v
			}
		case "block-size":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.BlockSize = v
			}
		case "rt-queue-capacity":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTQueueCapacity = v
			}
		case "dispatcher-tick-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DispatcherTickMS = v
			}
		case "worker-tick-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.WorkerTickMS = v
			}
		case "timing-report-interval-s":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.TimingReportInterval = v
			}
		case "late-event-policy":
			cfg.LateEventPolicy = val
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "input-wav":
			cfg.InputWAV = val
		case "output-wav":
			cfg.OutputWAV = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.SampleRate < 1 {
		return fmt.Errorf("sample-rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("block-size must be positive, got %d", c.BlockSize)
	}
	if c.RTQueueCapacity < 2 || c.RTQueueCapacity&(c.RTQueueCapacity-1) != 0 {
		return fmt.Errorf("rt-queue-capacity must be a power of two >= 2, got %d", c.RTQueueCapacity)
	}
	if c.DispatcherTickMS < 1 {
		return fmt.Errorf("dispatcher-tick-ms must be positive, got %d", c.DispatcherTickMS)
	}
	if c.WorkerTickMS < 1 {
		return fmt.Errorf("worker-tick-ms must be positive, got %d", c.WorkerTickMS)
	}
	if c.TimingReportInterval < 1 {
		return fmt.Errorf("timing-report-interval-s must be positive, got %d", c.TimingReportInterval)
	}
	switch c.LateEventPolicy {
	case "drop", "deliver_asap":
	default:
		return fmt.Errorf("late-event-policy must be one of drop, deliver_asap; got %q", c.LateEventPolicy)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret used by the
// admin API. If no secret is configured, it generates a random 32-byte key
// and stores the hex-encoded value back in the config for the process
// lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
