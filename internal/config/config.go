// Package config loads kiosk settings from built-in defaults, an optional
// YAML file and FACE_ACCESS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerBaseURL is the verifier address baked in at build time:
//
//	go build -ldflags "-X github.com/example/face-access/internal/config.ServerBaseURL=https://verifier.example"
var ServerBaseURL = "http://localhost:8000"

const envPrefix = "FACE_ACCESS_"

// Config captures kiosk runtime configuration.
type Config struct {
	ServerURL string `yaml:"server_url"`
	Listen    string `yaml:"listen"`
	GRPCAddr  string `yaml:"grpc_addr"`
	LogLevel  string `yaml:"log_level"`

	FrameDir    string `yaml:"frame_dir"`
	SnapshotURL string `yaml:"snapshot_url"`

	BurstSize      int           `yaml:"burst_size"`
	FrameDelay     time.Duration `yaml:"frame_delay"`
	EncodeWidth    int           `yaml:"encode_width"`
	EncodeQuality  int           `yaml:"encode_quality"`
	FrameTimeout   time.Duration `yaml:"frame_timeout"`
	VerifyTimeout  time.Duration `yaml:"verify_timeout"`
	VerifyAttempts int           `yaml:"verify_attempts"`
	SuccessHold    time.Duration `yaml:"success_hold"`
	FailureHold    time.Duration `yaml:"failure_hold"`

	RedisAddr   string `yaml:"redis_addr"`
	DatabaseDSN string `yaml:"database_dsn"`

	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a five-frame burst at 300ms pacing, encoded at 400px and quality 70.
func Default() Config {
	return Config{
		ServerURL:       ServerBaseURL,
		Listen:          ":8080",
		LogLevel:        "info",
		BurstSize:       5,
		FrameDelay:      300 * time.Millisecond,
		EncodeWidth:     400,
		EncodeQuality:   70,
		FrameTimeout:    5 * time.Second,
		VerifyTimeout:   15 * time.Second,
		VerifyAttempts:  1,
		SuccessHold:     4 * time.Second,
		FailureHold:     3 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads path (skipped when empty) and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the controller cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ServerURL) == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if c.BurstSize < 1 {
		errs = append(errs, fmt.Errorf("burst_size must be positive, got %d", c.BurstSize))
	}
	if c.EncodeQuality < 1 || c.EncodeQuality > 100 {
		errs = append(errs, fmt.Errorf("encode_quality must be between 1 and 100, got %d", c.EncodeQuality))
	}
	if c.VerifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("verify_attempts must be at least 1, got %d", c.VerifyAttempts))
	}
	for name, d := range map[string]time.Duration{
		"frame_delay":      c.FrameDelay,
		"frame_timeout":    c.FrameTimeout,
		"verify_timeout":   c.VerifyTimeout,
		"success_hold":     c.SuccessHold,
		"failure_hold":     c.FailureHold,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SERVER_URL":   &cfg.ServerURL,
		"LISTEN":       &cfg.Listen,
		"GRPC_ADDR":    &cfg.GRPCAddr,
		"LOG_LEVEL":    &cfg.LogLevel,
		"FRAME_DIR":    &cfg.FrameDir,
		"SNAPSHOT_URL": &cfg.SnapshotURL,
		"REDIS_ADDR":   &cfg.RedisAddr,
		"DATABASE_DSN": &cfg.DatabaseDSN,
		"JWT_SECRET":   &cfg.JWTSecret,
		"JWT_AUDIENCE": &cfg.JWTAudience,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BURST_SIZE":      &cfg.BurstSize,
		"ENCODE_WIDTH":    &cfg.EncodeWidth,
		"ENCODE_QUALITY":  &cfg.EncodeQuality,
		"VERIFY_ATTEMPTS": &cfg.VerifyAttempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"FRAME_DELAY":      &cfg.FrameDelay,
		"FRAME_TIMEOUT":    &cfg.FrameTimeout,
		"VERIFY_TIMEOUT":   &cfg.VerifyTimeout,
		"SUCCESS_HOLD":     &cfg.SuccessHold,
		"FAILURE_HOLD":     &cfg.FailureHold,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}
	return nil
}
