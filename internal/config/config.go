// Package config loads runtime settings from defaults, an optional YAML file,
// a .env file, and CITYSIM_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/talgya/citynet/internal/settlement"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every runtime setting.
type Config struct {
	Width            float64       `yaml:"width"`
	Height           float64       `yaml:"height"`
	Seed             int64         `yaml:"seed"` // 0 = seed from the clock
	FrameInterval    time.Duration `yaml:"frame_interval"`
	Speed            float64       `yaml:"speed"`
	Strict           bool          `yaml:"strict"`
	TerrainThreshold float64       `yaml:"terrain_threshold"` // 0 disables the terrain mask

	Rules settlement.Rules `yaml:"rules"`

	DBPath        string `yaml:"db_path"`        // Empty disables persistence
	AutosaveEvery uint64 `yaml:"autosave_every"` // Frames between saves (0 = only on shutdown)
	ReportEvery   uint64 `yaml:"report_every"`   // Frames between log reports

	APIPort     int      `yaml:"api_port"` // 0 disables the API
	AdminKey    string   `yaml:"admin_key"`
	CORSOrigins []string `yaml:"cors_origins"`
	StreamRate  float64  `yaml:"stream_rate"` // Frames per second pushed to stream clients

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"

	RandomOrgKey string `yaml:"random_org_key"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		Width:         1000,
		Height:        1000,
		FrameInterval: 16 * time.Millisecond,
		Speed:         1,
		Rules:         settlement.DefaultRules(),
		DBPath:        "data/citynet.db",
		AutosaveEvery: 60 * 60,
		ReportEvery:   60 * 10,
		APIPort:       8080,
		CORSOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		StreamRate:    30,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load builds a Config. path may be empty to skip the YAML file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	cfg.Rules = cfg.Rules.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("CITYSIM_" + key); ok {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv("CITYSIM_" + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("CITYSIM_%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int64) {
		if v, ok := os.LookupEnv("CITYSIM_" + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("CITYSIM_%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	float("WIDTH", &c.Width)
	float("HEIGHT", &c.Height)
	integer("SEED", &c.Seed)
	float("SPEED", &c.Speed)
	float("TERRAIN_THRESHOLD", &c.TerrainThreshold)
	float("EVOLVE_CHANCE", &c.Rules.EvolveChance)
	float("STREAM_RATE", &c.StreamRate)
	str("DB_PATH", &c.DBPath)
	str("ADMIN_KEY", &c.AdminKey)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("RANDOM_ORG_KEY", &c.RandomOrgKey)

	port := int64(c.APIPort)
	integer("API_PORT", &port)
	c.APIPort = int(port)

	if v, ok := os.LookupEnv("CITYSIM_STRICT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CITYSIM_STRICT: %w", err))
		}
		c.Strict = b
	}
	if v, ok := os.LookupEnv("CITYSIM_FRAME_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CITYSIM_FRAME_INTERVAL: %w", err))
		}
		c.FrameInterval = d
	}
	if v, ok := os.LookupEnv("CITYSIM_CORS_ORIGINS"); ok {
		c.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.CORSOrigins = append(c.CORSOrigins, origin)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	var errs []error
	if !(c.Width > 0) || !(c.Height > 0) || math.IsInf(c.Width, 0) || math.IsInf(c.Height, 0) {
		errs = append(errs, fmt.Errorf("width and height must be positive, got %gx%g", c.Width, c.Height))
	}
	if c.Rules.EvolveChance < 0 || c.Rules.EvolveChance > 1 {
		errs = append(errs, fmt.Errorf("evolve_chance must be in [0,1], got %g", c.Rules.EvolveChance))
	}
	if !(c.Speed >= 0) || math.IsInf(c.Speed, 0) {
		errs = append(errs, fmt.Errorf("speed must be finite and >= 0, got %g", c.Speed))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame_interval must be positive, got %s", c.FrameInterval))
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("api_port out of range: %d", c.APIPort))
	}
	if c.StreamRate <= 0 {
		errs = append(errs, fmt.Errorf("stream_rate must be positive, got %g", c.StreamRate))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// SetupLogger installs the default slog logger described by the config.
func (c Config) SetupLogger() {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
