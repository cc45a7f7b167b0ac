// Package config loads settings for the sediment commands from an optional
// YAML file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/sediment/internal/engine"
)

// DefaultPath is where the commands look for a config file.
const DefaultPath = "sediment.yaml"

// Config holds the command-level settings.
type Config struct {
	Port        int           `yaml:"port"`
	DBPath      string        `yaml:"db_path"` // Empty disables run history
	Seed        int64         `yaml:"seed"`    // 0 = non-reproducible
	Luck        float64       `yaml:"luck"`
	UserMerit   float64       `yaml:"user_merit"`
	AdminKey    string        `yaml:"admin_key"`
	RandomOrg   string        `yaml:"random_org_key"`
	LogLevel    string        `yaml:"log_level"`
	PhaseDelay  time.Duration `yaml:"phase_delay"`
	AdvanceRate int           `yaml:"advance_rate"` // Turn requests per minute per IP
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:        8080,
		DBPath:      "data/sediment.db",
		Luck:        0,
		UserMerit:   0.5,
		LogLevel:    "info",
		PhaseDelay:  1600 * time.Millisecond,
		AdvanceRate: 30,
	}
}

// Load reads path (a missing file yields defaults), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DBPath = envOrDefault("SEDIMENT_DB", c.DBPath)
	c.AdminKey = envOrDefault("SEDIMENT_ADMIN_KEY", c.AdminKey)
	c.RandomOrg = envOrDefault("RANDOM_ORG_API_KEY", c.RandomOrg)
	c.LogLevel = envOrDefault("SEDIMENT_LOG_LEVEL", c.LogLevel)

	var err error
	if c.Port, err = envInt("SEDIMENT_PORT", c.Port); err != nil {
		return err
	}
	seed, err := envInt("SEDIMENT_SEED", int(c.Seed))
	if err != nil {
		return err
	}
	c.Seed = int64(seed)
	if c.Luck, err = envFloat("SEDIMENT_LUCK", c.Luck); err != nil {
		return err
	}
	if c.UserMerit, err = envFloat("SEDIMENT_USER_MERIT", c.UserMerit); err != nil {
		return err
	}
	return nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.AdvanceRate < 0 {
		return fmt.Errorf("config: advance_rate %d must not be negative", c.AdvanceRate)
	}
	if c.PhaseDelay < 0 {
		return fmt.Errorf("config: phase_delay %s must not be negative", c.PhaseDelay)
	}
	return nil
}

// Engine returns the engine-facing part of the configuration.
func (c Config) Engine() engine.Config {
	return engine.Config{Luck: c.Luck, UserMerit: c.UserMerit}
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
