// Package config holds the server settings assembled from defaults, an
// optional TOML or YAML file and the command line.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/wtnb75/tinyhttpd/internal/logging"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            int           `toml:"port" yaml:"port"`
	BufferSize      int           `toml:"buffer_size" yaml:"buffer_size"`
	Backlog         int           `toml:"backlog" yaml:"backlog"`
	MaxClients      int           `toml:"max_clients" yaml:"max_clients"`
	LogLevel        string        `toml:"log_level" yaml:"log_level"`
	LogFile         string        `toml:"log_file" yaml:"log_file"`
	RootDir         string        `toml:"root" yaml:"root"`
	Favicon         string        `toml:"favicon" yaml:"favicon"`
	LandingPage     string        `toml:"landing" yaml:"landing"`
	GenerateListing bool          `toml:"generate_listing" yaml:"generate_listing"`
	ReadTimeout     time.Duration `toml:"read_timeout" yaml:"read_timeout"`
	GracePeriod     time.Duration `toml:"grace_period" yaml:"grace_period"`
}

const (
	MinPort    = 1024
	MaxPort    = 65535
	MaxBacklog = 1024
)

func Default() Config {
	return Config{
		Port:            0,
		BufferSize:      1024,
		Backlog:         5,
		MaxClients:      10,
		LogLevel:        "info",
		LogFile:         "server.log",
		RootDir:         "data",
		Favicon:         "favicon.ico",
		LandingPage:     "index.html",
		GenerateListing: true,
		ReadTimeout:     0,
		GracePeriod:     5 * time.Second,
	}
}

// Load overlays the keys present in the file onto c. The format is chosen
// by extension.
func Load(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
	slog.Debug("config loaded", "path", path)
	return nil
}

func (c *Config) Level() slog.Level {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// Validate checks every field and cleans RootDir. All problems are reported.
func (c *Config) Validate() error {
	var errs []error
	if c.Port != 0 && (c.Port < MinPort || c.Port > MaxPort) {
		errs = append(errs, fmt.Errorf("port: %d not in [%d, %d] (0 picks a free port)", c.Port, MinPort, MaxPort))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size: must be positive, got %d", c.BufferSize))
	}
	if c.Backlog < 1 || c.Backlog > MaxBacklog {
		errs = append(errs, fmt.Errorf("backlog: %d not in [1, %d]", c.Backlog, MaxBacklog))
	}
	if c.MaxClients <= 0 {
		errs = append(errs, fmt.Errorf("max_clients: must be positive, got %d", c.MaxClients))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFile == "" {
		errs = append(errs, errors.New("log_file: must not be empty"))
	}
	if c.RootDir == "" {
		errs = append(errs, errors.New("root: must not be empty"))
	} else {
		c.RootDir = filepath.Clean(c.RootDir)
		if st, err := os.Stat(c.RootDir); err != nil {
			errs = append(errs, fmt.Errorf("root: %w", err))
		} else if !st.IsDir() {
			errs = append(errs, fmt.Errorf("root: %s is not a directory", c.RootDir))
		}
	}
	if err := checkName(c.Favicon); err != nil {
		errs = append(errs, fmt.Errorf("favicon: %w", err))
	}
	if err := checkName(c.LandingPage); err != nil {
		errs = append(errs, fmt.Errorf("landing: %w", err))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("read_timeout: negative duration %s", c.ReadTimeout))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period: negative duration %s", c.GracePeriod))
	}
	return errors.Join(errs...)
}

func checkName(name string) error {
	switch {
	case name == "":
		return errors.New("must not be empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%q must be a file name without separators", name)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("port=%d buffer_size=%d backlog=%d max_clients=%d log_level=%s log_file=%s root=%s favicon=%s landing=%s generate_listing=%t read_timeout=%s grace_period=%s",
		c.Port, c.BufferSize, c.Backlog, c.MaxClients, logging.LevelName(c.Level()), c.LogFile,
		c.RootDir, c.Favicon, c.LandingPage, c.GenerateListing, c.ReadTimeout, c.GracePeriod)
}
