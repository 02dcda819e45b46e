/*
Package config loads the server configuration.

SOURCES (lowest to highest precedence):
  1. Built-in defaults (Default)
  2. YAML file named by KAFALA_CONFIG
  3. .env file (loaded into the environment, never overriding it)
  4. Environment variables
  5. Command-line flags

ENVIRONMENT:
  KAFALA_CONFIG               YAML file path
  PORT                        HTTP port
  DATABASE_PATH               SQLite path (":memory:" for a throwaway database)
  LOG_LEVEL                   debug | info | warn | error
  LOG_FORMAT                  text | json
  ALLOWED_ORIGINS             Comma separated CORS origins
  STATIC_DIR                  Frontend build directory
  ACCESS_LOG                  true | false
  SCHEDULER_ENABLED           true | false
  SCHEDULER_EXTEND_SPEC       Cron spec of the horizon extension
  SCHEDULER_AGE_REFRESH_SPEC  Cron spec of the age cache refresh
  SCHEDULER_TIMEZONE          IANA zone the cron specs are read in

FLAGS:
  -port, -db, -log-level

YAML EXAMPLE:
  port: 8080
  db_path: ./data/kafala.db
  log_level: info
  allowed_origins: ["https://kafala.example.org"]
  scheduler:
    enabled: true
    extend_spec: "0 2 * * *"
    timezone: Africa/Casablanca
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Port           int             `yaml:"port"`
	DBPath         string          `yaml:"db_path"`
	LogLevel       string          `yaml:"log_level"`
	LogFormat      string          `yaml:"log_format"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	StaticDir      string          `yaml:"static_dir"`
	AccessLog      bool            `yaml:"access_log"`
	Scheduler      SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig configures the maintenance cron jobs.
type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ExtendSpec     string `yaml:"extend_spec"`
	AgeRefreshSpec string `yaml:"age_refresh_spec"`
	TimeZone       string `yaml:"timezone"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           8080,
		DBPath:         "kafala.db",
		LogLevel:       "info",
		LogFormat:      "text",
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		StaticDir:      "./web/dist",
		AccessLog:      true,
		Scheduler: SchedulerConfig{
			Enabled:        true,
			ExtendSpec:     "0 2 * * *",
			AgeRefreshSpec: "30 2 * * *",
			TimeZone:       "UTC",
		},
	}
}

// Options tells Load where to look. Zero values use the process defaults.
type Options struct {
	// EnvFile is the dotenv file to load. Defaults to ".env"; a missing file
	// is not an error.
	EnvFile string
	// Args are the command-line arguments without the program name.
	Args []string
}

// Load builds the configuration from every source.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()
	if path := os.Getenv("KAFALA_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyFlags(opts.Args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = port
	}
	setString(&c.DBPath, "DATABASE_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.StaticDir, "STATIC_DIR")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if err := setBool(&c.AccessLog, "ACCESS_LOG"); err != nil {
		return err
	}
	if err := setBool(&c.Scheduler.Enabled, "SCHEDULER_ENABLED"); err != nil {
		return err
	}
	setString(&c.Scheduler.ExtendSpec, "SCHEDULER_EXTEND_SPEC")
	setString(&c.Scheduler.AgeRefreshSpec, "SCHEDULER_AGE_REFRESH_SPEC")
	setString(&c.Scheduler.TimeZone, "SCHEDULER_TIMEZONE")
	return nil
}

func (c *Config) applyFlags(args []string) error {
	flags := flag.NewFlagSet("kafala", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.IntVar(&c.Port, "port", c.Port, "HTTP server port")
	flags.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("database path is empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log format %q (want text or json)", c.LogFormat)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the time zone the cron specs are read in.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	return loc, nil
}

// NewLogger builds the process logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
