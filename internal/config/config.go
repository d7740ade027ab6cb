package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the server settings.
type Config struct {
	Port     int
	Workers  int
	LogLevel string
	// DBDSN is a MySQL DSN. Empty means built-in demo readings.
	DBDSN        string
	PushInterval time.Duration
	// ReadTimeout bounds reading of one request head.
	ReadTimeout time.Duration
	// MetricsAddr enables the prometheus endpoint when not empty.
	MetricsAddr string
}

// Addr returns the listen address for the configured port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// FromEnv reads Config from the environment, using defaults for unset or
// malformed variables.
func FromEnv() Config {
	cfg := Config{
		Port:        getEnvInt("PORT", 8080),
		Workers:     getEnvInt("WORKERS", 20),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DBDSN:       getEnv("DB_DSN", ""),
		MetricsAddr: strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}
	cfg.PushInterval = getEnvDuration("PUSH_INTERVAL", 5*time.Second)
	cfg.ReadTimeout = getEnvDuration("READ_TIMEOUT", 10*time.Second)
	return cfg
}

// Load reads environment and then applies command line flags on top. Only
// the port and the worker pool size are exposed as flags.
func Load(args []string) (Config, error) {
	cfg := FromEnv()

	fs := pflag.NewFlagSet("plantws", pflag.ContinueOnError)
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	fs.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "size of the connection worker pool")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that c describes a server that could be started.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.PushInterval <= 0 {
		return fmt.Errorf("config: push interval must be positive, got %s", c.PushInterval)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("5s") and plain milliseconds ("5000").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return def
}
