package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// dsnEnv overrides the database DSN of the configuration file.
const dsnEnv = "ODATA_DSN"

type DatabaseConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
	Seed    bool   `yaml:"seed"`
}

type PagingConfig struct {
	Default int            `yaml:"default"`
	Sets    map[string]int `yaml:"sets"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Listen         string         `yaml:"listen"`
	ServiceURI     string         `yaml:"serviceUri"`
	MaxExpandDepth int            `yaml:"maxExpandDepth"`
	MaxBatchSize   int            `yaml:"maxBatchSize"`
	ServerTiming   bool           `yaml:"serverTiming"`
	Database       DatabaseConfig `yaml:"database"`
	Paging         PagingConfig   `yaml:"paging"`
	CORS           CORSConfig     `yaml:"cors"`
	Log            LogConfig      `yaml:"log"`
}

func defaultConfig() *Config {
	return &Config{
		Listen:     ":8080",
		ServiceURI: "/NorthWind.svc",
		Database: DatabaseConfig{
			Dialect: "sqlite",
			DSN:     "file::memory:?cache=shared",
			Migrate: true,
			Seed:    true,
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfiguration reads a YAML configuration on top of the defaults.
func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if dsn := os.Getenv(dsnEnv); dsn != "" {
		cfg.Database.DSN = dsn
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Database.Dialect {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database dialect '%s'", c.Database.Dialect)
	}
	if c.ServiceURI == "" || !strings.HasPrefix(c.ServiceURI, "/") {
		return fmt.Errorf("serviceUri must be an absolute path, got '%s'", c.ServiceURI)
	}
	if c.Paging.Default < 0 {
		return fmt.Errorf("paging.default must not be negative")
	}
	return nil
}

func (c *Config) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
