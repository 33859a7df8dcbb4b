// Package config loads timebooth settings from an optional .env file, an
// optional config.toml and TIMEBOOTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/manash/timebooth/internal/capture"
	"github.com/manash/timebooth/internal/keys"
	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/usage"
)

const (
	EnvPrefix      = "TIMEBOOTH"
	ProviderName   = "gemini"
	DefaultAddr    = ":8080"
	DefaultEnvFile = ".env"
)

// APIKeyEnvVars are consulted, in order, after the explicit and stored keys.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

type Config struct {
	APIKey        string
	AnalysisModel string
	ImageModel    string
	AspectRatio   string
	Timeout       time.Duration
	SaveDir       string
	LogLevel      string

	Capture CaptureConfig
	Server  ServerConfig
	Usage   UsageConfig

	// File is the config file that was read, if any.
	File string
}

type CaptureConfig struct {
	MaxEdge     int
	JPEGQuality int
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

type UsageConfig struct {
	DSN string
}

// Options control where Load looks. Overrides are applied last and use the
// same dotted keys as config.toml, e.g. "server.addr".
type Options struct {
	ConfigFile string
	EnvFile    string
	ConfigDir  string
	Overrides  map[string]any
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("analysis_model", provider.DefaultAnalysisModel)
	v.SetDefault("image_model", provider.DefaultImageModel)
	v.SetDefault("aspect_ratio", "")
	v.SetDefault("timeout", provider.DefaultTimeout)
	v.SetDefault("save_dir", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("capture.max_edge", capture.DefaultMaxEdge)
	v.SetDefault("capture.jpeg_quality", capture.DefaultJPEGQuality)
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("usage.dsn", usage.DefaultDSN)
}

func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := readConfigFile(v, opts); err != nil {
		return nil, err
	}
	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	cfg := &Config{
		APIKey:        strings.TrimSpace(v.GetString("api_key")),
		AnalysisModel: v.GetString("analysis_model"),
		ImageModel:    v.GetString("image_model"),
		AspectRatio:   v.GetString("aspect_ratio"),
		Timeout:       v.GetDuration("timeout"),
		SaveDir:       v.GetString("save_dir"),
		LogLevel:      v.GetString("log_level"),
		Capture: CaptureConfig{
			MaxEdge:     v.GetInt("capture.max_edge"),
			JPEGQuality: v.GetInt("capture.jpeg_quality"),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: splitList(v.GetStringSlice("server.allowed_origins")),
		},
		Usage: UsageConfig{
			DSN: v.GetString("usage.dsn"),
		},
		File: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readConfigFile reads opts.ConfigFile, which must exist, or config.toml in
// the config directory, which may not.
func readConfigFile(v *viper.Viper, opts Options) error {
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = keys.ConfigDir(); err != nil {
			return nil
		}
	}
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Join(dir, "config.toml"), err)
	}
	return nil
}

// splitList accepts both TOML arrays and comma separated env values.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Capture.MaxEdge < 64 {
		return fmt.Errorf("capture.max_edge must be at least 64, got %d", c.Capture.MaxEdge)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be between 1 and 100, got %d", c.Capture.JPEGQuality)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if c.Usage.DSN == "" {
		return fmt.Errorf("usage.dsn cannot be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// ResolveAPIKey fills APIKey using the key store and the fallback
// environment variables, and reports where the key came from.
func (c *Config) ResolveAPIKey(store *keys.Store) (string, error) {
	key, source, err := store.Resolve(c.APIKey, ProviderName, APIKeyEnvVars...)
	if err != nil {
		return "", err
	}
	c.APIKey = key
	return source, nil
}

func (c *Config) Provider() provider.Config {
	return provider.Config{
		APIKey:        c.APIKey,
		AnalysisModel: c.AnalysisModel,
		ImageModel:    c.ImageModel,
		AspectRatio:   c.AspectRatio,
		Timeout:       c.Timeout,
	}
}

func (c *Config) CaptureOptions(logger *slog.Logger) capture.Options {
	return capture.Options{
		MaxEdge:     c.Capture.MaxEdge,
		JPEGQuality: c.Capture.JPEGQuality,
		Logger:      logger,
	}
}
