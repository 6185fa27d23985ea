package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store backends accepted by the store setting.
const (
	storeFile   = "file"
	storeBolt   = "bolt"
	storeMemory = "memory"
)

// Config is the resolved CLI configuration.
type Config struct {
	// ServerURL is the API base URL, including any path prefix.
	ServerURL string `yaml:"server_url"`
	// TokenFile is where the session is persisted. Empty picks a default per store.
	TokenFile string `yaml:"token_file"`
	// Store is one of file, bolt or memory.
	Store string `yaml:"store"`
	// PublicRoutes are added to the built-in auth routes that never carry a token.
	PublicRoutes []string `yaml:"public_routes"`
	// RequestTimeout bounds each refresh and account call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	// DeviceID is sent as X-Device-ID on every request when set.
	DeviceID string `yaml:"device_id"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ServerURL:      "http://localhost:8080",
		Store:          storeFile,
		RequestTimeout: 10 * time.Second,
		LogLevel:       "warn",
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validateServerURL(c.ServerURL); err != nil {
		return fmt.Errorf("invalid SERVER_URL: %w", err)
	}
	switch c.Store {
	case storeFile, storeBolt, storeMemory:
	default:
		return fmt.Errorf("store must be one of file, bolt or memory, got: %q", c.Store)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got: %s", c.RequestTimeout)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	for _, r := range c.PublicRoutes {
		if !strings.HasPrefix(r, "/") {
			return fmt.Errorf("public route must start with '/': %q", r)
		}
	}
	return nil
}

// tokenPath returns the configured token file or the default for the store.
func (c *Config) tokenPath() string {
	if c.TokenFile != "" {
		return c.TokenFile
	}
	if c.Store == storeBolt {
		return ".tapcard-tokens.db"
	}
	return ".tapcard-tokens.json"
}

// flagValues holds the persistent flags. Empty means unset.
type flagValues struct {
	configPath string
	serverURL  string
	tokenFile  string
	store      string
	logLevel   string
}

// loadConfig resolves the configuration with priority
// flag > env > config file > default, validates it and writes warnings to w.
func loadConfig(flags flagValues, w io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	if path := getConfig(flags.configPath, "TAPCARD_CONFIG", ""); path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.ServerURL = getConfig(flags.serverURL, "SERVER_URL", cfg.ServerURL)
	cfg.TokenFile = getConfig(flags.tokenFile, "TOKEN_FILE", cfg.TokenFile)
	cfg.Store = strings.ToLower(getConfig(flags.store, "TOKEN_STORE", cfg.Store))
	cfg.LogLevel = getConfig(flags.logLevel, "LOG_LEVEL", cfg.LogLevel)
	cfg.DeviceID = getEnv("DEVICE_ID", cfg.DeviceID)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(cfg.ServerURL), "http://") {
		fmt.Fprintln(
			w,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			w,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(w)
	}

	if cfg.DeviceID != "" {
		if _, err := uuid.Parse(cfg.DeviceID); err != nil {
			fmt.Fprintf(
				w,
				"⚠️  Warning: DEVICE_ID doesn't appear to be a valid UUID: %s\n",
				cfg.DeviceID,
			)
			fmt.Fprintln(w)
		}
	}

	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// newLogger builds the stderr console logger.
func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
