// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultUpstreamURL is the DeepSeek (OpenAI-compatible) base URL.
	DefaultUpstreamURL = "https://api.deepseek.com"

	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "deepseek-chat"

	// DefaultSourceLabel is the provider name shown in the web footer.
	DefaultSourceLabel = "DeepSeek"

	// DefaultPort matches the port the web client has always been served on.
	DefaultPort = 5000

	// DefaultNominatimURL is the public OpenStreetMap geocoder.
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"

	// MaxQueueCapacity bounds the relay queue so a stalled consumer cannot
	// grow memory without limit.
	MaxQueueCapacity = 100000
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration that reads and writes as "2s", "5m" in every
// supported config format.
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a Go duration string. Bare integers are seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in Go notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete bazi configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server" json:"server"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream" json:"upstream"`
	Stream   StreamConfig   `toml:"stream" yaml:"stream" json:"stream"`
	Geocode  GeocodeConfig  `toml:"geocode" yaml:"geocode" json:"geocode"`
	Resume   ResumeConfig   `toml:"resume" yaml:"resume" json:"resume"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging" json:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host" json:"host"`
	Port int    `toml:"port" yaml:"port" json:"port"`
	// ReadTimeout bounds reading a request. There is deliberately no write
	// timeout: interpretation streams stay open for minutes.
	ReadTimeout     Duration `toml:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	IdleTimeout     Duration `toml:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// CORSOrigins lists origins allowed to call the API from another site.
	// Empty means same-origin only.
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	// URL is where `bazi read` finds a running server.
	URL string `toml:"url" yaml:"url" json:"url"`
}

// UpstreamConfig contains the chat-completion provider settings.
type UpstreamConfig struct {
	BaseURL     string   `toml:"base_url" yaml:"base_url" json:"base_url"`
	APIKey      string   `toml:"api_key" yaml:"api_key" json:"api_key"`
	Model       string   `toml:"model" yaml:"model" json:"model"`
	Temperature float64  `toml:"temperature" yaml:"temperature" json:"temperature"`
	Timeout     Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
	SourceLabel string   `toml:"source_label" yaml:"source_label" json:"source_label"`
}

// IsConfigured reports whether an API key is present.
func (u UpstreamConfig) IsConfigured() bool {
	return strings.TrimSpace(u.APIKey) != ""
}

// StreamConfig tunes the relay between upstream and the browser.
type StreamConfig struct {
	// KeepaliveInterval is how long the multiplexer waits on the queue before
	// emitting a keep-alive comment.
	KeepaliveInterval Duration `toml:"keepalive_interval" yaml:"keepalive_interval" json:"keepalive_interval"`
	// PingEvery emits an empty delta on every Nth consecutive idle tick.
	PingEvery int `toml:"ping_every" yaml:"ping_every" json:"ping_every"`
	// QueueCapacity is the relay queue size.
	QueueCapacity int `toml:"queue_capacity" yaml:"queue_capacity" json:"queue_capacity"`
}

// GeocodeConfig contains Nominatim settings.
type GeocodeConfig struct {
	BaseURL   string   `toml:"base_url" yaml:"base_url" json:"base_url"`
	UserAgent string   `toml:"user_agent" yaml:"user_agent" json:"user_agent"`
	Timeout   Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
	// RatePerSecond throttles outbound lookups. Nominatim's usage policy
	// allows one request per second.
	RatePerSecond float64 `toml:"rate_per_second" yaml:"rate_per_second" json:"rate_per_second"`
	// CachePath enables the SQLite lookup cache when set.
	CachePath string `toml:"cache_path" yaml:"cache_path" json:"cache_path"`
}

// ResumeConfig controls client-side continuation after a dropped stream.
type ResumeConfig struct {
	MaxAutoRetries int `toml:"max_auto_retries" yaml:"max_auto_retries" json:"max_auto_retries"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" json:"level"`
	JSON  bool   `toml:"json" yaml:"json" json:"json"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a new Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ReadTimeout:     D(30 * time.Second),
			IdleTimeout:     D(120 * time.Second),
			ShutdownTimeout: D(10 * time.Second),
			URL:             fmt.Sprintf("http://127.0.0.1:%d", DefaultPort),
		},
		Upstream: UpstreamConfig{
			BaseURL:     DefaultUpstreamURL,
			Model:       DefaultModel,
			Temperature: 0.7,
			Timeout:     D(5 * time.Minute),
			SourceLabel: DefaultSourceLabel,
		},
		Stream: StreamConfig{
			KeepaliveInterval: D(2 * time.Second),
			PingEvery:         5,
			QueueCapacity:     1000,
		},
		Geocode: GeocodeConfig{
			BaseURL:       DefaultNominatimURL,
			UserAgent:     "BAZI Destiny/1.0 (https://example.com)",
			Timeout:       D(20 * time.Second),
			RatePerSecond: 1,
		},
		Resume: ResumeConfig{
			MaxAutoRetries: 1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATHS
// =============================================================================

// ConfigDir returns the path to the bazi configuration directory (~/.bazi).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".bazi"), nil
}

// DefaultPath returns ~/.bazi/config.toml.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ResolvePath picks the config file to use: an explicit path, then
// BAZI_CONFIG, then ~/.bazi/config.toml if it exists. An empty result means
// defaults only.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("BAZI_CONFIG"); env != "" {
		return env
	}
	if p, err := DefaultPath(); err == nil {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration at path (empty for defaults only), fills
// defaults, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.SetDefaults()
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes path into cfg, choosing the format from the extension.
func LoadFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(cfg, path)
	case ".json":
		return LoadJSON(cfg, path)
	default:
		return LoadTOML(cfg, path)
	}
}

// LoadTOML loads configuration from a TOML file into the provided config.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	return nil
}

// LoadYAML loads configuration from a YAML file into the provided config.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into the provided config.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse JSON config %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
// A missing API key is not an error: the stream reports it in-band.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be between 0 and 65535, got %d", c.Server.Port),
		})
	}

	if err := validateURL(c.Upstream.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "upstream.base_url", Message: err.Error()})
	}
	if strings.TrimSpace(c.Upstream.Model) == "" {
		errs = append(errs, ValidationError{Field: "upstream.model", Message: "must not be empty"})
	}
	if c.Upstream.Temperature < 0 || c.Upstream.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "upstream.temperature",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %.2f", c.Upstream.Temperature),
		})
	}
	if c.Upstream.Timeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "upstream.timeout", Message: "must be positive"})
	}

	if c.Stream.KeepaliveInterval.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "stream.keepalive_interval", Message: "must be positive"})
	}
	if c.Stream.PingEvery < 1 {
		errs = append(errs, ValidationError{
			Field:   "stream.ping_every",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Stream.PingEvery),
		})
	}
	if c.Stream.QueueCapacity < 1 || c.Stream.QueueCapacity > MaxQueueCapacity {
		errs = append(errs, ValidationError{
			Field:   "stream.queue_capacity",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxQueueCapacity, c.Stream.QueueCapacity),
		})
	}

	if err := validateURL(c.Geocode.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "geocode.base_url", Message: err.Error()})
	}
	if strings.TrimSpace(c.Geocode.UserAgent) == "" {
		errs = append(errs, ValidationError{Field: "geocode.user_agent", Message: "Nominatim rejects requests without a User-Agent"})
	}
	if c.Geocode.RatePerSecond <= 0 {
		errs = append(errs, ValidationError{Field: "geocode.rate_per_second", Message: "must be positive"})
	}

	if c.Resume.MaxAutoRetries < 0 {
		errs = append(errs, ValidationError{Field: "resume.max_auto_retries", Message: "must not be negative"})
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.IdleTimeout.Duration == 0 {
		c.Server.IdleTimeout = defaults.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Server.URL == "" {
		c.Server.URL = defaults.Server.URL
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = defaults.Upstream.BaseURL
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = defaults.Upstream.Model
	}
	if c.Upstream.Timeout.Duration == 0 {
		c.Upstream.Timeout = defaults.Upstream.Timeout
	}
	if c.Upstream.SourceLabel == "" {
		c.Upstream.SourceLabel = defaults.Upstream.SourceLabel
	}

	if c.Stream.KeepaliveInterval.Duration == 0 {
		c.Stream.KeepaliveInterval = defaults.Stream.KeepaliveInterval
	}
	if c.Stream.PingEvery == 0 {
		c.Stream.PingEvery = defaults.Stream.PingEvery
	}
	if c.Stream.QueueCapacity == 0 {
		c.Stream.QueueCapacity = defaults.Stream.QueueCapacity
	}

	if c.Geocode.BaseURL == "" {
		c.Geocode.BaseURL = defaults.Geocode.BaseURL
	}
	if c.Geocode.UserAgent == "" {
		c.Geocode.UserAgent = defaults.Geocode.UserAgent
	}
	if c.Geocode.Timeout.Duration == 0 {
		c.Geocode.Timeout = defaults.Geocode.Timeout
	}
	if c.Geocode.RatePerSecond == 0 {
		c.Geocode.RatePerSecond = defaults.Geocode.RatePerSecond
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - DEEPSEEK_API_KEY: overrides upstream.api_key
//   - OPENAI_BASE_URL: overrides upstream.base_url (wins over DEEPSEEK_BASE_URL)
//   - DEEPSEEK_BASE_URL: overrides upstream.base_url
//   - DEEPSEEK_MODEL: overrides upstream.model
//   - AI_SOURCE_LABEL: overrides upstream.source_label
//   - PORT: overrides server.port
//   - BAZI_LOG_LEVEL: overrides logging.level
//   - BAZI_SERVER_URL: overrides server.url
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		c.Upstream.APIKey = key
	}

	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		c.Upstream.BaseURL = base
	} else if base := os.Getenv("DEEPSEEK_BASE_URL"); base != "" {
		c.Upstream.BaseURL = base
	}

	if model := os.Getenv("DEEPSEEK_MODEL"); model != "" {
		c.Upstream.Model = model
	}

	if label := os.Getenv("AI_SOURCE_LABEL"); label != "" {
		c.Upstream.SourceLabel = label
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if level := os.Getenv("BAZI_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if serverURL := os.Getenv("BAZI_SERVER_URL"); serverURL != "" {
		c.Server.URL = serverURL
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.CORSOrigins != nil {
		clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	return &clone
}

// String returns a string representation of the config for debugging.
// The API key is redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Upstream.APIKey != "" {
		safe.Upstream.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
