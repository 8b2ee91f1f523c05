// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable ApplyEnvOverrides reads for the duration of a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEEPSEEK_API_KEY", "OPENAI_BASE_URL", "DEEPSEEK_BASE_URL", "DEEPSEEK_MODEL",
		"AI_SOURCE_LABEL", "PORT", "BAZI_LOG_LEVEL", "BAZI_SERVER_URL", "BAZI_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != "https://api.deepseek.com" {
		t.Errorf("Upstream.BaseURL = %q, want https://api.deepseek.com", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.Model != "deepseek-chat" {
		t.Errorf("Upstream.Model = %q, want deepseek-chat", cfg.Upstream.Model)
	}
	if cfg.Upstream.Temperature != 0.7 {
		t.Errorf("Upstream.Temperature = %v, want 0.7", cfg.Upstream.Temperature)
	}
	if cfg.Upstream.Timeout.Duration != 5*time.Minute {
		t.Errorf("Upstream.Timeout = %v, want 5m", cfg.Upstream.Timeout)
	}
	if cfg.Stream.KeepaliveInterval.Duration != 2*time.Second {
		t.Errorf("Stream.KeepaliveInterval = %v, want 2s", cfg.Stream.KeepaliveInterval)
	}
	if cfg.Stream.PingEvery != 5 {
		t.Errorf("Stream.PingEvery = %d, want 5", cfg.Stream.PingEvery)
	}
	if cfg.Stream.QueueCapacity != 1000 {
		t.Errorf("Stream.QueueCapacity = %d, want 1000", cfg.Stream.QueueCapacity)
	}
	if cfg.Resume.MaxAutoRetries != 1 {
		t.Errorf("Resume.MaxAutoRetries = %d, want 1", cfg.Resume.MaxAutoRetries)
	}
	if cfg.Upstream.IsConfigured() {
		t.Error("default config should not have an API key")
	}

	require.NoError(t, cfg.Validate())
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad upstream scheme", func(c *Config) { c.Upstream.BaseURL = "ftp://x" }, "upstream.base_url"},
		{"empty model", func(c *Config) { c.Upstream.Model = " " }, "upstream.model"},
		{"temperature too high", func(c *Config) { c.Upstream.Temperature = 3 }, "upstream.temperature"},
		{"zero keepalive", func(c *Config) { c.Stream.KeepaliveInterval = D(0) }, "stream.keepalive_interval"},
		{"zero ping cadence", func(c *Config) { c.Stream.PingEvery = 0 }, "stream.ping_every"},
		{"queue too large", func(c *Config) { c.Stream.QueueCapacity = MaxQueueCapacity + 1 }, "stream.queue_capacity"},
		{"no user agent", func(c *Config) { c.Geocode.UserAgent = "" }, "geocode.user_agent"},
		{"negative retries", func(c *Config) { c.Resume.MaxAutoRetries = -1 }, "resume.max_auto_retries"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()

			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "expected ValidateErrors, got %v", err)
			found := false
			for _, v := range verrs {
				if v.Field == tc.wantField {
					found = true
				}
			}
			assert.True(t, found, "expected error on %s, got %v", tc.wantField, verrs)
		})
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("DEEPSEEK_BASE_URL", "https://deepseek.example")
	t.Setenv("OPENAI_BASE_URL", "https://openai.example/v1")
	t.Setenv("DEEPSEEK_MODEL", "deepseek-reasoner")
	t.Setenv("AI_SOURCE_LABEL", "Example AI")
	t.Setenv("PORT", "8080")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "sk-test", cfg.Upstream.APIKey)
	assert.Equal(t, "https://openai.example/v1", cfg.Upstream.BaseURL, "OPENAI_BASE_URL wins over DEEPSEEK_BASE_URL")
	assert.Equal(t, "deepseek-reasoner", cfg.Upstream.Model)
	assert.Equal(t, "Example AI", cfg.Upstream.SourceLabel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Upstream.IsConfigured())
}

func TestConfig_ApplyEnvOverrides_DeepSeekBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_BASE_URL", "https://deepseek.example")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "https://deepseek.example", cfg.Upstream.BaseURL)
}

func TestConfig_ApplyEnvOverrides_IgnoresBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

// =============================================================================
// FILE FORMATS
// =============================================================================

func TestLoad_Formats(t *testing.T) {
	clearEnv(t)

	files := map[string]string{
		"config.toml": `
[upstream]
model = "toml-model"
timeout = "90s"

[stream]
keepalive_interval = "3s"
ping_every = 10
`,
		"config.yaml": `
upstream:
  model: yaml-model
  timeout: 90s
stream:
  keepalive_interval: 3s
  ping_every: 10
`,
		"config.json": `{
  "upstream": {"model": "json-model", "timeout": "90s"},
  "stream": {"keepalive_interval": "3s", "ping_every": 10}
}`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			cfg, err := Load(path)
			require.NoError(t, err)

			ext := strings.TrimPrefix(filepath.Ext(name), ".")
			assert.Equal(t, ext+"-model", cfg.Upstream.Model)
			assert.Equal(t, 90*time.Second, cfg.Upstream.Timeout.Duration)
			assert.Equal(t, 3*time.Second, cfg.Stream.KeepaliveInterval.Duration)
			assert.Equal(t, 10, cfg.Stream.PingEvery)
			// Untouched sections keep their defaults.
			assert.Equal(t, 1000, cfg.Stream.QueueCapacity)
			assert.Equal(t, DefaultNominatimURL, cfg.Geocode.BaseURL)
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[stream\nping_every = "), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[stream]\nping_every = -2\n"), 0o600))

	_, err := Load(path)
	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "stream.ping_every", verrs[0].Field)
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"2s", 2 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"30", 30 * time.Second, false},
		{"", 0, false},
		{"soon", 0, true},
	}

	for _, tc := range tests {
		var d Duration
		err := d.UnmarshalText([]byte(tc.in))
		if tc.err {
			if err == nil {
				t.Errorf("UnmarshalText(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("UnmarshalText(%q) error = %v", tc.in, err)
			continue
		}
		if d.Duration != tc.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tc.in, d.Duration, tc.want)
		}
	}
}

func TestConfig_StringRedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Upstream.APIKey = "sk-very-secret"

	s := cfg.String()
	assert.NotContains(t, s, "sk-very-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "sk-very-secret", cfg.Upstream.APIKey, "String must not mutate the original")
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[upstream]\nmodel = \"first\"\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(cfg *Config, err error) {
			if err == nil {
				reloaded <- cfg
			}
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[upstream]\nmodel = \"second\"\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "second", cfg.Upstream.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded after write")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
