// Package config provides configuration management for the Rocket Search AI
// gateway. It handles loading and parsing YAML configuration files and provides
// structured access to application settings including server port, identity
// verification, quota enforcement, upstream model invocation, and logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDailyLimit is the number of accepted requests per identity per window.
	DefaultDailyLimit = 20

	// DefaultWindowSeconds is the quota window length (24 hours).
	DefaultWindowSeconds = 86400

	// DefaultVerificationTTLSeconds is how long a verified token digest stays cached.
	DefaultVerificationTTLSeconds = 3600

	// DefaultUpstreamTimeoutSeconds bounds a full upstream generation call.
	DefaultUpstreamTimeoutSeconds = 120

	// DefaultCertsURL serves the securetoken signing certificates used to
	// validate identity tokens.
	DefaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

	// DefaultPromptPrefix wraps the user text before it is sent upstream.
	DefaultPromptPrefix = "You are a helpful assistant. Please answer the following question within 100 words: "
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the gateway listens on.
	Port int `yaml:"port" json:"port"`

	// Debug enables verbose logging when true.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output from stdout to rotating files.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// Auth configures identity-token verification.
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Quota configures the per-identity daily request limit.
	Quota QuotaConfig `yaml:"quota" json:"quota"`

	// Upstream configures the LLM backend invocation.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// Streaming configures server-side streaming behavior.
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`
}

// AuthConfig holds identity-token verification settings.
type AuthConfig struct {
	// ProjectID is the identity project the token audience must match.
	ProjectID string `yaml:"project-id" json:"project-id"`

	// CertsURL overrides the public signing-certificate feed. Empty uses the default.
	CertsURL string `yaml:"certs-url,omitempty" json:"certs-url,omitempty"`

	// CacheTTLSeconds is the verified-token cache lifetime. <= 0 uses the default.
	CacheTTLSeconds int `yaml:"cache-ttl-seconds,omitempty" json:"cache-ttl-seconds,omitempty"`
}

// QuotaConfig holds rate-limiting settings.
type QuotaConfig struct {
	// DailyLimit is the number of accepted requests per identity per window.
	// <= 0 uses the default of 20.
	DailyLimit int `yaml:"daily-limit,omitempty" json:"daily-limit,omitempty"`

	// WindowSeconds is the fixed bucket length. <= 0 uses 86400 (24 hours).
	WindowSeconds int `yaml:"window-seconds,omitempty" json:"window-seconds,omitempty"`

	// CleanupIntervalSeconds controls how often stale quota records are swept.
	// <= 0 disables the sweeper.
	CleanupIntervalSeconds int `yaml:"cleanup-interval-seconds,omitempty" json:"cleanup-interval-seconds,omitempty"`
}

// UpstreamConfig holds LLM backend settings.
type UpstreamConfig struct {
	// URL is the streaming chat-completion endpoint.
	URL string `yaml:"url" json:"url"`

	// APIToken authenticates the gateway to the upstream provider.
	APIToken string `yaml:"api-token" json:"api-token"`

	// Model is the upstream model identifier.
	Model string `yaml:"model" json:"model"`

	// PromptPrefix is prepended to the user text when building the prompt.
	PromptPrefix string `yaml:"prompt-prefix,omitempty" json:"prompt-prefix,omitempty"`

	// TimeoutSeconds bounds the whole upstream call including streaming.
	// <= 0 uses the default.
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// StreamingConfig holds server streaming behavior configuration.
type StreamingConfig struct {
	// KeepAliveSeconds controls how often the server emits SSE heartbeats
	// (": keep-alive\n\n"). <= 0 disables keep-alives.
	KeepAliveSeconds int `yaml:"keepalive-seconds,omitempty" json:"keepalive-seconds,omitempty"`
}

// LoadConfig reads and parses the YAML configuration file at the given path.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing file when
// optional is true, returning a defaulted empty configuration instead.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg = &Config{}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8317
	}
	if strings.TrimSpace(c.Auth.CertsURL) == "" {
		c.Auth.CertsURL = DefaultCertsURL
	}
	if c.Auth.CacheTTLSeconds <= 0 {
		c.Auth.CacheTTLSeconds = DefaultVerificationTTLSeconds
	}
	if c.Quota.DailyLimit <= 0 {
		c.Quota.DailyLimit = DefaultDailyLimit
	}
	if c.Quota.WindowSeconds <= 0 {
		c.Quota.WindowSeconds = DefaultWindowSeconds
	}
	if c.Upstream.PromptPrefix == "" {
		c.Upstream.PromptPrefix = DefaultPromptPrefix
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = DefaultUpstreamTimeoutSeconds
	}
}

// VerificationTTL returns the verified-token cache lifetime as a duration.
func (c *Config) VerificationTTL() time.Duration {
	return time.Duration(c.Auth.CacheTTLSeconds) * time.Second
}

// QuotaWindow returns the fixed quota bucket length as a duration.
func (c *Config) QuotaWindow() time.Duration {
	return time.Duration(c.Quota.WindowSeconds) * time.Second
}

// UpstreamTimeout returns the upstream call deadline as a duration.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// KeepAliveInterval returns the SSE heartbeat interval, or zero when disabled.
func (c *Config) KeepAliveInterval() time.Duration {
	if c.Streaming.KeepAliveSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Streaming.KeepAliveSeconds) * time.Second
}
