// Package config loads the single typed configuration value shared by all
// three tiers from a YAML file, then applies environment variable
// overrides. It is built once at startup and passed by read-only
// reference, per the injected-state style used throughout WOPA.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Mode selects whether the Provider tier is addressed locally or via
// external endpoints (the latter out of scope for this implementation).
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeOnline Mode = "online"
)

// ModelParams carries pass-through generation parameters for an LLM model.
type ModelParams struct {
	Temperature float64        `yaml:"temperature"`
	TopP        float64        `yaml:"top_p"`
	Extra       map[string]any `yaml:",inline"`
}

// ModelConfig names a model and its default parameters.
type ModelConfig struct {
	Name          string      `yaml:"name"`
	DefaultParams ModelParams `yaml:"default_params"`
}

// LLMConfig configures the Provider tier's LLM routing.
type LLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	Models   struct {
		ChatModel   ModelConfig `yaml:"chat_model"`
		VisionModel ModelConfig `yaml:"vision_model"`
	} `yaml:"models"`
}

// SandboxConfig configures the Provider tier's sandbox routing.
type SandboxConfig struct {
	Endpoints      []string `yaml:"endpoints"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxRetries     int      `yaml:"max_retries"`
}

// EmulatorConfig configures the Provider tier's emulator routing.
type EmulatorConfig struct {
	Endpoints        []string `yaml:"endpoints"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	MaxRetries       int      `yaml:"max_retries"`
	VNCURLTemplate   string   `yaml:"vnc_url_template"`
	DefaultVNCPort   int      `yaml:"default_vnc_port"`
}

// LoggingConfig configures the minimum log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HealthProbeConfig configures the cadence and failure threshold for one
// provider kind's background health probe, resolving the spec's §9 open
// question about per-kind overrides.
type HealthProbeConfig struct {
	Cron           string `yaml:"cron"`
	UnhealthyAfter int    `yaml:"unhealthy_after"`
}

// HealthConfig carries per-kind probe overrides, keyed by provider kind
// ("llm_chat", "llm_vision", "sandbox", "emulator"). Any kind absent from
// the map uses the package defaults.
type HealthConfig map[string]HealthProbeConfig

// RateLimitConfig configures the Service tier's per-client limiter.
type RateLimitConfig struct {
	Capacity     int64 `yaml:"capacity"`
	FillRate     int64 `yaml:"fill_rate"`
	WindowSecs   int64 `yaml:"window_seconds"`
	MaxPerWindow int64 `yaml:"max_per_window"`
}

// Config is the single typed configuration value loaded once at startup.
type Config struct {
	Mode               Mode            `yaml:"mode"`
	ProvidersServerURL string          `yaml:"providers_server_url"`
	WorkerServerURL    string          `yaml:"worker_server_url"`
	LLM                LLMConfig       `yaml:"llm"`
	Sandbox            SandboxConfig   `yaml:"sandbox"`
	Emulator           EmulatorConfig  `yaml:"emulator"`
	Logging            LoggingConfig   `yaml:"logging"`
	Health             HealthConfig    `yaml:"health"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
	RegistryPath       string          `yaml:"registry_path"`
}

// Default returns a Config with every value the spec documents a default
// for already set, suitable as the base for YAML decode and env overrides.
func Default() Config {
	return Config{
		Mode:               ModeLocal,
		ProvidersServerURL: "http://localhost:8082",
		WorkerServerURL:    "http://localhost:8081",
		Sandbox: SandboxConfig{
			TimeoutSeconds: 300,
			MaxRetries:     1,
		},
		Emulator: EmulatorConfig{
			TimeoutSeconds: 600,
			MaxRetries:     1,
			VNCURLTemplate: "vnc://{host}:{port}",
			DefaultVNCPort: 5900,
		},
		Logging: LoggingConfig{Level: "INFO"},
		Health:  HealthConfig{},
		RateLimit: RateLimitConfig{
			Capacity:     200,
			FillRate:     200,
			WindowSecs:   60,
			MaxPerWindow: 300,
		},
	}
}

// Load reads YAML from path over the Default() base, then applies the
// documented environment variable overrides. An empty path skips the YAML
// step and returns the defaults plus env overrides only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PROVIDER_SERVER_URL"); v != "" {
		cfg.ProvidersServerURL = v
	}
	if v := os.Getenv("WORKER_SERVER_URL"); v != "" {
		cfg.WorkerServerURL = v
	}
}

// ModeFromEnv reads MODE (run|test), defaulting to "run".
func ModeFromEnv() string {
	if v := os.Getenv("MODE"); v != "" {
		return v
	}
	return "run"
}

// TestModeFromEnv reads TEST_MODE (unit|integration), defaulting to "".
func TestModeFromEnv() string {
	return os.Getenv("TEST_MODE")
}

// EnvInt reads an int environment variable, returning def if unset or
// unparseable.
func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// HealthProbeFor resolves the effective probe cadence/threshold for kind,
// falling back to the spec defaults (30s cadence, 3 consecutive failures)
// when no per-kind override is configured.
func (c Config) HealthProbeFor(kind string) HealthProbeConfig {
	if hp, ok := c.Health[kind]; ok {
		if hp.Cron == "" {
			hp.Cron = "@every 30s"
		}
		if hp.UnhealthyAfter == 0 {
			hp.UnhealthyAfter = 3
		}
		return hp
	}
	return HealthProbeConfig{Cron: "@every 30s", UnhealthyAfter: 3}
}
