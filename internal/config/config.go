// Package config loads the control plane's configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the workflow control plane.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Vault     VaultConfig     `toml:"vault"`
	Connector ConnectorConfig `toml:"connector"`
	Webhook   WebhookConfig   `toml:"webhook"`
	TTS       TTSConfig       `toml:"tts"`
	Presets   PresetsConfig   `toml:"presets"`
	HTTP      HTTPConfig      `toml:"http"`
	Log       LogConfig       `toml:"log"`
}

// StoreConfig holds embedded-database settings.
type StoreConfig struct {
	DataDir string `toml:"data_dir"` // directory holding the SQLite file, default /data
}

// ArtifactsConfig holds the artifact filesystem root.
type ArtifactsConfig struct {
	Dir string `toml:"dir"` // default /data/artifacts
}

// VaultConfig holds the secrets vault master key.
type VaultConfig struct {
	MasterKey string `toml:"-"` // never persisted to a file; MASTER_KEY env var only
}

// ConnectorConfig holds the outbound tool-invocation service settings.
type ConnectorConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"-"` // never persisted to a file
}

// WebhookConfig holds run-completion notification settings.
type WebhookConfig struct {
	URL              string `toml:"url"`
	Secret           string `toml:"-"` // never persisted to a file
	NotifyOnComplete bool   `toml:"notify_on_complete"`
}

// TTSConfig holds optional text-to-speech enrichment settings for webhook payloads.
type TTSConfig struct {
	Provider string `toml:"provider"` // none | elevenlabs | openai
	Voice    string `toml:"voice"`
	APIKey   string `toml:"-"`
}

// PresetsConfig holds the seeded model preset catalog.
type PresetsConfig struct {
	Quality string `toml:"quality"`
	Main    string `toml:"main"`
	Fast    string `toml:"fast"`
	Long    string `toml:"long"`
	Default string `toml:"default"`
}

// HTTPConfig holds HTTP listener settings.
type HTTPConfig struct {
	Addr string `toml:"addr"` // default :8080
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load creates a Config by reading from an optional TOML config file and
// environment variables. Precedence: environment variables > config file >
// defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter
//  2. CONTROL_PLANE_CONFIG environment variable
//  3. ./control-plane.toml (current directory)
//  4. ~/.config/control-plane/control-plane.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			DataDir: "/data",
		},
		Artifacts: ArtifactsConfig{
			Dir: "/data/artifacts",
		},
		Webhook: WebhookConfig{
			NotifyOnComplete: true,
		},
		TTS: TTSConfig{
			Provider: "none",
		},
		Presets: PresetsConfig{
			Quality: "glm-quality",
			Main:    "glm-main",
			Fast:    "glm-fast",
			Long:    "glm-long",
			Default: "quality",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // no config file found; rely on defaults + env
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty string
// if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit // caller wants this file; let DecodeFile report if missing
	}

	if p := os.Getenv("CONTROL_PLANE_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("control-plane.toml"); err == nil {
		return "control-plane.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/control-plane/control-plane.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config values.
// An env var only takes effect if it is non-empty.
func (c *Config) applyEnv() {
	envOverride("DATA_DIR", &c.Store.DataDir)
	envOverride("ARTIFACTS_DIR", &c.Artifacts.Dir)
	envOverride("MASTER_KEY", &c.Vault.MasterKey)

	envOverride("MCP_RUBE_URL", &c.Connector.URL)
	envOverride("MCP_RUBE_API_KEY", &c.Connector.APIKey)

	envOverride("WEBHOOK_URL", &c.Webhook.URL)
	envOverride("WEBHOOK_SECRET", &c.Webhook.Secret)
	if v := os.Getenv("NOTIFY_ON_COMPLETE"); v != "" {
		c.Webhook.NotifyOnComplete = v == "true" || v == "1"
	}

	envOverride("TTS_PROVIDER", &c.TTS.Provider)
	envOverride("TTS_VOICE", &c.TTS.Voice)
	envOverride("TTS_API_KEY", &c.TTS.APIKey)

	envOverride("MODEL_PRESET_QUALITY", &c.Presets.Quality)
	envOverride("MODEL_PRESET_MAIN", &c.Presets.Main)
	envOverride("MODEL_PRESET_FAST", &c.Presets.Fast)
	envOverride("MODEL_PRESET_LONG", &c.Presets.Long)
	envOverride("DEFAULT_MODEL_PRESET", &c.Presets.Default)

	envOverride("CONTROL_PLANE_ADDR", &c.HTTP.Addr)
	envOverride("CONTROL_PLANE_LOG_LEVEL", &c.Log.Level)
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Vault.MasterKey == "" {
		return fmt.Errorf("MASTER_KEY is required: set the MASTER_KEY environment variable")
	}
	switch c.TTS.Provider {
	case "none", "elevenlabs", "openai":
	default:
		return fmt.Errorf("invalid TTS_PROVIDER: %q (must be \"none\", \"elevenlabs\", or \"openai\")", c.TTS.Provider)
	}
	return nil
}

// envOverride sets *dst to the value of the named env var, if it is non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
