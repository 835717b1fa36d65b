// Package config loads daemon settings from the platform-native config
// backend, TUTORD_* environment variables, and the platform secret
// store, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Providers ProvidersConfig
	OnDevice  OnDeviceConfig
	Models    ModelsConfig
	Storage   StorageConfig
	Device    DeviceConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// AuthToken admits non-loopback API callers. Empty keeps the
	// daemon loopback-only.
	AuthToken string
}

// ProvidersConfig holds cloud and edge provider settings. An empty
// model field keeps the client's built-in default; an empty edge base
// URL falls back to the local Ollama address.
type ProvidersConfig struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	EdgeBaseURL     string
	EdgeModel       string
}

// OnDeviceConfig controls the native inference engine. An empty Model
// means the largest catalog model the device is eligible for. Zero
// Threads lets the engine pick.
type OnDeviceConfig struct {
	Enabled     bool
	Model       string
	ContextSize int
	Threads     int
	Temperature float64
	MaxTokens   int
}

type ModelsConfig struct {
	Dir string
}

type StorageConfig struct {
	DataDir string
}

// DeviceConfig pins signals that detection cannot see or that tests
// need fixed. Empty values mean detect at startup.
type DeviceConfig struct {
	Tier     string
	Network  string
	ProbeURL string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		OnDevice: OnDeviceConfig{
			Enabled:     true,
			ContextSize: 4096,
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Models: ModelsConfig{
			Dir: filepath.Join(dataDir, "models"),
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigBackend abstracts the platform-native settings store. macOS
// uses UserDefaults through the defaults CLI; other platforms use a
// JSON file in the XDG config directory.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// keychain abstracts secret-store reads for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "tutord"

// Load reads configuration from the platform-native backend,
// environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.tutord.app) and
// secrets fall back to the macOS Keychain. On Linux the backend is a
// JSON file at $XDG_CONFIG_HOME/tutord/config.json and secrets live in
// $XDG_DATA_HOME/tutord/secrets.json.
//
// Environment variables (TUTORD_*) override backend values on all
// platforms. Cloud API keys are optional: without them the daemon
// serves from the edge and on-device providers only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets absent from the backend path and the environment fall
	// back to the platform secret store.
	if cfg.Providers.AnthropicAPIKey == "" {
		if key, err := kc.Get(keychainService, "anthropic_api_key"); err == nil && key != "" {
			cfg.Providers.AnthropicAPIKey = key
		}
	}
	if cfg.Providers.OpenAIAPIKey == "" {
		if key, err := kc.Get(keychainService, "openai_api_key"); err == nil && key != "" {
			cfg.Providers.OpenAIAPIKey = key
		}
	}
	if cfg.Server.AuthToken == "" {
		if tok, err := kc.Get(keychainService, "auth_token"); err == nil && tok != "" {
			cfg.Server.AuthToken = tok
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	if cfg.Providers.AnthropicAPIKey == "" && cfg.Providers.OpenAIAPIKey == "" {
		fmt.Fprintf(os.Stderr, "[WARN] no cloud API key configured; cloud providers are disabled. Set TUTORD_ANTHROPIC_API_KEY or TUTORD_OPENAI_API_KEY%s.\n", apiKeyHint())
	}

	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Device.Tier {
	case "", "minimum", "standard", "flagship":
	default:
		return fmt.Errorf("invalid device.tier %q: valid values are minimum, standard, flagship", cfg.Device.Tier)
	}
	switch cfg.Device.Network {
	case "", "offline", "poor", "good", "excellent":
	default:
		return fmt.Errorf("invalid device.network %q: valid values are offline, poor, good, excellent", cfg.Device.Network)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: valid values are debug, info, warn, error", cfg.Log.Level)
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
