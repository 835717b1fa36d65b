package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindBool
	kindFloat
)

// keySpec ties one dotted config key to its environment variable and
// to the Config field it fills. Secret keys never pass through the
// config backend; they come from the environment or the secret store.
type keySpec struct {
	key     string
	kind    keyKind
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", kind: kindInt, env: "TUTORD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.auth_token", kind: kindString, env: "TUTORD_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AuthToken },
	},
	{
		key: "providers.anthropic_api_key", kind: kindString, env: "TUTORD_ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.AnthropicAPIKey },
	},
	{
		key: "providers.anthropic_model", kind: kindString, env: "TUTORD_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.AnthropicModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.AnthropicModel },
	},
	{
		key: "providers.openai_api_key", kind: kindString, env: "TUTORD_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIAPIKey },
	},
	{
		key: "providers.openai_model", kind: kindString, env: "TUTORD_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIModel },
	},
	{
		key: "providers.edge_base_url", kind: kindString, env: "TUTORD_EDGE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.EdgeBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.EdgeBaseURL },
	},
	{
		key: "providers.edge_model", kind: kindString, env: "TUTORD_EDGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.EdgeModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.EdgeModel },
	},
	{
		key: "ondevice.enabled", kind: kindBool, env: "TUTORD_ONDEVICE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.OnDevice.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.OnDevice.Enabled },
	},
	{
		key: "ondevice.model", kind: kindString, env: "TUTORD_ONDEVICE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OnDevice.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OnDevice.Model },
	},
	{
		key: "ondevice.context_size", kind: kindInt, env: "TUTORD_ONDEVICE_CONTEXT_SIZE",
		apply:   func(cfg *Config, v any) { cfg.OnDevice.ContextSize = v.(int) },
		extract: func(cfg Config) any { return cfg.OnDevice.ContextSize },
	},
	{
		key: "ondevice.threads", kind: kindInt, env: "TUTORD_ONDEVICE_THREADS",
		apply:   func(cfg *Config, v any) { cfg.OnDevice.Threads = v.(int) },
		extract: func(cfg Config) any { return cfg.OnDevice.Threads },
	},
	{
		key: "ondevice.temperature", kind: kindFloat, env: "TUTORD_ONDEVICE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.OnDevice.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.OnDevice.Temperature },
	},
	{
		key: "ondevice.max_tokens", kind: kindInt, env: "TUTORD_ONDEVICE_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.OnDevice.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.OnDevice.MaxTokens },
	},
	{
		key: "models.dir", kind: kindString, env: "TUTORD_MODELS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Models.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Dir },
	},
	{
		key: "storage.data_dir", kind: kindString, env: "TUTORD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "device.tier", kind: kindString, env: "TUTORD_DEVICE_TIER",
		apply:   func(cfg *Config, v any) { cfg.Device.Tier = v.(string) },
		extract: func(cfg Config) any { return cfg.Device.Tier },
	},
	{
		key: "device.network", kind: kindString, env: "TUTORD_DEVICE_NETWORK",
		apply:   func(cfg *Config, v any) { cfg.Device.Network = v.(string) },
		extract: func(cfg Config) any { return cfg.Device.Network },
	},
	{
		key: "device.probe_url", kind: kindString, env: "TUTORD_DEVICE_PROBE_URL",
		apply:   func(cfg *Config, v any) { cfg.Device.ProbeURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Device.ProbeURL },
	},
	{
		key: "log.level", kind: kindString, env: "TUTORD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseKeyValue decodes raw into the Go type apply expects for kind.
func parseKeyValue(kind keyKind, raw string) (any, error) {
	switch kind {
	case kindInt:
		return strconv.Atoi(raw)
	case kindBool:
		return strconv.ParseBool(raw)
	case kindFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

// applyBackend fills cfg from the platform settings backend. Integers use
// the backend's native type; bools and floats ride as strings. A value
// that fails to parse keeps the default rather than aborting the load.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.kind == kindInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.kind != kindString) {
			continue
		}
		v, err := parseKeyValue(s.kind, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] config key %s=%q: %v; keeping default\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets TUTORD_* environment variables win over stored
// settings. Empty variables are treated as unset.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseKeyValue(s.kind, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] env %s=%q: %v; keeping default\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
