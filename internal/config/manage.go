package config

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all non-secret config key/value pairs from the
// current config. Secret values never reach the terminal.
func ShowAll(cfg Config) []KeyInfo {
	infos := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		infos = append(infos, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprint(s.extract(cfg)),
		})
	}
	return infos
}

// SetKey writes a config key to the platform backend. Secret keys go
// to the platform secret store instead, since the backend stores
// values in plain text.
func SetKey(key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keychainStore(keychainService, secretAccount(s.key), value)
		}
		return writeKey(newPlatformBackend(), s, value)
	}
	return fmt.Errorf("unknown config key: %q", key)
}

// UnsetKey removes a key from the platform backend so the default
// applies again.
func UnsetKey(key string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot unset secret %q here; overwrite it with config set or remove it from the platform secret store", key)
		}
		return newPlatformBackend().Delete(key)
	}
	return fmt.Errorf("unknown config key: %q", key)
}

// writeKey validates value against the key's kind and stores it.
// Integers use the backend's native type; bools and floats are
// normalized and stored as strings.
func writeKey(b ConfigBackend, s keySpec, value string) error {
	parsed, err := parseKeyValue(s.kind, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", s.key, err)
	}
	switch v := parsed.(type) {
	case int:
		return b.SetInt(s.key, v)
	case bool:
		return b.SetString(s.key, strconv.FormatBool(v))
	case float64:
		return b.SetString(s.key, strconv.FormatFloat(v, 'g', -1, 64))
	default:
		return b.SetString(s.key, value)
	}
}

// secretAccount maps a dotted key to its secret-store account name.
func secretAccount(key string) string {
	return key[strings.LastIndex(key, ".")+1:]
}

// ValidKeys returns the config key names accepted by SetKey.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
