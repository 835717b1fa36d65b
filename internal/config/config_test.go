package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error {
	m.strings[key] = val
	return nil
}

func (m *memBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *memBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

// mockKeychain serves secrets by account name.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.values[account]
	if !ok {
		return "", fmt.Errorf("account %q not found", account)
	}
	return v, nil
}

// clearEnv blanks every TUTORD_* variable so ambient environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4700 {
		t.Errorf("Server.Port = %d, want 4700", cfg.Server.Port)
	}
	if !cfg.OnDevice.Enabled {
		t.Error("OnDevice.Enabled = false, want true")
	}
	if cfg.OnDevice.ContextSize != 4096 {
		t.Errorf("OnDevice.ContextSize = %d, want 4096", cfg.OnDevice.ContextSize)
	}
	if cfg.OnDevice.Temperature != 0.7 {
		t.Errorf("OnDevice.Temperature = %v, want 0.7", cfg.OnDevice.Temperature)
	}
	if cfg.OnDevice.MaxTokens != 1024 {
		t.Errorf("OnDevice.MaxTokens = %d, want 1024", cfg.OnDevice.MaxTokens)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if filepath.Base(cfg.Models.Dir) != "models" {
		t.Errorf("Models.Dir = %q, want a models subdirectory", cfg.Models.Dir)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strings["storage.data_dir"] = "/tmp/tutord-test"
	b.strings["log.level"] = "debug"
	b.strings["ondevice.enabled"] = "false"
	b.strings["ondevice.temperature"] = "0.2"
	b.strings["providers.edge_base_url"] = "http://homelab:11434"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/tutord-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.OnDevice.Enabled {
		t.Error("OnDevice.Enabled = true, want false")
	}
	if cfg.OnDevice.Temperature != 0.2 {
		t.Errorf("OnDevice.Temperature = %v, want 0.2", cfg.OnDevice.Temperature)
	}
	if cfg.Providers.EdgeBaseURL != "http://homelab:11434" {
		t.Errorf("Providers.EdgeBaseURL = %q", cfg.Providers.EdgeBaseURL)
	}
}

func TestBackendBadBoolKeepsDefault(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strings["ondevice.enabled"] = "maybe"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.OnDevice.Enabled {
		t.Error("OnDevice.Enabled = false, want default true after unparseable value")
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.ints["server.port"] = 5000

	t.Setenv("TUTORD_SERVER_PORT", "6000")
	t.Setenv("TUTORD_ONDEVICE_TEMPERATURE", "0.9")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env override 6000", cfg.Server.Port)
	}
	if cfg.OnDevice.Temperature != 0.9 {
		t.Errorf("OnDevice.Temperature = %v, want 0.9", cfg.OnDevice.Temperature)
	}
}

func TestEnvOverrideBadIntKeepsDefault(t *testing.T) {
	clearEnv(t)

	t.Setenv("TUTORD_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(newMemBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4700 {
		t.Errorf("Server.Port = %d, want default 4700 after unparseable env", cfg.Server.Port)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{values: map[string]string{
		"anthropic_api_key": "kc-anthropic",
		"auth_token":        "kc-token",
	}}

	cfg, err := loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Providers.AnthropicAPIKey != "kc-anthropic" {
		t.Errorf("AnthropicAPIKey = %q, want %q", cfg.Providers.AnthropicAPIKey, "kc-anthropic")
	}
	if cfg.Server.AuthToken != "kc-token" {
		t.Errorf("AuthToken = %q, want %q", cfg.Server.AuthToken, "kc-token")
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey = %q, want empty", cfg.Providers.OpenAIAPIKey)
	}
}

func TestEnvBeatsKeychain(t *testing.T) {
	clearEnv(t)

	t.Setenv("TUTORD_OPENAI_API_KEY", "env-key")
	kc := mockKeychain{values: map[string]string{"openai_api_key": "kc-key"}}

	cfg, err := loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.OpenAIAPIKey != "env-key" {
		t.Errorf("OpenAIAPIKey = %q, want env value", cfg.Providers.OpenAIAPIKey)
	}
}

func TestBackendSkipsSecrets(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strings["providers.anthropic_api_key"] = "from-backend"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.AnthropicAPIKey != "" {
		t.Errorf("AnthropicAPIKey = %q, want empty: secrets must not load from the backend", cfg.Providers.AnthropicAPIKey)
	}
}

func TestInvalidDeviceTier(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strings["device.tier"] = "ultra"

	_, err := loadWith(b, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for invalid device.tier, got nil")
	}
	if !strings.Contains(err.Error(), "device.tier") {
		t.Errorf("error = %q, want it to name device.tier", err)
	}
}

func TestInvalidNetworkOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("TUTORD_DEVICE_NETWORK", "5g")

	_, err := loadWith(newMemBackend(), mockKeychain{})
	if err == nil {
		t.Fatal("expected error for invalid device.network, got nil")
	}
	if !strings.Contains(err.Error(), "device.network") {
		t.Errorf("error = %q, want it to name device.network", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strings["log.level"] = "verbose"

	_, err := loadWith(b, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for invalid log.level, got nil")
	}
}

func TestWriteKey(t *testing.T) {
	b := newMemBackend()

	if err := writeKey(b, specByKey(t, "server.port"), "8080"); err != nil {
		t.Fatalf("writeKey int: %v", err)
	}
	if b.ints["server.port"] != 8080 {
		t.Errorf("backend port = %d, want 8080", b.ints["server.port"])
	}

	if err := writeKey(b, specByKey(t, "ondevice.enabled"), "FALSE"); err != nil {
		t.Fatalf("writeKey bool: %v", err)
	}
	if b.strings["ondevice.enabled"] != "false" {
		t.Errorf("backend enabled = %q, want normalized %q", b.strings["ondevice.enabled"], "false")
	}

	if err := writeKey(b, specByKey(t, "ondevice.temperature"), "0.35"); err != nil {
		t.Fatalf("writeKey float: %v", err)
	}
	if b.strings["ondevice.temperature"] != "0.35" {
		t.Errorf("backend temperature = %q, want %q", b.strings["ondevice.temperature"], "0.35")
	}

	if err := writeKey(b, specByKey(t, "server.port"), "eighty"); err == nil {
		t.Error("expected error for non-integer port value")
	}
}

func specByKey(t *testing.T, key string) keySpec {
	t.Helper()
	for _, s := range specs {
		if s.key == key {
			return s
		}
	}
	t.Fatalf("no spec for key %q", key)
	return keySpec{}
}

func TestSetKeyUnknown(t *testing.T) {
	if err := SetKey("bogus.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestUnsetKeyUnknown(t *testing.T) {
	if err := UnsetKey("bogus.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestUnsetKeySecretRefused(t *testing.T) {
	err := UnsetKey("providers.anthropic_api_key")
	if err == nil {
		t.Fatal("expected error when unsetting a secret")
	}
	if !strings.Contains(err.Error(), "secret") {
		t.Errorf("error = %q, want it to mention the secret store", err)
	}
}

func TestShowAllSkipsSecrets(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for _, info := range ShowAll(cfg) {
		seen[info.Key] = true
	}

	if !seen["server.port"] {
		t.Error("ShowAll missing server.port")
	}
	if seen["providers.anthropic_api_key"] || seen["server.auth_token"] {
		t.Error("ShowAll must not list secret keys")
	}
}

func TestValidKeysIncludesSecrets(t *testing.T) {
	keys := ValidKeys()
	want := map[string]bool{
		"server.port":                 false,
		"providers.anthropic_api_key": false,
		"ondevice.model":              false,
	}
	for _, k := range keys {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("ValidKeys missing %q", k)
		}
	}
}
