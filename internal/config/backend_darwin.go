//go:build darwin

package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Settings live in the user defaults database under this domain;
// secrets go to the Keychain instead.
const defaultsDomain = "com.tutord.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tutord-data"
	}
	return filepath.Join(home, "Library", "Application Support", "tutord")
}

func apiKeyHint() string {
	return " or add the key to the macOS Keychain (service: tutord)"
}

// darwinBackend reads and writes the defaults database through the
// defaults tool.
type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

// read returns the raw value for key. A missing domain/key pair is
// absence, not an error.
func (b *darwinBackend) read(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if strings.Contains(text, "does not exist") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, text)
	}
	return text, true, nil
}

func (b *darwinBackend) write(key, typeFlag, value string) error {
	out, err := exec.Command("defaults", "write", b.domain, key, typeFlag, value).CombinedOutput()
	if err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

// Delete removes the key; deleting a key that was never set succeeds.
func (b *darwinBackend) Delete(key string) error {
	out, err := exec.Command("defaults", "delete", b.domain, key).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "does not exist") {
			return nil
		}
		return fmt.Errorf("defaults delete %s: %w", key, err)
	}
	return nil
}
