//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// defaultDataDir resolves the XDG data home for daemon state: models,
// the database, the PID file.
func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "tutord-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "tutord")
}

func apiKeyHint() string {
	return ""
}

// fileBackend stores settings as one flat JSON object under the XDG
// config home. Numbers are decoded as json.Number so large integers
// round-trip exactly.
type fileBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	path := configFilePath()
	return &fileBackend{path: path, data: readSettings(path)}
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("tutord", "config.json")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tutord", "config.json")
}

// readSettings loads the JSON object at path, or an empty map when the
// file is missing. A malformed or unreadable file is reported on
// stderr, not fatal: the daemon still starts on defaults.
func readSettings(path string) map[string]any {
	out := make(map[string]any)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] unreadable config %s: %v; using defaults\n", path, err)
		}
		return out
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] malformed config %s: %v; using defaults\n", path, err)
		return make(map[string]any)
	}
	return out
}

func (b *fileBackend) save() error {
	data, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(b.path, data)
}

// atomicWrite lands data at path via a temp file and rename, mode 0600.
// The settings and secrets files both go through here: a crash mid-write
// must never leave a truncated file behind.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return werr
		}
		return cerr
	}
	if err := os.Chmod(name, 0o600); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	switch s := v.(type) {
	case string:
		return s, true, nil
	case json.Number:
		return s.String(), true, nil
	default:
		return fmt.Sprintf("%v", v), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
		}
		return i, true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s holds a %T, want an integer", key, v)
	}
}

func (b *fileBackend) put(key string, val any) error {
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) SetString(key, val string) error { return b.put(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.put(key, val) }

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return b.save()
}
