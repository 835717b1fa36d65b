//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Platforms without a system keychain keep secrets in a mode-0600 JSON
// file under the data directory, one flat object keyed "service/account".

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func readSecretsFile() map[string]string {
	out := make(map[string]string)
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return make(map[string]string)
	}
	return out
}

func keychainExec(service, account string) ([]byte, error) {
	val, ok := readSecretsFile()[service+"/"+account]
	if !ok {
		return nil, fmt.Errorf("no secret stored for %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainStore(service, account, value string) error {
	secrets := readSecretsFile()
	secrets[service+"/"+account] = value

	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(secretsFilePath(), data)
}
