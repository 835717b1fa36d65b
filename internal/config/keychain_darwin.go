//go:build darwin

package config

import "os/exec"

// Secrets ride the login keychain as generic passwords under the
// tutord service name.

func keychainExec(service, account string) ([]byte, error) {
	return exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
}

func keychainStore(service, account, value string) error {
	// -U updates an existing item instead of failing on a duplicate.
	return exec.Command(
		"security", "add-generic-password",
		"-U",
		"-D", "application password",
		"-s", service,
		"-a", account,
		"-w", value,
	).Run()
}
