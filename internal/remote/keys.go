package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// keyNames in discovery order.
var keyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// DiscoverKey returns the first private key found under ~/.ssh.
func DiscoverKey() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to locate home directory: %w", err)
	}
	return discoverKeyIn(filepath.Join(home, ".ssh"))
}

func discoverKeyIn(dir string) (string, error) {
	for _, name := range keyNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no SSH private key found in %s (checked %s)", dir, strings.Join(keyNames, ", "))
}

// PublicKey reads the public half stored next to a private key.
func PublicKey(keyPath string) (string, error) {
	data, err := os.ReadFile(keyPath + ".pub")
	if err != nil {
		return "", fmt.Errorf("unable to read public key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
