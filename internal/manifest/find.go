package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound reports that no manifest file matched a name in any
// search directory.
var ErrNotFound = errors.New("manifest not found")

var manifestExtensions = []string{".yaml", ".yml"}

// SearchDirs returns the directories FindVM scans, in order: the
// current directory, every entry of $VITRINE_PATH, then the user
// manifest directory ~/.config/vitrine/vms.
func SearchDirs() []string {
	dirs := []string{"."}
	if path := os.Getenv("VITRINE_PATH"); path != "" {
		for _, d := range strings.Split(path, string(os.PathListSeparator)) {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "vitrine", "vms"))
	}
	return dirs
}

// FindVM resolves a VM manifest by name and loads it. A name carrying a
// path separator or a manifest extension is treated as a direct path;
// anything else is looked up as <name>.yaml or <name>.yml across the
// search directories.
func FindVM(name string) (*VM, error) {
	if strings.ContainsRune(name, os.PathSeparator) || hasManifestExt(name) {
		return LoadVM(name)
	}

	path, err := findManifest(name, SearchDirs())
	if err != nil {
		return nil, err
	}
	return LoadVM(path)
}

func hasManifestExt(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range manifestExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func findManifest(name string, dirs []string) (string, error) {
	for _, dir := range dirs {
		for _, ext := range manifestExtensions {
			candidate := filepath.Join(dir, name+ext)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q searched in %s", ErrNotFound, name, strings.Join(dirs, ", "))
}
