package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// stateFile is the handle's persisted form inside its working
// directory.
const stateFile = "state.json"

// Handle is one instantiated VM's runtime identity: the domain it maps
// to, where its disks live, and how to reach its shell. Up constructs
// it, Destroy invalidates it; it is never reused across lifecycles.
type Handle struct {
	Name       string    `json:"name"`
	InstanceID string    `json:"instance_id"`
	Domain     string    `json:"domain"`
	Image      string    `json:"image"`
	Workdir    string    `json:"workdir"`
	Address    string    `json:"address,omitempty"`
	SSHUser    string    `json:"ssh_user"`
	SSHPort    int       `json:"ssh_port"`
	KeyPath    string    `json:"key_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Snapshots  []string  `json:"snapshots,omitempty"`
}

// RunsDir is where test runs against this VM write their reports and
// artifacts.
func (h *Handle) RunsDir() string {
	return filepath.Join(h.Workdir, "runs")
}

// save writes the handle atomically to its workdir so an interrupted
// write never leaves a torn state file.
func (h *Handle) save() error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal VM state: %w", err)
	}

	final := filepath.Join(h.Workdir, stateFile)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("unable to write VM state: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unable to finalize VM state: %w", err)
	}

	return nil
}

// loadHandle reads a persisted handle from a working directory.
func loadHandle(workdir string) (*Handle, error) {
	data, err := os.ReadFile(filepath.Join(workdir, stateFile))
	if err != nil {
		return nil, err
	}

	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unable to parse VM state in %s: %w", workdir, err)
	}

	return &h, nil
}
