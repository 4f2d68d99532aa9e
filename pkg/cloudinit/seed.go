package cloudinit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
)

// VolumeLabel is the NoCloud datasource label cloud-init probes for.
const VolumeLabel = "cidata"

// WriteSeedISO builds the NoCloud seed image carrying user-data and
// meta-data at path.
func WriteSeedISO(path, userData, metaData string) error {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("unable to create iso writer: %w", err)
	}
	defer func() { _ = writer.Cleanup() }()

	if err := writer.AddFile(strings.NewReader(userData), "user-data"); err != nil {
		return fmt.Errorf("unable to stage user-data: %w", err)
	}
	if err := writer.AddFile(strings.NewReader(metaData), "meta-data"); err != nil {
		return fmt.Errorf("unable to stage meta-data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("unable to create %s: %w", filepath.Dir(path), err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("unable to create seed image: %w", err)
	}

	if err := writer.WriteTo(out, VolumeLabel); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return fmt.Errorf("unable to write seed image: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("unable to finalize seed image: %w", err)
	}
	return nil
}
