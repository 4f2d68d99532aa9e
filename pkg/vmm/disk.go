package vmm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// qemuUser is the account the system QEMU processes run as on Debian
// and Arch hosts.
const qemuUser = "libvirt-qemu"

// CreateOverlay creates a copy-on-write qcow2 overlay backed by base.
// sizeGiB sets the overlay's virtual size; 0 keeps the backing image's
// size.
func CreateOverlay(ctx context.Context, base, overlay string, sizeGiB int) error {
	args := []string{
		"create", "-f", "qcow2",
		"-o", fmt.Sprintf("backing_file=%s,backing_fmt=qcow2", base),
		overlay,
	}
	if sizeGiB > 0 {
		args = append(args, fmt.Sprintf("%dG", sizeGiB))
	}

	output, err := exec.CommandContext(ctx, "qemu-img", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unable to create overlay disk %s: %w: %s",
			overlay, err, strings.TrimSpace(string(output)))
	}

	return nil
}

// GrantQEMUAccess grants the QEMU user traversal ACLs on every ancestor
// of path that is not world-executable, plus read on path itself, so a
// domain can open disks living under the invoking user's home. ACL
// failures are logged and swallowed; on permissive hosts the domain
// starts without them.
func GrantQEMUAccess(logger *slog.Logger, path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	var chain []string
	for p := abs; ; p = filepath.Dir(p) {
		chain = append([]string{p}, chain...)
		if p == filepath.Dir(p) {
			break
		}
	}

	for _, p := range chain {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}

		perm := "rx"
		if info.IsDir() && p != abs {
			if info.Mode().Perm()&0o001 != 0 {
				continue
			}
			perm = "x"
		}

		entry := fmt.Sprintf("u:%s:%s", qemuUser, perm)
		output, err := exec.Command("setfacl", "-m", entry, p).CombinedOutput()
		if err != nil {
			logger.Debug("setfacl failed; QEMU may not reach VM files",
				"path", p, "error", err.Error(), "output", strings.TrimSpace(string(output)))
		}
	}
}
