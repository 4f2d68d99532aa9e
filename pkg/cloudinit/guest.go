package cloudinit

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"k8s.io/utils/ptr"
)

// ServiceName is the systemd user unit running the compositor.
const ServiceName = "vitrine-compositor"

// guestPassword lets a human log in on the SPICE console.
const guestPassword = "vitrine"

// GuestConfig carries everything a guest's first boot must set up.
type GuestConfig struct {
	// User is the remote-shell account, created with passwordless sudo
	// and membership in the video and audio groups.
	User string

	// PublicKey is the host's SSH public key, authorized for User.
	PublicKey string

	Packages   []string
	Compositor string

	// Env is exported to the compositor service, with WLR_BACKENDS
	// forced to headless so in-guest capture tools see outputs.
	Env map[string]string

	// ArchImage switches on pacman keyring initialization. Arch cloud
	// images ship an unpopulated keyring.
	ArchImage bool
}

// IsArchImage reports whether a base image name looks like Arch Linux.
func IsArchImage(image string) bool {
	return strings.Contains(strings.ToLower(image), "arch")
}

// ForGuest assembles the first-boot configuration: the remote-shell
// user, package installation, the compositor as a systemd user
// service, tty1 autologin with a .bash_profile compositor launch for
// interactive console sessions, and audio via pipewire.
func ForGuest(cfg GuestConfig) UserData {
	home := "/home/" + cfg.User
	owner := cfg.User + ":" + cfg.User

	bootcmd := []string{
		"systemctl mask --now systemd-time-wait-sync.service",
	}
	if cfg.ArchImage {
		bootcmd = append(bootcmd, "pacman-key --init && pacman-key --populate archlinux")
	}

	files := []WriteFile{
		{
			Path:    "/etc/systemd/system/getty@tty1.service.d/autologin.conf",
			Content: autologinDropIn(cfg.User),
		},
		{
			Path:    home + "/.bashrc",
			Owner:   owner,
			Defer:   true,
			Append:  true,
			Content: `export PATH="$HOME/.local/bin:$PATH"` + "\n",
		},
	}

	// Without a compositor there is no unit to install and nothing to
	// launch on tty1.
	userUnits := "pipewire wireplumber"
	if cfg.Compositor != "" {
		files = append(files,
			WriteFile{
				Path:    home + "/.config/systemd/user/" + ServiceName + ".service",
				Owner:   owner,
				Defer:   true,
				Content: compositorService(cfg.Compositor, cfg.Env),
			},
			WriteFile{
				Path:    home + "/.bash_profile",
				Owner:   owner,
				Defer:   true,
				Content: bashProfile(cfg.Compositor),
			},
		)
		userUnits += " " + ServiceName
	}

	return UserData{
		BootCommands: bootcmd,
		Users: []User{{
			Name:              cfg.User,
			SSHAuthorizedKeys: []string{cfg.PublicKey},
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Groups:            []string{"video", "audio"},
			Shell:             "/bin/bash",
			LockPasswd:        ptr.To(false),
			PlainTextPasswd:   guestPassword,
		}},
		ChPasswd:        &ChPasswd{Expire: false},
		SSHPasswordAuth: true,
		PackageUpdate:   true,
		Packages:        append([]string(nil), cfg.Packages...),
		WriteFiles:      files,
		RunCommands: []string{
			"systemctl enable --now sshd || systemctl enable --now ssh || true",
			"loginctl enable-linger " + cfg.User,
			// machinectl sets up the full user session environment
			// (XDG_RUNTIME_DIR, DBUS) that systemctl --user needs.
			"machinectl shell " + cfg.User + "@ /bin/bash -c 'systemctl --user start " + userUnits + "' || true",
		},
	}
}

// compositorService renders the systemd user unit launching the
// compositor headless. Environment lines are sorted so the rendered
// unit is stable.
func compositorService(compositor string, env map[string]string) string {
	merged := make(map[string]string, len(env)+1)
	maps.Copy(merged, env)
	merged["WLR_BACKENDS"] = "headless"

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=Vitrine test compositor\n")
	b.WriteString("After=pipewire.service\n\n")
	b.WriteString("[Service]\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "Environment=%q\n", k+"="+merged[k])
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", compositor)
	b.WriteString("Restart=on-failure\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=default.target\n")
	return b.String()
}

// autologinDropIn logs the test user straight into tty1 for console
// (SPICE/DRM) sessions.
func autologinDropIn(user string) string {
	return "[Service]\n" +
		"ExecStart=\n" +
		"ExecStart=-/sbin/agetty --autologin " + user + " --noclear %I $TERM\n"
}

// bashProfile execs the compositor when the user lands on tty1, so a
// console login gets a graphical session on real DRM output.
func bashProfile(compositor string) string {
	return `[ -z "$DISPLAY" ] && [ "$(tty)" = "/dev/tty1" ] && exec ` + compositor + "\n"
}
