package cloudinit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuestConfig() GuestConfig {
	return GuestConfig{
		User:       "tester",
		PublicKey:  "ssh-ed25519 AAAA tester@host",
		Packages:   []string{"sway", "foot", "grim"},
		Compositor: "sway",
		Env:        map[string]string{"WLR_RENDERER": "pixman"},
	}
}

func TestForGuest_RenderedUserData(t *testing.T) {
	doc, err := ForGuest(testGuestConfig()).Render()
	require.NoError(t, err)

	assert.True(t, len(doc) > 0)
	assert.Contains(t, doc, "#cloud-config\n")
	assert.Contains(t, doc, "name: tester")
	assert.Contains(t, doc, "ssh-ed25519 AAAA tester@host")
	assert.Contains(t, doc, "sudo: ALL=(ALL) NOPASSWD:ALL")
	assert.Contains(t, doc, "lock_passwd: false")
	assert.Contains(t, doc, "- video")
	assert.Contains(t, doc, "- audio")
	assert.Contains(t, doc, "- sway")
	assert.Contains(t, doc, "- grim")
	assert.Contains(t, doc, "package_update: true")
	assert.Contains(t, doc, "ssh_pwauth: true")
	assert.Contains(t, doc, "loginctl enable-linger tester")
	assert.Contains(t, doc, "systemctl mask --now systemd-time-wait-sync.service")
	assert.Contains(t, doc, "/home/tester/.config/systemd/user/"+ServiceName+".service")
	assert.Contains(t, doc, "/etc/systemd/system/getty@tty1.service.d/autologin.conf")
}

func TestForGuest_NoCompositor(t *testing.T) {
	cfg := testGuestConfig()
	cfg.Compositor = ""

	doc, err := ForGuest(cfg).Render()
	require.NoError(t, err)

	assert.NotContains(t, doc, ServiceName+".service")
	assert.NotContains(t, doc, ".bash_profile")
	assert.Contains(t, doc, "systemctl --user start pipewire wireplumber'")
}

func TestForGuest_ArchKeyring(t *testing.T) {
	cfg := testGuestConfig()

	cfg.ArchImage = false
	plain := ForGuest(cfg)
	assert.NotContains(t, plain.BootCommands, "pacman-key --init && pacman-key --populate archlinux")

	cfg.ArchImage = true
	arch := ForGuest(cfg)
	assert.Contains(t, arch.BootCommands, "pacman-key --init && pacman-key --populate archlinux")
}

func TestCompositorService(t *testing.T) {
	unit := compositorService("sway", map[string]string{
		"WLR_RENDERER": "pixman",
		"XDG_SESSION":  "wayland",
	})

	want := `[Unit]
Description=Vitrine test compositor
After=pipewire.service

[Service]
Environment="WLR_BACKENDS=headless"
Environment="WLR_RENDERER=pixman"
Environment="XDG_SESSION=wayland"
ExecStart=sway
Restart=on-failure

[Install]
WantedBy=default.target
`
	assert.Equal(t, want, unit)
}

func TestCompositorService_ForcesHeadlessBackend(t *testing.T) {
	unit := compositorService("sway", map[string]string{"WLR_BACKENDS": "drm"})
	assert.Contains(t, unit, `Environment="WLR_BACKENDS=headless"`)
	assert.NotContains(t, unit, "drm")
}

func TestAutologinDropIn(t *testing.T) {
	drop := autologinDropIn("tester")
	assert.Contains(t, drop, "ExecStart=\n")
	assert.Contains(t, drop, "agetty --autologin tester --noclear %I $TERM")
}

func TestBashProfile(t *testing.T) {
	profile := bashProfile("sway")
	assert.Contains(t, profile, `"$(tty)" = "/dev/tty1"`)
	assert.Contains(t, profile, "exec sway")
}

func TestIsArchImage(t *testing.T) {
	assert.True(t, IsArchImage("archlinux-cloud.qcow2"))
	assert.True(t, IsArchImage("Arch-Linux-x86_64-cloudimg.qcow2"))
	assert.False(t, IsArchImage("ubuntu-24.04-server.qcow2"))
}

func TestMetaData(t *testing.T) {
	doc, err := ForInstance("sway-test").Render()
	require.NoError(t, err)

	assert.Contains(t, doc, "instance-id: vitrine-sway-test")
	assert.Contains(t, doc, "local-hostname: sway-test")
}

func TestWriteSeedISO(t *testing.T) {
	userData, err := ForGuest(testGuestConfig()).Render()
	require.NoError(t, err)
	metaData, err := ForInstance("sway-test").Render()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "seed", "cloud-init.iso")
	require.NoError(t, WriteSeedISO(path, userData, metaData))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Contains(t, string(data), "#cloud-config")
	assert.Contains(t, string(data), "instance-id: vitrine-sway-test")
}
