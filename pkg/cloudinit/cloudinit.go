// Package cloudinit renders the NoCloud first-boot configuration a
// test guest needs: a remote-shell user, the manifest's packages, and
// a Wayland compositor running headless as a systemd user service.
package cloudinit

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// User is a cloud-config user entry.
type User struct {
	Name              string   `json:"name"`
	SSHAuthorizedKeys []string `json:"ssh_authorized_keys,omitempty"`
	Sudo              string   `json:"sudo,omitempty"`
	Groups            []string `json:"groups,omitempty"`
	Shell             string   `json:"shell,omitempty"`
	LockPasswd        *bool    `json:"lock_passwd,omitempty"`
	PlainTextPasswd   string   `json:"plain_text_passwd,omitempty"`
}

// WriteFile is a cloud-config write_files entry.
type WriteFile struct {
	Path        string `json:"path"`
	Owner       string `json:"owner,omitempty"`
	Permissions string `json:"permissions,omitempty"`

	// Defer postpones writing to the final boot stage, after users
	// exist; required for files owned by a created user.
	Defer bool `json:"defer,omitempty"`

	Append  bool   `json:"append,omitempty"`
	Content string `json:"content"`
}

// ChPasswd controls password expiry for seeded passwords.
type ChPasswd struct {
	Expire bool `json:"expire"`
}

// UserData is a #cloud-config document.
type UserData struct {
	// BootCommands run early, before services that block on time sync.
	BootCommands []string `json:"bootcmd,omitempty"`

	Users           []User      `json:"users,omitempty"`
	ChPasswd        *ChPasswd   `json:"chpasswd,omitempty"`
	SSHPasswordAuth bool        `json:"ssh_pwauth,omitempty"`
	PackageUpdate   bool        `json:"package_update,omitempty"`
	Packages        []string    `json:"packages,omitempty"`
	WriteFiles      []WriteFile `json:"write_files,omitempty"`
	RunCommands     []string    `json:"runcmd,omitempty"`
}

// Render produces the #cloud-config document.
func (ud UserData) Render() (string, error) {
	b, err := yaml.Marshal(ud)
	if err != nil {
		return "", fmt.Errorf("unable to render cloud-config: %w", err)
	}
	return "#cloud-config\n" + string(b), nil
}

// MetaData is the NoCloud instance identity document.
type MetaData struct {
	InstanceID    string `json:"instance-id"`
	LocalHostname string `json:"local-hostname"`
}

// ForInstance builds the meta-data for a named guest.
func ForInstance(name string) MetaData {
	return MetaData{
		InstanceID:    "vitrine-" + name,
		LocalHostname: name,
	}
}

// Render produces the meta-data document.
func (md MetaData) Render() (string, error) {
	b, err := yaml.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("unable to render meta-data: %w", err)
	}
	return string(b), nil
}
