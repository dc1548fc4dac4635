// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package stage2 synthesizes the second-stage configuration script executed
// inside the target root filesystem.
package stage2

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
)

// ScriptName is the file name of the synthesized script at the top of the
// target root filesystem.
const ScriptName = "stage2.sh"

// Defaults for values the operator does not usually override.
const (
	DefaultTimezone  = "Etc/UTC"
	DefaultLocale    = "en_US.UTF-8"
	DefaultKeymap    = "us"
	DefaultInterface = "enp1s0"
	DefaultKernelPkg = "linux-image-amd64"
	SerialPort       = "ttyS0"
	SerialBaud       = "115200"
)

// Config carries every value the synthesized script needs. All fields are
// resolved before synthesis; the script performs no discovery of its own.
type Config struct {
	Suite    string
	Mirror   string
	Hostname string
	Domain   string

	Timezone  string
	Locale    string
	Keymap    string
	Interface string
	KernelPkg string

	RootUUID    string
	EFIPartUUID string // GPT partition entry UUID; vfat has no filesystem UUID
	SwapUUID    string // empty when swap is disabled

	PasswordHash string // pre-encrypted; empty skips the password step
}

// FQDN returns the fully qualified hostname.
func (c Config) FQDN() string {
	if c.Domain == "" {
		return c.Hostname
	}

	return c.Hostname + "." + c.Domain
}

// Serial returns the serial console device name.
func (c Config) Serial() string { return SerialPort }

// Baud returns the serial console speed.
func (c Config) Baud() string { return SerialBaud }

var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

var domainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)

// ValidateHostname rejects hostnames which are not a single DNS label.
func ValidateHostname(hostname string) error {
	if !hostnameRe.MatchString(hostname) {
		return fmt.Errorf("invalid hostname %q", hostname)
	}

	return nil
}

// ValidateDomain rejects malformed domain names; empty is allowed.
func ValidateDomain(domain string) error {
	if domain != "" && !domainRe.MatchString(domain) {
		return fmt.Errorf("invalid domain name %q", domain)
	}

	return nil
}

// ValidatePasswordHash rejects hashes which could break out of the
// single-quoted chpasswd line of the generated script.
func ValidatePasswordHash(hash string) error {
	if strings.ContainsAny(hash, "'\n") {
		return fmt.Errorf("root password hash contains characters unsafe for the configuration script")
	}

	return nil
}

// Validate rejects host-provided values which could break out of the
// generated script, plus incomplete volume identity.
func (c Config) Validate() error {
	if err := ValidateHostname(c.Hostname); err != nil {
		return err
	}

	if err := ValidateDomain(c.Domain); err != nil {
		return err
	}

	if err := ValidatePasswordHash(c.PasswordHash); err != nil {
		return err
	}

	for _, field := range []string{c.RootUUID, c.EFIPartUUID} {
		if field == "" {
			return fmt.Errorf("incomplete volume identity: root and EFI identifiers are required")
		}
	}

	return nil
}

const scriptTpl = `#!/bin/sh
set -e

export DEBIAN_FRONTEND=noninteractive

cat > /etc/fstab <<EOF
UUID={{ .RootUUID }} / ext4 errors=remount-ro 0 1
PARTUUID={{ .EFIPartUUID }} /boot/efi vfat umask=0077 0 1
{{- with .SwapUUID }}
UUID={{ . }} none swap sw 0 0
{{- end }}
EOF

# drop pre-existing timezone configuration so the seeded value wins
rm -f /etc/localtime /etc/timezone
echo '{{ .Timezone }}' > /etc/timezone
dpkg-reconfigure -f noninteractive tzdata

cat > /etc/network/interfaces <<EOF
auto lo
iface lo inet loopback

auto {{ .Interface }}
iface {{ .Interface }} inet dhcp
EOF

echo '{{ .Hostname }}' > /etc/hostname
cat > /etc/hosts <<EOF
127.0.0.1 localhost
127.0.1.1 {{ .FQDN }}{{ if .Domain }} {{ .Hostname }}{{ end }}

::1 localhost ip6-localhost ip6-loopback
ff02::1 ip6-allnodes
ff02::2 ip6-allrouters
EOF

cat > /etc/apt/sources.list <<EOF
deb {{ .Mirror }} {{ .Suite }} main
deb http://security.debian.org/debian-security {{ .Suite }}-security main
deb {{ .Mirror }} {{ .Suite }}-updates main
EOF
apt-get update

# conflicting locale/keyboard files override debconf selections
rm -f /etc/default/locale /etc/default/keyboard /etc/locale.gen
debconf-set-selections <<EOF
locales locales/default_environment_locale select {{ .Locale }}
locales locales/locales_to_be_generated multiselect {{ .Locale }} UTF-8
keyboard-configuration keyboard-configuration/xkb-keymap select {{ .Keymap }}
EOF
apt-get install -y locales console-setup

apt-get install -y {{ .KernelPkg }}

apt-get install -y grub-efi-amd64
cat > /etc/default/grub <<EOF
GRUB_DEFAULT=0
GRUB_TIMEOUT=2
GRUB_DISTRIBUTOR=Debian
GRUB_CMDLINE_LINUX_DEFAULT=""
GRUB_CMDLINE_LINUX="console={{ .Serial }},{{ .Baud }}n8"
GRUB_TERMINAL="serial"
GRUB_SERIAL_COMMAND="serial --unit=0 --speed={{ .Baud }} --word=8 --parity=no --stop=1"
EOF
grub-install --target=x86_64-efi --efi-directory=/boot/efi --bootloader-id=debian --no-nvram
update-grub

# firmware without a registered boot entry falls back to the removable path
mkdir -p /boot/efi/EFI/BOOT
cp /boot/efi/EFI/debian/grubx64.efi /boot/efi/EFI/BOOT/BOOTX64.EFI

systemctl enable serial-getty@{{ .Serial }}.service
{{ with .PasswordHash }}
echo 'root:{{ . }}' | chpasswd -e
{{- end }}

apt-get clean
`

var script = template.Must(template.New("stage2").Parse(scriptTpl))

// Render synthesizes the script text. It is deterministic for a given
// config.
func Render(config Config) (string, error) {
	if err := config.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer

	if err := script.Execute(&buf, config); err != nil {
		return "", fmt.Errorf("failed to render configuration script: %w", err)
	}

	return buf.String(), nil
}

// Write renders the script and places it at the top of the target root.
func Write(root string, config Config) (string, error) {
	text, err := Render(config)
	if err != nil {
		return "", err
	}

	path := filepath.Join(root, ScriptName)

	if err = os.WriteFile(path, []byte(text), 0o700); err != nil {
		return "", fmt.Errorf("failed to write configuration script: %w", err)
	}

	return path, nil
}
