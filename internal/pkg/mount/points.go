// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mount

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// EFISubdir is the path of the EFI system partition below the target root.
const EFISubdir = "boot/efi"

// Volumes returns the mount points for the image partitions: the root
// filesystem at the target root, then the EFI partition beneath it.
func Volumes(rootDev, efiDev, root string) Points {
	return Points{
		NewPoint(rootDev, root, "ext4"),
		NewPoint(efiDev, filepath.Join(root, EFISubdir), "vfat"),
	}
}

// Pseudo returns the pseudo-filesystem mount points required for running
// the configuration stage inside the target root: the host /dev bound
// read-only, plus fresh proc and sysfs instances.
func Pseudo(root string) Points {
	return Points{
		NewPoint("/dev", filepath.Join(root, "dev"), "", WithFlags(unix.MS_BIND|unix.MS_RDONLY)),
		NewPoint("proc", filepath.Join(root, "proc"), "proc", WithFlags(unix.MS_NOSUID|unix.MS_NOEXEC|unix.MS_NODEV)),
		NewPoint("sysfs", filepath.Join(root, "sys"), "sysfs"),
	}
}
