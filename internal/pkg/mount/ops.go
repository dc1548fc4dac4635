// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mount

import "golang.org/x/sys/unix"

// operations abstracts the mount syscalls so that ordering can be verified
// without privilege.
type operations interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

type sysOps struct{}

func (sysOps) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (sysOps) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

var ops operations = sysOps{}
