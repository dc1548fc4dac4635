// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package qemuimg wraps the `qemu-img` utility.
package qemuimg

import (
	"fmt"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

// Format is the virtual disk container format produced by this tool.
const Format = "qcow2"

// Create allocates a new virtual disk image of the given size in bytes.
func Create(path string, sizeBytes uint64) error {
	if _, err := cmd.Run("qemu-img", "create", "-f", Format, path, fmt.Sprintf("%d", sizeBytes)); err != nil {
		return fmt.Errorf("failed to create image %s: %w", path, err)
	}

	return nil
}
