// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"fmt"

	"github.com/siderolabs/go-cmd/pkg/cmd"

	"github.com/debimg/debimg/internal/pkg/layout"
	"github.com/debimg/debimg/internal/pkg/nbd"
)

// Format creates a filesystem with the partition's volume label on each
// planned partition. Labels are what the UUID resolver keys on later, so
// they must be applied even where the filesystem content doesn't matter.
func Format(dev *nbd.Device, l *layout.Layout, printf func(string, ...any)) error {
	for _, p := range l.Partitions {
		devname := dev.PartitionPath(p.Index)

		printf("formatting the partition %q as %q with label %q", devname, p.Role, p.Label)

		if err := formatPartition(devname, p); err != nil {
			return fmt.Errorf("failed to format partition %s: %w", devname, err)
		}
	}

	return nil
}

func formatPartition(devname string, p layout.Partition) error {
	var err error

	switch p.Role {
	case layout.RoleEFI:
		_, err = cmd.Run("mkfs.vfat", "-F", "32", "-n", p.Label, devname)
	case layout.RoleSwap:
		_, err = cmd.Run("mkswap", "-L", p.Label, devname)
	case layout.RoleRoot:
		_, err = cmd.Run("mkfs.ext4", "-q", "-L", p.Label, devname)
	default:
		err = fmt.Errorf("unsupported partition role: %q", p.Role)
	}

	return err
}
