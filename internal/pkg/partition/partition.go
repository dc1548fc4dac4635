// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package partition applies a planned layout to a block device and formats
// the resulting partitions.
package partition

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/siderolabs/go-cmd/pkg/cmd"

	"github.com/debimg/debimg/internal/pkg/layout"
	"github.com/debimg/debimg/internal/pkg/nbd"
)

// Apply writes a GPT partition table matching the layout to the device.
//
// The root partition always extends to the end of the device, so its planned
// end offset is passed to parted as "100%".
func Apply(dev *nbd.Device, l *layout.Layout, printf func(string, ...any)) error {
	printf("creating new partition table on %s", dev.Path)

	if _, err := cmd.Run("parted", "-s", dev.Path, "mklabel", "gpt"); err != nil {
		return fmt.Errorf("failed to create partition table on %s: %w", dev.Path, err)
	}

	for _, p := range l.Partitions {
		printf("partitioning %s - %s %q", dev.Path, p.Label, humanize.IBytes(p.SizeMiB()*humanize.MiByte))

		end := fmt.Sprintf("%dMiB", p.EndMiB)
		if p.Role == layout.RoleRoot {
			end = "100%"
		}

		if _, err := cmd.Run("parted", "-s", dev.Path,
			"mkpart", p.Label, p.Type, fmt.Sprintf("%dMiB", p.StartMiB), end); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", p.Label, err)
		}

		if p.Role == layout.RoleEFI {
			if _, err := cmd.Run("parted", "-s", dev.Path, "set", fmt.Sprintf("%d", p.Index), "esp", "on"); err != nil {
				return fmt.Errorf("failed to flag partition %s as ESP: %w", p.Label, err)
			}
		}
	}

	// ask the kernel to re-read the table before waiting on the nodes
	if _, err := cmd.Run("partprobe", dev.Path); err != nil {
		return fmt.Errorf("failed to re-read partition table on %s: %w", dev.Path, err)
	}

	for _, p := range l.Partitions {
		if err := dev.WaitForPartition(p.Index); err != nil {
			return err
		}
	}

	return nil
}
