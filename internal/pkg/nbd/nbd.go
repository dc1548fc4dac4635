// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package nbd binds virtual disk images to network block devices via qemu-nbd.
package nbd

import (
	"fmt"
	"os"
	"time"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/siderolabs/go-retry/retry"
)

// MaxPartitions is the per-device partition limit passed to the nbd module.
const MaxPartitions = 16

// Device is an attached network block device.
type Device struct {
	Path string

	// SettleTimeout bounds how long to wait for partition device nodes to
	// be published; zero means the default of 10 seconds.
	SettleTimeout time.Duration
}

const defaultSettleTimeout = 10 * time.Second

// Attach loads the nbd kernel module if required and binds the image file to
// the given device node. The device node must exist once the module is
// loaded; a missing node is fatal and is not retried.
func Attach(devicePath, imagePath, format string) (*Device, error) {
	if _, err := cmd.Run("modprobe", "nbd", fmt.Sprintf("max_part=%d", MaxPartitions)); err != nil {
		return nil, fmt.Errorf("failed to load nbd module: %w", err)
	}

	if _, err := os.Stat(devicePath); err != nil {
		return nil, fmt.Errorf("block device %s not available after loading nbd module: %w", devicePath, err)
	}

	if _, err := cmd.Run("qemu-nbd", "--connect="+devicePath, "--format="+format, imagePath); err != nil {
		return nil, fmt.Errorf("failed to attach %s to %s: %w", imagePath, devicePath, err)
	}

	return &Device{Path: devicePath}, nil
}

// Detach disconnects the device.
func (d *Device) Detach() error {
	if _, err := cmd.Run("qemu-nbd", "--disconnect", d.Path); err != nil {
		return fmt.Errorf("failed to detach %s: %w", d.Path, err)
	}

	return nil
}

// PartitionPath returns the device node of a numbered partition.
func (d *Device) PartitionPath(index int) string {
	return fmt.Sprintf("%sp%d", d.Path, index)
}

// WaitForPartition waits for a partition device node to show up. The kernel
// publishes partition nodes asynchronously after the table is written, so
// a short settle window is expected here.
func (d *Device) WaitForPartition(index int) error {
	partPath := d.PartitionPath(index)

	timeout := d.SettleTimeout
	if timeout == 0 {
		timeout = defaultSettleTimeout
	}

	err := retry.Constant(timeout, retry.WithUnits(100*time.Millisecond)).Retry(func() error {
		if _, err := os.Stat(partPath); err != nil {
			return retry.ExpectedError(err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("partition device %s did not appear: %w", partPath, err)
	}

	return nil
}
