// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package identity resolves volume labels to the stable identifiers used
// for persistent mount configuration.
package identity

import (
	"fmt"

	"github.com/siderolabs/go-blockdevice/v2/blkid"

	"github.com/debimg/debimg/internal/pkg/layout"
	"github.com/debimg/debimg/internal/pkg/nbd"
)

// PartitionInfo is the probed metadata of a single partition.
type PartitionInfo struct {
	Index    int
	Label    string // filesystem label
	UUID     string // filesystem UUID; empty for filesystems without one (vfat)
	PartUUID string // GPT partition entry UUID
}

// Volume is a resolved partition identity.
//
// UUID is the filesystem UUID for the root and swap roles. vfat exposes no
// filesystem UUID, so for the EFI role it is the GPT partition entry UUID
// and is referenced as PARTUUID= in the target fstab.
type Volume struct {
	Role       layout.Role
	DevicePath string
	UUID       string
}

// Identity maps the logical roles to resolved volumes. Swap is nil when the
// layout has no swap partition.
type Identity struct {
	Root Volume
	EFI  Volume
	Swap *Volume
}

// ProbeFunc inspects a whole block device and reports its partitions.
type ProbeFunc func(devicePath string) ([]PartitionInfo, error)

// Probe reads the partition table of the device and the superblock of each
// partition in a single pass.
func Probe(devicePath string) ([]PartitionInfo, error) {
	info, err := blkid.ProbePath(devicePath, blkid.WithSkipLocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", devicePath, err)
	}

	parts := make([]PartitionInfo, 0, len(info.Parts))

	for _, nested := range info.Parts {
		part := PartitionInfo{Index: int(nested.PartitionIndex)}

		if nested.Label != nil {
			part.Label = *nested.Label
		}

		if nested.UUID != nil {
			part.UUID = nested.UUID.String()
		}

		if nested.PartitionUUID != nil {
			part.PartUUID = nested.PartitionUUID.String()
		}

		parts = append(parts, part)
	}

	return parts, nil
}

// Resolve probes the attached device and matches filesystem labels against
// the planned roles. Each required role must match exactly one partition;
// zero or multiple matches abort the run, since proceeding would risk a
// wrong fstab.
//
// The kernel publishes partition device nodes asynchronously after attach,
// so Resolve waits for every planned node before probing. This also covers
// runs that reuse a pre-partitioned image and never pass through the
// partitioning step.
func Resolve(dev *nbd.Device, l *layout.Layout, probe ProbeFunc) (*Identity, error) {
	for _, p := range l.Partitions {
		if err := dev.WaitForPartition(p.Index); err != nil {
			return nil, err
		}
	}

	parts, err := probe(dev.Path)
	if err != nil {
		return nil, err
	}

	byLabel := map[string][]PartitionInfo{}

	for _, part := range parts {
		if part.Label == "" {
			continue
		}

		byLabel[part.Label] = append(byLabel[part.Label], part)
	}

	identity := &Identity{}

	for _, role := range []layout.Role{layout.RoleEFI, layout.RoleRoot, layout.RoleSwap} {
		if role == layout.RoleSwap && !l.HasSwap() {
			continue
		}

		part, err := exactlyOne(byLabel, string(role))
		if err != nil {
			return nil, err
		}

		vol, err := newVolume(dev, role, part)
		if err != nil {
			return nil, err
		}

		switch role {
		case layout.RoleEFI:
			identity.EFI = vol
		case layout.RoleRoot:
			identity.Root = vol
		case layout.RoleSwap:
			swap := vol
			identity.Swap = &swap
		}
	}

	return identity, nil
}

func newVolume(dev *nbd.Device, role layout.Role, part PartitionInfo) (Volume, error) {
	vol := Volume{
		Role:       role,
		DevicePath: dev.PartitionPath(part.Index),
		UUID:       part.UUID,
	}

	if role == layout.RoleEFI {
		vol.UUID = part.PartUUID
	}

	if vol.UUID == "" {
		return Volume{}, fmt.Errorf("partition %s with label %q has no usable UUID", vol.DevicePath, part.Label)
	}

	return vol, nil
}

func exactlyOne(byLabel map[string][]PartitionInfo, label string) (PartitionInfo, error) {
	matches := byLabel[label]

	switch len(matches) {
	case 0:
		return PartitionInfo{}, fmt.Errorf("no partition found with label %q", label)
	case 1:
		return matches[0], nil
	default:
		return PartitionInfo{}, fmt.Errorf("label %q matches %d partitions, expected exactly one", label, len(matches))
	}
}
