// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package layout computes the partition layout for a provisioned disk image.
package layout

import "fmt"

// Role identifies the purpose of a planned partition.
type Role string

// Partition roles, also used as volume labels so that partitions can be
// re-identified by probing after formatting.
const (
	RoleEFI  Role = "EFI"
	RoleSwap Role = "swap"
	RoleRoot Role = "root"
)

const (
	// AlignMiB is the gap reserved before the first partition.
	AlignMiB = 1
	// EFISizeMiB is the fixed size of the EFI system partition.
	EFISizeMiB = 270
)

// Partition describes a single planned partition.
//
// StartMiB is inclusive, EndMiB is exclusive; both are offsets from the start
// of the device.
type Partition struct {
	Index    int
	Role     Role
	Type     string // parted filesystem type hint
	Label    string
	StartMiB uint64
	EndMiB   uint64
}

// SizeMiB returns the partition length.
func (p Partition) SizeMiB() uint64 {
	return p.EndMiB - p.StartMiB
}

// Layout is an ordered set of planned partitions covering the whole device.
type Layout struct {
	TotalMiB   uint64
	Partitions []Partition
}

// Plan computes the partition layout for the given total device size and
// requested swap size. A swap size of zero disables the swap partition and
// shifts the root partition down to index 2.
func Plan(totalMiB, swapMiB uint64) (*Layout, error) {
	reserved := uint64(AlignMiB + EFISizeMiB)

	if totalMiB <= reserved+swapMiB {
		return nil, fmt.Errorf("disk size %d MiB leaves no room for the root partition (need more than %d MiB)", totalMiB, reserved+swapMiB)
	}

	l := &Layout{
		TotalMiB: totalMiB,
		Partitions: []Partition{
			{
				Index:    1,
				Role:     RoleEFI,
				Type:     "fat32",
				Label:    string(RoleEFI),
				StartMiB: AlignMiB,
				EndMiB:   AlignMiB + EFISizeMiB,
			},
		},
	}

	offset := uint64(AlignMiB + EFISizeMiB)

	if swapMiB > 0 {
		l.Partitions = append(l.Partitions, Partition{
			Index:    2,
			Role:     RoleSwap,
			Type:     "linux-swap",
			Label:    string(RoleSwap),
			StartMiB: offset,
			EndMiB:   offset + swapMiB,
		})

		offset += swapMiB
	}

	l.Partitions = append(l.Partitions, Partition{
		Index:    len(l.Partitions) + 1,
		Role:     RoleRoot,
		Type:     "ext4",
		Label:    string(RoleRoot),
		StartMiB: offset,
		EndMiB:   totalMiB,
	})

	return l, nil
}

// Get returns the planned partition for the given role.
func (l *Layout) Get(role Role) (Partition, bool) {
	for _, p := range l.Partitions {
		if p.Role == role {
			return p, true
		}
	}

	return Partition{}, false
}

// Root returns the root partition; a layout always has one.
func (l *Layout) Root() Partition {
	p, _ := l.Get(RoleRoot)

	return p
}

// HasSwap reports whether the layout includes a swap partition.
func (l *Layout) HasSwap() bool {
	_, ok := l.Get(RoleSwap)

	return ok
}
