// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package identity_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debimg/debimg/internal/pkg/identity"
	"github.com/debimg/debimg/internal/pkg/layout"
	"github.com/debimg/debimg/internal/pkg/nbd"
)

// testDevice builds a device with partition nodes backed by a temp
// directory, so node waits resolve without a real block device.
func testDevice(t *testing.T, indexes ...int) *nbd.Device {
	t.Helper()

	dev := &nbd.Device{
		Path:          filepath.Join(t.TempDir(), "nbd0"),
		SettleTimeout: 200 * time.Millisecond,
	}

	require.NoError(t, os.WriteFile(dev.Path, nil, 0o600))

	for _, index := range indexes {
		require.NoError(t, os.WriteFile(dev.PartitionPath(index), nil, 0o600))
	}

	return dev
}

func fakeProbe(parts ...identity.PartitionInfo) identity.ProbeFunc {
	return func(string) ([]identity.PartitionInfo, error) {
		return parts, nil
	}
}

func stableUUID(seed string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// vfatPart mimics what blkid reports for a freshly formatted ESP: a
// filesystem label and a GPT partition entry UUID, but no filesystem UUID.
func vfatPart(index int, label string) identity.PartitionInfo {
	return identity.PartitionInfo{
		Index:    index,
		Label:    label,
		PartUUID: stableUUID(fmt.Sprintf("part%d", index)),
	}
}

func fsPart(index int, label string) identity.PartitionInfo {
	return identity.PartitionInfo{
		Index:    index,
		Label:    label,
		UUID:     stableUUID(fmt.Sprintf("fs%d", index)),
		PartUUID: stableUUID(fmt.Sprintf("part%d", index)),
	}
}

func TestResolve(t *testing.T) {
	dev := testDevice(t, 1, 2, 3)

	l, err := layout.Plan(20480, 753)
	require.NoError(t, err)

	id, err := identity.Resolve(dev, l, fakeProbe(
		vfatPart(1, "EFI"),
		fsPart(2, "swap"),
		fsPart(3, "root"),
	))
	require.NoError(t, err)

	assert.Equal(t, dev.PartitionPath(1), id.EFI.DevicePath)
	assert.Equal(t, dev.PartitionPath(3), id.Root.DevicePath)
	require.NotNil(t, id.Swap)
	assert.Equal(t, dev.PartitionPath(2), id.Swap.DevicePath)

	assert.Equal(t, stableUUID("fs3"), id.Root.UUID)
	assert.NotEqual(t, id.Root.UUID, id.EFI.UUID)
}

// The ESP never carries a filesystem UUID, so its identity must come from
// the GPT partition entry.
func TestResolveEFIByPartitionEntry(t *testing.T) {
	dev := testDevice(t, 1, 2)

	l, err := layout.Plan(20480, 0)
	require.NoError(t, err)

	id, err := identity.Resolve(dev, l, fakeProbe(
		vfatPart(1, "EFI"),
		fsPart(2, "root"),
	))
	require.NoError(t, err)

	assert.Equal(t, stableUUID("part1"), id.EFI.UUID)
}

func TestResolveNoSwap(t *testing.T) {
	dev := testDevice(t, 1, 2)

	l, err := layout.Plan(20480, 0)
	require.NoError(t, err)

	id, err := identity.Resolve(dev, l, fakeProbe(
		vfatPart(1, "EFI"),
		fsPart(2, "root"),
	))
	require.NoError(t, err)

	assert.Nil(t, id.Swap)
	assert.Equal(t, dev.PartitionPath(2), id.Root.DevicePath)
}

func TestResolveMissingLabel(t *testing.T) {
	dev := testDevice(t, 1, 2)

	l, err := layout.Plan(20480, 0)
	require.NoError(t, err)

	// root partition was never labeled
	unlabeled := fsPart(2, "root")
	unlabeled.Label = ""

	_, err = identity.Resolve(dev, l, fakeProbe(
		vfatPart(1, "EFI"),
		unlabeled,
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no partition found with label "root"`)
}

func TestResolveDuplicateLabel(t *testing.T) {
	dev := testDevice(t, 1, 2, 3)

	l, err := layout.Plan(20480, 753)
	require.NoError(t, err)

	_, err = identity.Resolve(dev, l, fakeProbe(
		vfatPart(1, "EFI"),
		fsPart(2, "root"),
		fsPart(3, "root"),
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly one")
}

func TestResolveMissingUUID(t *testing.T) {
	dev := testDevice(t, 1, 2)

	l, err := layout.Plan(20480, 0)
	require.NoError(t, err)

	bare := identity.PartitionInfo{Index: 2, Label: "root"}

	_, err = identity.Resolve(dev, l, fakeProbe(
		vfatPart(1, "EFI"),
		bare,
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable UUID")
}

// Resolution must wait for the kernel to publish partition nodes even when
// the partitioning step was skipped for a reused image.
func TestResolveWaitsForPartitionNodes(t *testing.T) {
	dev := testDevice(t) // device node only, partition nodes never appear

	l, err := layout.Plan(20480, 0)
	require.NoError(t, err)

	_, err = identity.Resolve(dev, l, fakeProbe(
		vfatPart(1, "EFI"),
		fsPart(2, "root"),
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not appear")
}
