// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package nbd_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debimg/debimg/internal/pkg/nbd"
)

func TestPartitionPath(t *testing.T) {
	dev := &nbd.Device{Path: "/dev/nbd0"}

	assert.Equal(t, "/dev/nbd0p1", dev.PartitionPath(1))
	assert.Equal(t, "/dev/nbd0p3", dev.PartitionPath(3))
}

func TestWaitForPartition(t *testing.T) {
	dev := &nbd.Device{
		Path:          filepath.Join(t.TempDir(), "nbd0"),
		SettleTimeout: 200 * time.Millisecond,
	}

	require.NoError(t, os.WriteFile(dev.PartitionPath(1), nil, 0o600))

	assert.NoError(t, dev.WaitForPartition(1))

	err := dev.WaitForPartition(2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not appear")
}
