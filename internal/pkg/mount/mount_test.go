// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mount_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debimg/debimg/internal/pkg/mount"
)

type record struct {
	action string
	target string
}

type recordingOps struct {
	records []record
}

func (r *recordingOps) Mount(source, target, fstype string, flags uintptr, data string) error {
	r.records = append(r.records, record{"mount", target})

	return nil
}

func (r *recordingOps) Unmount(target string, flags int) error {
	r.records = append(r.records, record{"unmount", target})

	return nil
}

func discardf(string, ...any) {}

func TestTeardownReversesSetup(t *testing.T) {
	ops := &recordingOps{}
	restore := mount.SetOperations(ops)
	t.Cleanup(restore)

	root := t.TempDir()

	points := append(mount.Volumes("/dev/nbd0p2", "/dev/nbd0p1", root), mount.Pseudo(root)...)

	require.NoError(t, points.Mount(discardf))
	require.NoError(t, points.Unmount(discardf))

	var mounted, unmounted []string

	for _, rec := range ops.records {
		switch rec.action {
		case "mount":
			mounted = append(mounted, rec.target)
		case "unmount":
			unmounted = append(unmounted, rec.target)
		}
	}

	// the read-only /dev bind mounts twice (bind, then ro remount) against
	// the same target, so dedupe consecutive entries before comparing
	mounted = dedupe(mounted)

	require.Len(t, mounted, 5)
	require.Len(t, unmounted, 5)

	for i := range mounted {
		assert.Equal(t, mounted[i], unmounted[len(unmounted)-1-i])
	}

	assert.Equal(t, root, mounted[0])
	assert.Equal(t, filepath.Join(root, "boot/efi"), mounted[1])
}

func TestMountCreatesTargetDirectories(t *testing.T) {
	ops := &recordingOps{}
	restore := mount.SetOperations(ops)
	t.Cleanup(restore)

	root := t.TempDir()

	require.NoError(t, mount.Volumes("/dev/nbd0p2", "/dev/nbd0p1", root).Mount(discardf))

	st, err := os.Stat(filepath.Join(root, "boot/efi"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestPseudoIncludesReadonlyDevBind(t *testing.T) {
	root := t.TempDir()

	points := mount.Pseudo(root)
	require.Len(t, points, 3)

	assert.Equal(t, "/dev", points[0].Source())
	assert.Equal(t, filepath.Join(root, "dev"), points[0].Target())
	assert.Equal(t, filepath.Join(root, "proc"), points[1].Target())
	assert.Equal(t, filepath.Join(root, "sys"), points[2].Target())
}

func dedupe(targets []string) []string {
	out := targets[:0:0]

	for _, target := range targets {
		if len(out) == 0 || out[len(out)-1] != target {
			out = append(out, target)
		}
	}

	return out
}
