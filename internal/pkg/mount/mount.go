// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mount manages the ordered set of mount points backing the
// chroot-equivalent execution context.
package mount

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Point represents a linux mount point.
type Point struct {
	source string
	target string
	fstype string
	flags  uintptr
	data   string
}

// PointOption alters a mount point.
type PointOption func(*Point)

// WithFlags sets extra mount flags.
func WithFlags(flags uintptr) PointOption {
	return func(p *Point) {
		p.flags |= flags
	}
}

// WithData sets the mount data.
func WithData(data string) PointOption {
	return func(p *Point) {
		p.data = data
	}
}

// NewPoint initializes and returns a Point.
func NewPoint(source, target, fstype string, opts ...PointOption) *Point {
	p := &Point{
		source: source,
		target: target,
		fstype: fstype,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Source returns the mount point source.
func (p *Point) Source() string {
	return p.source
}

// Target returns the mount point target.
func (p *Point) Target() string {
	return p.target
}

// Mount creates the target directory if required and mounts the point.
// Read-only bind mounts need a second remount pass, as mount(2) ignores
// MS_RDONLY on the initial bind.
func (p *Point) Mount() error {
	if err := os.MkdirAll(p.target, 0o755); err != nil {
		return fmt.Errorf("error creating mount point directory %s: %w", p.target, err)
	}

	if err := ops.Mount(p.source, p.target, p.fstype, p.flags, p.data); err != nil {
		return fmt.Errorf("error mounting %s on %s: %w", p.source, p.target, err)
	}

	if p.flags&unix.MS_BIND != 0 && p.flags&unix.MS_RDONLY != 0 {
		if err := ops.Mount("", p.target, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
			return fmt.Errorf("error remounting %s read-only: %w", p.target, err)
		}
	}

	return nil
}

// Unmount unmounts the point, retrying on EBUSY over a short window.
func (p *Point) Unmount() error {
	var err error

	for range 50 {
		if err = ops.Unmount(p.target, 0); err != nil {
			if errors.Is(err, unix.EBUSY) {
				time.Sleep(100 * time.Millisecond)

				continue
			}

			return fmt.Errorf("error unmounting %s: %w", p.target, err)
		}

		return nil
	}

	return fmt.Errorf("unmount timeout on %s: %w", p.target, err)
}

// Points represents an ordered set of mount points.
type Points []*Point

// Mount mounts all points in order. Nothing is unwound on failure: the
// pipeline is fail-fast and whatever was mounted is left for the operator.
func (points Points) Mount(printf func(string, ...any)) error {
	for _, p := range points {
		printf("mounting %s on %s", p.source, p.target)

		if err := p.Mount(); err != nil {
			return err
		}
	}

	return nil
}

// Unmount unmounts all points in exactly the reverse of mount order.
// Pseudo-filesystems under the root come last in mount order, so they go
// first here; reordering fails with EBUSY.
func (points Points) Unmount(printf func(string, ...any)) error {
	for i := len(points) - 1; i >= 0; i-- {
		printf("unmounting %s", points[i].target)

		if err := points[i].Unmount(); err != nil {
			return err
		}
	}

	return nil
}
