// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package bootstrap invokes the external base-system population and chroot
// execution collaborators.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

// Debootstrap populates the target root with a minimal base system for the
// given suite.
func Debootstrap(ctx context.Context, suite, target, mirror string) error {
	if _, err := cmd.RunContext(ctx, "debootstrap", suite, target, mirror); err != nil {
		return fmt.Errorf("failed to bootstrap %s into %s: %w", suite, target, err)
	}

	return nil
}

// RunInChroot executes a script path (relative to the target root) inside
// the chroot-equivalent context.
func RunInChroot(ctx context.Context, root, script string) error {
	if _, err := cmd.RunContext(ctx, "chroot", root, "/bin/sh", script); err != nil {
		return fmt.Errorf("failed to run %s in chroot %s: %w", script, root, err)
	}

	return nil
}
