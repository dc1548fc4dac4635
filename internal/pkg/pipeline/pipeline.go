// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package pipeline sequences the disk image provisioning stages.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/debimg/debimg/internal/pkg/bootstrap"
	"github.com/debimg/debimg/internal/pkg/identity"
	"github.com/debimg/debimg/internal/pkg/layout"
	"github.com/debimg/debimg/internal/pkg/mount"
	"github.com/debimg/debimg/internal/pkg/nbd"
	"github.com/debimg/debimg/internal/pkg/partition"
	"github.com/debimg/debimg/internal/pkg/qemuimg"
	"github.com/debimg/debimg/internal/pkg/stage2"
)

// Options is the immutable input of a pipeline run.
type Options struct {
	ImagePath  string
	DevicePath string
	SizeBytes  uint64
	TotalMiB   uint64
	SwapMiB    uint64

	Suite    string
	Mirror   string
	Hostname string
	Domain   string

	PasswordHash string

	Workdir string

	// Skip flags; each gates a contiguous range of stages.
	ReuseImage         bool
	StopAfterBootstrap bool
	LeaveMounted       bool

	Printf func(string, ...any)
}

// Stage is a single pipeline step.
type Stage struct {
	Name     string
	Included func() bool // nil means always included
	Run      func(context.Context) error
}

// Pipeline owns the run-scoped resources: the attached device, resolved
// identity, and active mount points.
type Pipeline struct {
	options *Options
	layout  *layout.Layout

	device   *nbd.Device
	identity *identity.Identity
	volumes  mount.Points
	pseudo   mount.Points
	script   string
}

// New validates preconditions and plans the partition layout. Values which
// end up in the configuration script are rejected here, before any stage
// touches the image.
func New(options *Options) (*Pipeline, error) {
	if options.Printf == nil {
		options.Printf = log.Printf
	}

	if err := stage2.ValidateHostname(options.Hostname); err != nil {
		return nil, err
	}

	if err := stage2.ValidateDomain(options.Domain); err != nil {
		return nil, err
	}

	if err := stage2.ValidatePasswordHash(options.PasswordHash); err != nil {
		return nil, err
	}

	if options.ReuseImage {
		if _, err := os.Stat(options.ImagePath); err != nil {
			return nil, fmt.Errorf("cannot reuse image %s: %w", options.ImagePath, err)
		}
	}

	l, err := layout.Plan(options.TotalMiB, options.SwapMiB)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		options: options,
		layout:  l,
	}, nil
}

// Stages returns the full ordered stage list with inclusion predicates.
func (p *Pipeline) Stages() []Stage {
	opts := p.options

	provisioning := func() bool { return !opts.ReuseImage }
	configuring := func() bool { return !opts.StopAfterBootstrap }
	tearingDown := func() bool { return !opts.LeaveMounted }

	return []Stage{
		{Name: "create-image", Included: provisioning, Run: p.createImage},
		{Name: "attach", Run: p.attach},
		{Name: "partition", Included: provisioning, Run: p.partition},
		{Name: "format", Included: provisioning, Run: p.format},
		{Name: "resolve-uuids", Run: p.resolveUUIDs},
		{Name: "mount", Run: p.mountVolumes},
		{Name: "bootstrap", Run: p.bootstrap},
		{Name: "mount-pseudo", Run: p.mountPseudo},
		{Name: "synthesize-stage2", Run: p.synthesizeStage2},
		{Name: "execute-stage2", Included: configuring, Run: p.executeStage2},
		{Name: "remove-stage2", Included: configuring, Run: p.removeStage2},
		{Name: "teardown-mounts", Included: tearingDown, Run: p.teardownMounts},
		{Name: "detach", Included: tearingDown, Run: p.detach},
	}
}

// Plan returns the names of the stages a run would execute, in order.
func (p *Pipeline) Plan() []string {
	var names []string

	for _, stage := range p.Stages() {
		if stage.Included == nil || stage.Included() {
			names = append(names, stage.Name)
		}
	}

	return names
}

// Run executes the included stages in order, aborting on the first failure.
// Whatever was mounted or attached at the failure point is left in place
// for the operator to reconcile.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := Run(ctx, p.Stages(), p.options.Printf); err != nil {
		return err
	}

	p.warnDeferred()

	return nil
}

// Run executes a stage list sequentially, fail-fast.
func Run(ctx context.Context, stages []Stage, printf func(string, ...any)) error {
	for _, stage := range stages {
		if stage.Included != nil && !stage.Included() {
			printf("skipping %s", stage.Name)

			continue
		}

		printf("running %s", stage.Name)

		if err := stage.Run(ctx); err != nil {
			return fmt.Errorf("stage %s failed: %w", stage.Name, err)
		}
	}

	return nil
}

func (p *Pipeline) warnDeferred() {
	opts := p.options

	if opts.StopAfterBootstrap {
		opts.Printf("configuration script left at %s for manual execution", p.script)
	}

	if opts.LeaveMounted {
		opts.Printf("WARNING: %s and the mounts under %s are still live", opts.DevicePath, opts.Workdir)
		opts.Printf("WARNING: release the device with: qemu-nbd --disconnect %s", opts.DevicePath)
	}
}

func (p *Pipeline) createImage(context.Context) error {
	p.options.Printf("creating %s (%d bytes)", p.options.ImagePath, p.options.SizeBytes)

	return qemuimg.Create(p.options.ImagePath, p.options.SizeBytes)
}

func (p *Pipeline) attach(context.Context) error {
	device, err := nbd.Attach(p.options.DevicePath, p.options.ImagePath, qemuimg.Format)
	if err != nil {
		return err
	}

	p.device = device

	return nil
}

func (p *Pipeline) partition(context.Context) error {
	return partition.Apply(p.device, p.layout, p.options.Printf)
}

func (p *Pipeline) format(context.Context) error {
	return partition.Format(p.device, p.layout, p.options.Printf)
}

func (p *Pipeline) resolveUUIDs(context.Context) error {
	resolved, err := identity.Resolve(p.device, p.layout, identity.Probe)
	if err != nil {
		return err
	}

	p.identity = resolved

	return nil
}

func (p *Pipeline) mountVolumes(context.Context) error {
	// mount the resolved partition nodes directly; /dev/disk symlinks for a
	// just-formatted device depend on udev catching up. UUID references are
	// reserved for the target fstab.
	p.volumes = mount.Volumes(p.identity.Root.DevicePath, p.identity.EFI.DevicePath, p.options.Workdir)

	return p.volumes.Mount(p.options.Printf)
}

func (p *Pipeline) bootstrap(ctx context.Context) error {
	p.options.Printf("bootstrapping %s into %s", p.options.Suite, p.options.Workdir)

	return bootstrap.Debootstrap(ctx, p.options.Suite, p.options.Workdir, p.options.Mirror)
}

func (p *Pipeline) mountPseudo(context.Context) error {
	p.pseudo = mount.Pseudo(p.options.Workdir)

	return p.pseudo.Mount(p.options.Printf)
}

func (p *Pipeline) synthesizeStage2(context.Context) error {
	config := stage2.Config{
		Suite:        p.options.Suite,
		Mirror:       p.options.Mirror,
		Hostname:     p.options.Hostname,
		Domain:       p.options.Domain,
		Timezone:     stage2.DefaultTimezone,
		Locale:       stage2.DefaultLocale,
		Keymap:       stage2.DefaultKeymap,
		Interface:    stage2.DefaultInterface,
		KernelPkg:    stage2.DefaultKernelPkg,
		RootUUID:     p.identity.Root.UUID,
		EFIPartUUID:  p.identity.EFI.UUID,
		PasswordHash: p.options.PasswordHash,
	}

	if p.identity.Swap != nil {
		config.SwapUUID = p.identity.Swap.UUID
	}

	path, err := stage2.Write(p.options.Workdir, config)
	if err != nil {
		return err
	}

	p.script = path

	return nil
}

func (p *Pipeline) executeStage2(ctx context.Context) error {
	return bootstrap.RunInChroot(ctx, p.options.Workdir, "/"+stage2.ScriptName)
}

func (p *Pipeline) removeStage2(context.Context) error {
	return os.Remove(p.script)
}

func (p *Pipeline) teardownMounts(context.Context) error {
	if err := p.pseudo.Unmount(p.options.Printf); err != nil {
		return err
	}

	return p.volumes.Unmount(p.options.Printf)
}

func (p *Pipeline) detach(context.Context) error {
	p.options.Printf("detaching %s", p.options.DevicePath)

	return p.device.Detach()
}
