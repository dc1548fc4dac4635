// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/debimg/debimg/internal/pkg/pipeline"
)

var buildOptions = struct {
	suite       string
	output      string
	size        string
	swapSizeMiB uint64
	passwordEnv string
	domain      string
	mirror      string
	nbdDevice   string
	workdir     string

	skipProvision      bool
	stopAfterBootstrap bool
	leaveMounted       bool
}{}

// buildCmd provisions a disk image for the given hostname.
var buildCmd = &cobra.Command{
	Use:   "build <hostname>",
	Short: "Build a bootable disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("this command must be run as root")
		}

		sizeBytes, err := humanize.ParseBytes(buildOptions.size)
		if err != nil {
			return fmt.Errorf("invalid image size %q: %w", buildOptions.size, err)
		}

		var passwordHash string

		if buildOptions.passwordEnv != "" {
			var ok bool

			if passwordHash, ok = os.LookupEnv(buildOptions.passwordEnv); !ok {
				log.Printf("environment variable %s is not set; the root password will not be set", buildOptions.passwordEnv)
			}
		}

		p, err := pipeline.New(&pipeline.Options{
			ImagePath:  buildOptions.output,
			DevicePath: buildOptions.nbdDevice,
			SizeBytes:  sizeBytes,
			TotalMiB:   sizeBytes / humanize.MiByte,
			SwapMiB:    buildOptions.swapSizeMiB,

			Suite:    buildOptions.suite,
			Mirror:   buildOptions.mirror,
			Hostname: args[0],
			Domain:   buildOptions.domain,

			PasswordHash: passwordHash,

			Workdir: buildOptions.workdir,

			ReuseImage:         buildOptions.skipProvision,
			StopAfterBootstrap: buildOptions.stopAfterBootstrap,
			LeaveMounted:       buildOptions.leaveMounted,
		})
		if err != nil {
			return err
		}

		return p.Run(cmd.Context())
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildOptions.suite, "suite", "bookworm", "The Debian suite to bootstrap")
	buildCmd.Flags().StringVarP(&buildOptions.output, "output", "o", "debian.qcow2", "The path of the disk image to produce")
	buildCmd.Flags().StringVar(&buildOptions.size, "size", "20GiB", "The total size of the disk image")
	buildCmd.Flags().Uint64Var(&buildOptions.swapSizeMiB, "swap-size", 0, "The swap partition size in MiB (0 disables swap)")
	buildCmd.Flags().StringVar(&buildOptions.passwordEnv, "password-env", "", "The name of an environment variable holding the pre-encrypted root password")
	buildCmd.Flags().StringVar(&buildOptions.domain, "domain", "", "The domain name of the provisioned host")
	buildCmd.Flags().StringVar(&buildOptions.mirror, "mirror", "http://deb.debian.org/debian", "The Debian mirror to bootstrap from")
	buildCmd.Flags().StringVar(&buildOptions.nbdDevice, "nbd-device", "/dev/nbd0", "The network block device to attach the image to")
	buildCmd.Flags().StringVar(&buildOptions.workdir, "workdir", "/mnt/target", "The directory the target root is mounted on")
	buildCmd.Flags().BoolVar(&buildOptions.skipProvision, "skip-provision", false, "Reuse an existing image: skip image creation, partitioning and formatting")
	buildCmd.Flags().BoolVar(&buildOptions.stopAfterBootstrap, "stop-after-bootstrap", false, "Stop after the base system is bootstrapped, leaving the configuration script unexecuted")
	buildCmd.Flags().BoolVar(&buildOptions.leaveMounted, "leave-mounted", false, "Leave the device attached and the target root mounted for inspection")

	rootCmd.AddCommand(buildCmd)
}
