package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/addonsync/internal/archive"
	"github.com/Ning0612/addonsync/internal/core/fingerprint"
)

func newFingerprintCmd(_ *cli) *cobra.Command {
	var isArchive bool

	cmd := &cobra.Command{
		Use:   "fingerprint PATH",
		Short: "Print the content fingerprint of a file, folder or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			engine := fingerprint.New(fingerprint.DefaultOptions(), archive.New())

			var sum string
			var err error
			if isArchive {
				sum, err = engine.Archive(ctx, args[0])
			} else {
				if _, err := os.Stat(args[0]); err != nil {
					return err
				}
				sum, err = engine.Path(ctx, args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().BoolVar(&isArchive, "archive", false, "treat PATH as a zip and fingerprint its top-level entry")
	return cmd
}
