package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Ning0612/addonsync/internal/config"
)

func newInitCmd(c *cli) *cobra.Command {
	var target string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.configPath
			if path == "" {
				dir, err := os.UserConfigDir()
				if err != nil {
					return fmt.Errorf("failed to locate config dir: %w", err)
				}
				path = filepath.Join(dir, "addonsync", "config.yaml")
			}

			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			if _, err := config.Init(path, config.ExpandPath(target)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Set remote.base_url and paths.backups_root before syncing.")
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target install root")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing config")
	return cmd
}
