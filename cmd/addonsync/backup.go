package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/addonsync/internal/backup"
	"github.com/Ning0612/addonsync/internal/progress"
	"github.com/Ning0612/addonsync/internal/scanner"
)

func newBackupCmd(c *cli) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the state folder when a backup is due",
		Long: "Snapshot the state folder into the backups root when the last backup is\n" +
			"older than backup.interval, then trim old backups to the size budget.\n" +
			"--force skips the interval check and the enabled flag.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := c.openConnected(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			outcome := app.Backup.Initiate(ctx, force)
			fmt.Fprintf(cmd.OutOrStdout(), "Backup: %s\n", outcome)
			if outcome == backup.OutcomeFailed {
				return fmt.Errorf("backup failed, see log for details")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "back up now regardless of schedule")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			root, err := app.Resolver.BackupsRoot()
			if err != nil {
				return err
			}
			records, err := backup.List(root)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, progress.FormatBytes(r.Size), r.ModTime.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	})
	return cmd
}

func newSizeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Print the size of the backups folder in MB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			root, err := app.Resolver.BackupsRoot()
			if err != nil {
				return err
			}

			res := app.Backup.Scanner().Scan(ctx, root)
			switch res.State {
			case scanner.StateSize:
				fmt.Fprintf(cmd.OutOrStdout(), "%s MB\n", res.Megabytes)
			case scanner.StateAborted:
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			default:
				return fmt.Errorf("failed to measure backups folder: %s", res.Error)
			}
			return nil
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	var kind string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup and install runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			if app.History == nil {
				return fmt.Errorf("run history is unavailable")
			}
			runs, err := app.History.History(ctx, kind, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tSTARTED\tDURATION\tSTATUS\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Kind, r.Name, r.StartTime.Local().Format(time.DateTime),
					r.EndTime.Sub(r.StartTime).Round(time.Millisecond), r.Status, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (backup or install)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
