package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ning0612/addonsync/internal/progress"
	"github.com/Ning0612/addonsync/internal/service"
)

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare remote artifacts with the local install",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			statuses, err := app.Sync.Check(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ARTIFACT\tPATH\tSTATUS")
			for _, st := range statuses {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Artifact.Label(), st.Artifact.RelativePath, st.Decision.Reason)
			}
			return tw.Flush()
		},
	}
}

func newSyncCmd(c *cli) *cobra.Command {
	var updateOnly bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download and install every missing or changed artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := c.openConnected(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			run := app.Sync.Sync
			if updateOnly {
				run = app.Sync.AutoUpdate
			}
			report, err := run(ctx)
			if err != nil {
				return err
			}

			printResults(cmd.OutOrStdout(), report.Results)
			fmt.Fprintf(cmd.OutOrStdout(), "%d checked, %d processed, %d failed\n",
				report.Checked, len(report.Results), len(report.Failed()))
			return report.Err()
		},
	}
	cmd.Flags().BoolVar(&updateOnly, "update-only", false, "only refresh artifacts that are already installed")
	return cmd
}

func newFetchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch NAME",
		Short: "Download and install one artifact regardless of its local state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			app, err := c.openConnected(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			res, err := app.Sync.Fetch(ctx, args[0])
			if res.Artifact.FileName != "" {
				printResults(cmd.OutOrStdout(), []service.Result{res})
			}
			return err
		},
	}
}

func printResults(w io.Writer, results []service.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, res := range results {
		if res.Installed {
			fmt.Fprintf(tw, "✓\t%s\t%s\n", res.Artifact.Label(), progress.FormatBytes(res.Bytes))
		} else {
			fmt.Fprintf(tw, "✗\t%s\t%s\n", res.Artifact.Label(), res.Error)
		}
	}
	tw.Flush()
}
