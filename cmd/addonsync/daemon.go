package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/addonsync/internal/api"
	"github.com/Ning0612/addonsync/internal/daemon"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/service"
)

func newDaemonCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or control the background service",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Run the daemon in the foreground until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := signalContext(cmd)
				defer cancel()

				app, err := c.open(ctx)
				if err != nil {
					return err
				}
				defer c.close()

				// External edits may point at a different remote catalog
				c.store.OnChange(func(key string) {
					if key == "" {
						app.Remote.Invalidate()
					}
				})
				c.store.Watch()

				d, err := service.NewDaemonService(app)
				if err != nil {
					return err
				}
				a, err := api.FromApp(app, d)
				if err != nil {
					return err
				}
				d.SetHandler(a.Routes())

				return d.Run(ctx)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Ask the running daemon to shut down",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				pid, err := c.pidFile()
				if err != nil {
					return err
				}
				if err := pid.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Stop signal sent")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the daemon is running",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				pid, err := c.pidFile()
				if err != nil {
					return err
				}

				rec, err := pid.Running()
				if errors.Is(err, daemon.ErrNotRunning) {
					fmt.Fprintln(cmd.OutOrStdout(), "Daemon: stopped")
					return nil
				}
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Daemon: running (pid %d, since %s)\n", rec.PID, rec.Started.Local().Format(time.DateTime))
				if rec.APIAddr == "" {
					return nil
				}

				client := &http.Client{Timeout: 5 * time.Second}
				resp, err := client.Get("http://" + rec.APIAddr + "/v1/status")
				if err != nil {
					return fmt.Errorf("failed to query daemon api: %w", err)
				}
				defer resp.Body.Close()

				var body map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					return fmt.Errorf("invalid status response: %w", err)
				}
				out, _ := json.MarshalIndent(body, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			},
		},
	)
	return cmd
}

// pidFile resolves the pid file without building the whole application
func (c *cli) pidFile() (*daemon.PIDFile, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	defer logger.Shutdown()

	cfg, err := c.store.Config()
	if err != nil {
		return nil, err
	}
	app := &service.App{Config: cfg}
	return daemon.NewPIDFile(app.PIDPath()), nil
}
