package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/service"
)

// connectTimeout bounds the wait for the message channel in one-shot commands
const connectTimeout = 10 * time.Second

// cli carries state shared by subcommands
type cli struct {
	configPath string
	verbose    bool

	store *config.Store
	app   *service.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "addonsync",
		Short: "Keep game add-ons in sync with a remote catalog and back up settings",

		// main prints the error once
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: search ./, ./configs, ~/.config/addonsync)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(c),
		newCheckCmd(c),
		newSyncCmd(c),
		newFetchCmd(c),
		newBackupCmd(c),
		newSizeCmd(c),
		newHistoryCmd(c),
		newFingerprintCmd(c),
		newDaemonCmd(c),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// load reads the configuration and starts the global logger
func (c *cli) load() error {
	if c.store != nil {
		return nil
	}

	store, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			return fmt.Errorf("%w: run 'addonsync init' first", err)
		}
		return err
	}
	cfg, err := store.Config()
	if err != nil {
		return err
	}

	logCfg := service.LoggerConfig(cfg.Log)
	if c.verbose {
		logCfg.Level = logger.LevelDebug
	}
	if err := logger.Init(logCfg); err != nil {
		return err
	}

	c.store = store
	return nil
}

// open builds the application over the loaded configuration
func (c *cli) open(ctx context.Context) (*service.App, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	if c.app != nil {
		return c.app, nil
	}

	app, err := service.NewApp(ctx, c.store)
	if err != nil {
		return nil, err
	}
	c.app = app
	return app, nil
}

// openConnected is open plus a bounded wait for the message channel. A channel
// that stays down is logged; the command still runs and reports its own outcome.
func (c *cli) openConnected(ctx context.Context) (*service.App, error) {
	app, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.Connect(ctx, connectTimeout); err != nil {
		if ctx.Err() != nil {
			c.close()
			return nil, err
		}
		logger.Get().Warn("message channel unavailable", "error", err)
	}
	return app, nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
	}
	logger.Shutdown()
}
