// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/api"
	"github.com/JakeFAU/price-harvester/internal/app"
	"github.com/JakeFAU/price-harvester/internal/config"
	"github.com/JakeFAU/price-harvester/internal/logging"
)

// needsApp marks commands that run against the configured providers.
const needsApp = "needs-app"

type appKeyType struct{}

// newApp is the application factory. Tests replace it.
var newApp = app.New

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Batch price crawler",
		Long: `harvester crawls wholesale and retail price sources, validates the
records and delivers them in batches to the configured sink.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[needsApp] == "" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a, ok := cmd.Context().Value(appKeyType{}).(*app.App)
			if !ok {
				return
			}
			if err := a.Close(); err != nil {
				a.Logger.Warn("failed to close application services", zap.Error(err))
			}
			_ = a.Logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(), newScheduleCmd(), newSourcesCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// serveOps runs the ops server in the background when metrics are enabled.
// The returned func stops it and waits for the shutdown.
func serveOps(ctx context.Context, a *app.App, schedule func() []api.ScheduledRun) func() {
	if !a.Config.Metrics.Enabled {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Server(schedule).Serve(ctx, a.Config.Metrics.Addr); err != nil {
			a.Logger.Error("ops server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Execute runs the command line until it returns or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
