package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-sync/internal/api/http"
	"github.com/i474232898/weather-sync/internal/scheduler"
	"github.com/i474232898/weather-sync/internal/weather"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("ERROR: %v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "weather-sync",
		Short:         "Track locations and keep their weather history in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newSyncCmd(), newHistoryCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	// Background sync that refreshes every tracked location.
	sched := scheduler.New(scheduler.Config{
		Enabled:          cfg.BackgroundSyncEnabled,
		FallbackInterval: cfg.FallbackInterval,
		FailureBackoff:   cfg.FailureBackoff,
	}, a.services.Sync, a.services.Preferences, a.log)
	sched.Start(ctx)
	defer sched.Stop()

	// Periodic purge of expired in-memory cache entries.
	housekeeping := scheduler.NewHousekeeping(cfg.CacheTTL, a.log, a.purgers...)
	if err := housekeeping.Start(); err != nil {
		return err
	}
	defer housekeeping.Stop()

	app := httpapi.NewApp(a.services, httpapi.Options{
		RateLimitMax: cfg.RateLimitMax,
		CORSOrigins:  cfg.CORSOrigins,
		AccessLog:    cfg.Environment != "production",
		Logger:       a.log,
	})

	// Start server with graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("port", cfg.Port))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		a.log.Warn("error during shutdown", zap.Error(err))
	}
	return nil
}

func newSyncCmd() *cobra.Command {
	var locationID int64

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh all tracked locations once, or a single one with --location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if locationID > 0 {
				if err := a.services.Sync.RefreshLocation(cmd.Context(), locationID); err != nil {
					return err
				}
				cmd.Printf("refreshed location %d\n", locationID)
				return nil
			}

			n, err := a.services.Sync.RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("refreshed %d locations\n", n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&locationID, "location", 0, "id of a single location to refresh")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent sync operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ops, err := a.services.Sync.RecentSyncHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			cmd.Printf("%-20s\t%-8s\t%-28s\t%s\t%s\n", "OCCURRED", "KIND", "TARGET", "LOCATIONS", "SNAPSHOTS")
			for _, op := range ops {
				cmd.Printf("%-20s\t%-8s\t%-28s\t%9d\t%9d\n",
					op.OccurredAt.Format(time.DateTime),
					op.Kind,
					op.Target,
					op.RefreshedLocations,
					op.SnapshotsCreated,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", weather.DefaultHistoryLimit, "number of operations to show (1-100)")
	return cmd
}
