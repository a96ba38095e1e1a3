package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nip05d/internal/platform/config"
	"nip05d/internal/platform/httpserver"
	"nip05d/internal/platform/logger"
	"nip05d/internal/platform/postgres"
	"nip05d/internal/scheduler"
	adminmw "nip05d/pkg/platform/middleware/admin"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nip05d",
		Short:         "NIP-05 identity service with Lightning-paid registrations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newWhitelistCmd(),
		newSyncNamesCmd(),
		newTokenCmd(),
	)
	return root
}

// withApp loads configuration, builds the process dependencies and runs fn
// with a context cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg := config.Load()
	log := logger.New(cfg.Server.Environment, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and the event dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if migrate && a.db != nil {
					if err := postgres.Migrate(ctx, a.db, a.logger); err != nil {
						return err
					}
				}
				if stats, err := a.admin.ReloadWhitelist(ctx); err != nil {
					a.logger.WarnContext(ctx, "initial whitelist sync failed", "error", err)
				} else {
					a.logger.InfoContext(ctx, "whitelist synced", "added", stats.Added, "updated", stats.Updated, "deactivated", stats.Deactivated)
				}

				srv := httpserver.New(a.cfg.Server.Addr, a.router())
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return httpserver.Serve(gctx, srv, shutdownGrace, a.logger) })
				g.Go(func() error { return ignoreCanceled(a.scheduler.Run(gctx, scheduler.NewState())) })
				g.Go(func() error { return ignoreCanceled(a.dispatcher.Run(gctx)) })
				err := g.Wait()
				a.logger.Info("nip05d stopped")
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending database migrations before serving")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if a.db == nil {
					return errors.New("DATABASE_URL is required for migrate")
				}
				return postgres.Migrate(ctx, a.db, a.logger)
			})
		},
	}
}

func newWhitelistCmd() *cobra.Command {
	wl := &cobra.Command{
		Use:   "whitelist",
		Short: "Whitelist file operations",
	}
	wl.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Apply the whitelist file to the registration store once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				stats, err := a.admin.ReloadWhitelist(ctx)
				if err != nil {
					return err
				}
				drainEvents(a)
				return printJSON(cmd, stats)
			})
		},
	})
	return wl
}

func newSyncNamesCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync-names",
		Short: "Refresh usernames from relay profiles once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				summary, err := a.namesync.SyncAll(ctx, force)
				if err != nil {
					return err
				}
				drainEvents(a)
				return printJSON(cmd, summary)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the per-registration sync interval")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with ADMIN_API_KEY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.Admin.APIKey == "" {
				return errors.New("ADMIN_API_KEY is required to sign tokens")
			}
			token, err := adminmw.NewAuthenticator(cfg.Admin.APIKey).IssueToken(subject, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject recorded as the admin actor")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// drainEvents delivers what one-shot commands emitted before the process exits.
func drainEvents(a *app) {
	a.dispatcher.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
