// Package main provides the HabitNexus sync server: settings and habit
// documents per user on SQLite, plus a WebSocket change feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/habitnexus/backend/cmd/server/handlers"
	"github.com/kimhsiao/habitnexus/backend/internal/config"
	"github.com/kimhsiao/habitnexus/backend/internal/db"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/realtime"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
)

// Version is set at build time
var Version = "0.1.0"

// storeNamespace keeps server documents apart from any client data in the same file.
const storeNamespace = "server"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "habitnexus-server",
		Short:         "HabitNexus sync server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			logging.Init(cfg.LogWriter(cmd.ErrOrStderr()), cfg.Level())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := serve(ctx, cfg); err != nil {
				logging.Error("Server stopped with error", err, nil)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Server.Tokens) == 0 {
		logging.Warn("No tokens configured; every API request will be rejected", nil)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	hub := realtime.NewHub()
	store := storage.NewSQLiteStore(database, storeNamespace)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handlers.NewRouter(store, handlers.NewAuthenticator(cfg.Server.Tokens), hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logging.Info("HabitNexus server listening",
			map[string]interface{}{"addr": cfg.Server.Listen, "data_dir": cfg.DataDir, "version": Version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
