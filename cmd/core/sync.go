package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/realtime"
	syncpkg "github.com/kimhsiao/habitnexus/backend/internal/sync"
	"github.com/kimhsiao/habitnexus/backend/internal/sync/scheduler"
	"github.com/kimhsiao/habitnexus/backend/internal/telemetry"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Flush the queue and reconcile habits with the server once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Client.SyncTimeoutDuration())
				defer cancel()

				res, err := a.engine.Sync(ctx)
				if err != nil {
					red.Fprintf(cmd.ErrOrStderr(), "sync failed, %d operations still queued\n", a.queue.Size())
					return err
				}
				green.Fprintf(cmd.OutOrStdout(), "flushed %d, uploaded %d, downloaded %d, conflicts %d in %s\n",
					res.Flushed, res.Uploaded, res.Downloaded, res.Conflicts, res.Duration.Round(time.Millisecond))
				if res.Rejected > 0 {
					yellow.Fprintf(cmd.ErrOrStderr(), "%d operations rejected by the server, see 'queue rejected'\n", res.Rejected)
				}
				return nil
			})
		},
	}
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show, edit and sync user settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the cached settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				s, err := a.cache.Load()
				if err != nil {
					return err
				}
				if s == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no settings")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "theme=%s language=%s updatedAt=%s\n",
					s.Theme, s.Language, s.UpdatedAt.UTC().Format(time.RFC3339Nano))
				return nil
			})
		},
	}

	var theme, language string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change settings locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				s, err := a.cache.Load()
				if err != nil {
					return err
				}
				if s == nil {
					s = &models.UserSettings{}
				}
				if cmd.Flags().Changed("theme") {
					s.Theme = theme
				}
				if cmd.Flags().Changed("language") {
					s.Language = language
				}
				s.UpdatedAt = time.Now().UTC()
				return a.cache.Save(s)
			})
		},
	}
	set.Flags().StringVar(&theme, "theme", "", "color theme")
	set.Flags().StringVar(&language, "language", "", "interface language")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile cached settings with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				res := a.settings.SyncCache(cmd.Context(), a.cache)
				if res.Err != nil {
					return res.Err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Action)
				return nil
			})
		},
	}

	cmd.AddCommand(show, set, syncCmd)
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync in the background until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withApp(cmd, func(a *app) error {
				return runDaemon(ctx, a)
			})
		},
	}
}

// runDaemon drives the scheduler and, when enabled, the realtime listener
// until ctx is cancelled. Remote change events trigger a pass; the
// listener's connection state doubles as the online signal.
func runDaemon(ctx context.Context, a *app) error {
	sched := scheduler.NewScheduler(a.engine, &scheduler.SchedulerConfig{
		SyncInterval: a.cfg.Client.SyncIntervalDuration(),
		RetryBase:    a.cfg.Client.RetryBaseDuration(),
		RetryMax:     a.cfg.Client.RetryMaxDuration(),
		SyncTimeout:  a.cfg.Client.SyncTimeoutDuration(),
	})

	stats := telemetry.NewSyncStats(syncpkg.SyncEventHandlerFunc(func(ev syncpkg.SyncEvent) {
		if ev.Type == syncpkg.SyncEventConflict {
			logging.Info("Merged habits with remote copies", map[string]interface{}{"count": ev.Total})
		}
	}))
	a.engine.SetEventHandler(stats)

	syncSettings := func() {
		res := a.settings.SyncCache(ctx, a.cache)
		if res.Err != nil {
			logging.ErrorWithCode("Settings sync failed", string(apperrors.CodeOf(res.Err)), res.Err, nil)
			return
		}
		logging.Debug("Settings synced", map[string]interface{}{"action": res.Action})
	}

	g, ctx := errgroup.WithContext(ctx)

	sched.Start(ctx)
	g.Go(func() error {
		sched.Wait()
		return nil
	})
	g.Go(func() error {
		syncSettings()
		sched.TriggerSync()
		return nil
	})

	if a.cfg.Client.Realtime {
		listener, err := realtime.NewListener(a.cfg.Client.ServerURL, a.cfg.Client.Token,
			func(ev realtime.Envelope) {
				switch ev.Type {
				case realtime.EventHabitsChanged:
					sched.TriggerSync()
				case realtime.EventSettingsChanged:
					go syncSettings()
				}
			},
			realtime.WithEvents(realtime.EventHabitsChanged, realtime.EventSettingsChanged),
			realtime.WithStatusHandler(sched.SetOnlineStatus),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return listener.Run(ctx)
		})
	}

	logging.Info("Client running", map[string]interface{}{
		"server":   a.cfg.Client.ServerURL,
		"realtime": a.cfg.Client.Realtime,
	})

	<-ctx.Done()
	sched.Stop()
	err := g.Wait()
	logging.Info("Client stopped", stats.Snapshot().Fields())
	return err
}
