package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/sync/queue"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

func opColor(t models.OperationType) *color.Color {
	switch t {
	case models.OperationCreate:
		return green
	case models.OperationDelete:
		return red
	default:
		return yellow
	}
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline operation queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending operations in flush order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, func(a *app) error {
					snap := a.queue.Snapshot()
					if snap.Status == queue.LoadFailed {
						return snap.Err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tTYPE\tENTITY\tQUEUED")
					for _, op := range snap.Operations {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
							op.ID, opColor(op.Type).Sprint(op.Type), op.EntityID, op.Time().UTC().Format(time.RFC3339))
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every pending operation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, func(a *app) error {
					n := a.queue.Size()
					if err := a.queue.Clear(); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "cleared %d operations\n", n)
					return nil
				})
			},
		},
		newQueueRejectedCmd(opts),
	)
	return cmd
}

func newQueueRejectedCmd(opts *rootOptions) *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "rejected",
		Short: "List operations the server refused permanently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				if drop {
					return a.queue.ClearRejected()
				}
				rejected, err := a.queue.Rejected()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tENTITY\tREJECTED\tREASON")
				for _, r := range rejected {
					op := r.Operation
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						op.ID, opColor(op.Type).Sprint(op.Type), op.EntityID,
						time.UnixMilli(r.RejectedAt).UTC().Format(time.RFC3339), r.Reason)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&drop, "clear", false, "drop the rejected list instead of printing it")
	return cmd
}
