package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/habits"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
)

func newHabitCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habit",
		Short: "Edit habits locally; changes are queued for sync",
	}
	cmd.AddCommand(
		newHabitListCmd(opts),
		newHabitAddCmd(opts),
		newHabitSetCmd(opts),
		newHabitRemoveCmd(opts),
		newHabitDoneCmd(opts),
		newHabitNoteCmd(opts, "note", "Record a note for a day", (*habits.Service).SetNote),
		newHabitNoteCmd(opts, "mood", "Record a mood for a day", (*habits.Service).SetMood),
	)
	return cmd
}

func newHabitListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local habits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				list, err := a.habits.List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tFREQUENCY\tDAYS\tUPDATED")
				for _, h := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						h.ID, h.Name, h.Frequency, len(h.Completions), h.LastModified().Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
}

func newHabitAddCmd(opts *rootOptions) *cobra.Command {
	var in habits.CreateInput
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a habit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return opts.withApp(cmd, func(a *app) error {
				h, err := a.habits.Create(in)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), h.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "use this UUID instead of generating one")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Icon, "icon", "", "icon name")
	cmd.Flags().StringVar(&in.Color, "color", "", "display color")
	cmd.Flags().StringVar(&in.Frequency, "frequency", "daily", "daily or weekly")
	cmd.Flags().IntVar(&in.TargetCount, "target", 1, "target count per period")
	return cmd
}

func newHabitSetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set ID FIELD=VALUE...",
		Short: "Update habit fields",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				_, err := a.habits.Update(args[0], fields)
				return err
			})
		},
	}
}

func newHabitRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a habit",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				return a.habits.Delete(args[0])
			})
		},
	}
}

func newHabitDoneCmd(opts *rootOptions) *cobra.Command {
	var (
		date  string
		value float64
		undo  bool
	)
	cmd := &cobra.Command{
		Use:   "done ID",
		Short: "Record a completion for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := models.Done(!undo)
			if cmd.Flags().Changed("value") {
				c = models.Progress(value)
			}
			return opts.withApp(cmd, func(a *app) error {
				_, err := a.habits.SetCompletion(args[0], dateOrToday(date), c)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	cmd.Flags().Float64Var(&value, "value", 0, "numeric progress instead of done")
	cmd.Flags().BoolVar(&undo, "undo", false, "mark as not done")
	return cmd
}

func newHabitNoteCmd(opts *rootOptions, use, short string,
	set func(*habits.Service, string, string, string) (*models.Habit, error)) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   use + " ID TEXT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				_, err := set(a.habits, args[0], dateOrToday(date), args[1])
				return err
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	return cmd
}

func dateOrToday(date string) string {
	if date != "" {
		return date
	}
	return time.Now().Format(habits.DateLayout)
}

// parseFields turns key=value pairs into patch fields. Integers and
// booleans are decoded; everything else stays a string.
func parseFields(pairs []string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "expected FIELD=VALUE, got %q", pair)
		}
		if n, err := strconv.Atoi(raw); err == nil {
			fields[key] = n
		} else if b, err := strconv.ParseBool(raw); err == nil {
			fields[key] = b
		} else {
			fields[key] = raw
		}
	}
	return fields, nil
}
