package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ticketd/internal/domain"
	"ticketd/internal/task/scheduler"
	"ticketd/internal/trigger"
)

// Trigger commands write the store directly. A running daemon arms
// changes made here at its next start; use the admin API for live edits.
func newTriggersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "triggers",
		Aliases: []string{"trigger", "t"},
		Short:   "Manage claim triggers",
	}
	cmd.AddCommand(
		newTriggersListCmd(opts, false),
		newTriggersListCmd(opts, true),
		newTriggersAddCmd(opts),
		newTriggersRmCmd(opts),
	)
	return cmd
}

func newTriggersListCmd(opts *rootOptions, upcoming bool) *cobra.Command {
	var identity int64
	use, short := "list", "List triggers"
	if upcoming {
		use, short = "upcoming", "List active triggers firing within the next week"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var filter *int64
			if identity > 0 {
				filter = &identity
			}
			list := a.Triggers().List
			if upcoming {
				list = a.Triggers().Upcoming
			}
			ts, err := list(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printTriggers(cmd.OutOrStdout(), ts)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&identity, "identity", "i", 0, "only this identity")
	return cmd
}

func newTriggersAddCmd(opts *rootOptions) *cobra.Command {
	var (
		req  trigger.CreateRequest
		days string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a one-off (--date) or weekly (--days) trigger",
		Example: `  ticketd triggers add -i 1 --date 2025-03-10 --time 07:00
  ticketd triggers add -i 1 --days mon,wed,fri --time 06:59:58`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days != "" {
				wd, err := domain.ParseWeekdays(days)
				if err != nil {
					return err
				}
				req.RecurringDays = wd
				req.IsRecurring = true
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.Triggers().Create(cmd.Context(), req)
			if err != nil && t.ID == "" {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", t.ID)
			if errors.Is(err, scheduler.ErrPastDue) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; stored but will not fire\n", err)
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.Int64VarP(&req.IdentityID, "identity", "i", 0, "identity id")
	f.StringVar(&req.FireDate, "date", "", "one-off date (YYYY-MM-DD)")
	f.StringVar(&days, "days", "", "weekly days, e.g. mon,wed,fri")
	f.StringVar(&req.FireTime, "time", "", "fire time (HH:MM or HH:MM:SS)")
	f.StringVar(&req.Description, "desc", "", "description")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("time")
	cmd.MarkFlagsMutuallyExclusive("date", "days")
	cmd.MarkFlagsOneRequired("date", "days")
	return cmd
}

func newTriggersRmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID [ID...]",
		Aliases: []string{"delete"},
		Short:   "Delete triggers",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			for _, id := range args {
				if err := a.Triggers().Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

func printTriggers(w io.Writer, ts []domain.Trigger) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tIDENTITY\tWHEN\tTIME\tACTIVE\tDESCRIPTION")
	for _, t := range ts {
		when := t.FireDate
		if t.IsRecurring {
			when = t.RecurringDays.String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%t\t%s\n", t.ID, t.IdentityID, when, t.FireTime, t.IsActive, t.Description)
	}
	_ = tw.Flush()
}
