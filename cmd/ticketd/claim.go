package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ticketd/internal/acquire"
	"ticketd/internal/claim"
)

func newClaimCmd(opts *rootOptions) *cobra.Command {
	var (
		strategy string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "claim IDENTITY [IDENTITY...]",
		Short: "Claim a ticket now",
		Long: `Claim a ticket now for one identity with the chosen strategy. With several
identities, one attempt is made for each in parallel.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("identity %q: not an integer", a)
				}
				ids = append(ids, id)
			}
			kind, err := acquire.ParseKind(strategy)
			if err != nil {
				return err
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(ids) > 1 {
				printBatch(out, a.Strategies().Batch(cmd.Context(), ids))
				return nil
			}
			results, err := a.Strategies().Execute(cmd.Context(), kind, ids[0], count)
			if err != nil {
				return err
			}
			printResults(out, kind, results)
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "burst", "burst, race or sequential")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "burst/race size or sequential rounds (0 = configured default)")
	return cmd
}

func printResults(w io.Writer, kind acquire.Kind, results []claim.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCODE\tTICKET\tLATENCY\tMESSAGE")
	ok := 0
	for i, r := range results {
		if r.Succeeded() {
			ok++
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", i+1, r.StatusCode, dash(r.ClaimCode), r.Latency.Round(time.Millisecond), r.Message())
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%s: %d/%d successful\n", kind, ok, len(results))
}

func printBatch(w io.Writer, items []acquire.BatchItem) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tNAME\tCODE\tTICKET\tMESSAGE")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", it.IdentityID, dash(it.Name), it.Result.StatusCode, dash(it.Result.ClaimCode), it.Result.Message())
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
