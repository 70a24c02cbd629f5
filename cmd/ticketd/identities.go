package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ticketd/internal/domain"
)

func newIdentitiesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "identities",
		Aliases: []string{"identity", "id"},
		Short:   "Manage the people tickets are claimed for",
	}

	var id domain.Identity
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			created, err := a.Store().CreateIdentity(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created identity %d (%s)\n", created.ID, created.Name)
			return nil
		},
	}
	add.Flags().StringVar(&id.Name, "name", "", "display name")
	add.Flags().StringVar(&id.ExternalID, "dni", "", "national id")
	add.Flags().StringVar(&id.Secret, "code", "", "student code")
	_ = add.MarkFlagRequired("dni")
	_ = add.MarkFlagRequired("code")

	list := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ids, err := a.Store().ListIdentities(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDNI")
			for _, it := range ids {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", it.ID, it.Name, it.ExternalID)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
