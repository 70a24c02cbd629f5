package main

import (
	"github.com/spf13/cobra"

	"ticketd/internal/app"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ticketd",
		Short: "Meal ticket claim scheduler",
		Long: `ticketd arms claim triggers (one-off or weekly) and fires them through a
bounded worker pool using burst, race or sequential strategies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./ticketd.yaml", "config file (JSON or YAML)")

	cmd.AddCommand(
		newServeCmd(opts),
		newClaimCmd(opts),
		newTriggersCmd(opts),
		newIdentitiesCmd(opts),
	)
	return cmd
}

// openApp builds the app for one-shot commands. Nothing is started.
func (o *rootOptions) openApp() (*app.App, error) {
	return app.NewApp(o.configPath, app.WithOfflineTelegram())
}
