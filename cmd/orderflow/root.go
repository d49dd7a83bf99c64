package main

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
)

func newRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "orderflow",
		Short:         "Event-sourced order processing",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: heredoc.Doc(`
			$ orderflow serve --postgres postgres://localhost/orderflow --nats nats://localhost:4222
			$ orderflow stream 9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d
		`),
	}

	cmd.AddCommand(newServe())
	cmd.AddCommand(newStream())

	return cmd
}
