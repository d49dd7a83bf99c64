package main

import (
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventlog"
	"github.com/jpkontreras/orderflow/event/eventlog/pglog"
	"github.com/jpkontreras/orderflow/history"
	"github.com/jpkontreras/orderflow/order"
	"github.com/jpkontreras/orderflow/ordersession"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
)

func newStream() *cobra.Command {
	var postgres string

	cmd := &cobra.Command{
		Use:   "stream <stream-id>",
		Short: "Print the timeline and statistics of an event stream",
		Long: heredoc.Doc(`
			Print every event of a session or order stream as an annotated
			timeline, followed by per-stream statistics.
		`),
		Example: heredoc.Doc(`
			$ orderflow stream 9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d \
			    --postgres postgres://localhost/orderflow
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse stream id: %w", err)
			}
			return printStream(cmd, postgres, streamID)
		},
	}

	cmd.Flags().StringVar(&postgres, "postgres", "", "PostgreSQL event log URL")

	return cmd
}

func printStream(cmd *cobra.Command, postgres string, streamID uuid.UUID) error {
	reg := event.NewRegistry()
	ordersession.RegisterEvents(reg)
	order.RegisterEvents(reg)

	var log eventlog.Log = pglog.New(reg, pglog.URL(postgres))
	svc := history.NewService(log)

	ctx := cmd.Context()

	timeline, err := svc.Timeline(ctx, streamID)
	if err != nil {
		return err
	}

	cmd.Println(aurora.Bold(fmt.Sprintf("Stream %s", streamID)).String())
	cmd.Println()

	for _, entry := range timeline {
		cmd.Printf("%s  %s  %s  %s\n",
			aurora.Faint(fmt.Sprintf("#%-3d", entry.Sequence)),
			aurora.Faint(entry.Time.Format("2006-01-02 15:04:05.000")),
			aurora.Cyan(fmt.Sprintf("%-32s", entry.Name)),
			entry.Description,
		)
	}

	stats, err := svc.Statistics(ctx, streamID)
	if err != nil {
		return err
	}

	cmd.Println()
	cmd.Println(aurora.Green(heredoc.Docf(`
		Events:   %d
		First:    %s
		Last:     %s
		Duration: %s
	`, stats.EventCount, stats.First, stats.Last, stats.Duration)).String())

	return nil
}
