package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"bggsync/internal/core/job"
	"bggsync/internal/syncerr"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showItems bool

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the progress of a queued sync run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			redisSvc, err := ctx.redis(cfg)
			if err != nil {
				return err
			}
			defer redisSvc.Close()

			return printStatus(cmd, ctx, ctx.jobService(cfg, redisSvc), args[0], showItems)
		},
	}

	cmd.Flags().BoolVar(&showItems, "items", false, "List the outcome of every item")
	return cmd
}

func printStatus(cmd *cobra.Command, ctx *commandContext, store job.Store, runID string, showItems bool) error {
	run, err := store.Get(cmd.Context(), runID)
	if err != nil {
		if errors.Is(err, syncerr.ErrNotFound) {
			return fmt.Errorf("run %s not found", runID)
		}
		return err
	}
	var outcomes []job.Outcome
	if showItems || ctx.jsonOutput() {
		if outcomes, err = store.Outcomes(cmd.Context(), runID); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if ctx.jsonOutput() {
		return writeJSON(out, map[string]interface{}{"run": run, "outcomes": outcomes})
	}
	writeRunHeader(out, run)
	if len(outcomes) > 0 {
		fmt.Fprint(out, outcomesTable(outcomes, shouldColorize(out)))
	}
	fmt.Fprint(out, summaryTable(run.Summary))
	return nil
}

func writeRunHeader(out io.Writer, run *job.Run) {
	fmt.Fprintf(out, "Run %s: %s\n", run.RunID, run.Status)
	if run.DispatchDone {
		fmt.Fprintf(out, "Dispatched %d of %d items in %d batches\n", run.Dispatched, run.Total, run.Batches)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
}
