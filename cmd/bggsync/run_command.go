package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"bggsync/internal/core/job"
	"bggsync/internal/core/syncjob"
	"bggsync/internal/logger"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var filter string
	var concurrency int
	var lockPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync the catalog in-process and print a summary",
		Long: "Lists the catalog, matches every game item against BoardGameGeek, and uploads\n" +
			"missing images and descriptions. Only one run per lock file may be active.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if lockPath == "" {
				lockPath = filepath.Join(os.TempDir(), "bggsync.lock")
			}
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock %s: %w", lockPath, err)
			}
			if !ok {
				return errors.New("another sync run holds " + lockPath)
			}
			defer func() { _ = lock.Unlock() }()

			engine, err := ctx.matchEngine(cfg)
			if err != nil {
				return err
			}
			catalogClient := ctx.catalogClient(cfg)
			store := job.NewMemoryStore()
			if concurrency <= 0 {
				concurrency = cfg.SyncConcurrency
			}

			w := syncjob.NewWorker(syncjob.WorkerConfig{
				Matcher:        engine,
				Catalog:        catalogClient,
				Jobs:           store,
				AuthErrorLimit: cfg.AuthErrorLimit,
				Logger:         logger.New("Worker"),
			})
			runner := syncjob.NewRunner(syncjob.RunnerConfig{
				Worker:         w,
				Catalog:        catalogClient,
				Jobs:           store,
				Concurrency:    concurrency,
				MaxRetries:     cfg.TaskMaxRetries,
				AuthErrorLimit: cfg.AuthErrorLimit,
			})

			result, err := runner.Run(cmd.Context(), syncjob.Request{Force: force, FilterName: filter})
			if err != nil {
				return err
			}
			return printRunResult(cmd, ctx, result)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-upload images and descriptions even when present")
	cmd.Flags().StringVar(&filter, "filter", "", "Only sync items whose name contains this text")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Items processed in parallel (default SYNC_CONCURRENCY)")
	cmd.Flags().StringVar(&lockPath, "lock", "", "Lock file guarding against concurrent runs")
	return cmd
}

func printRunResult(cmd *cobra.Command, ctx *commandContext, result syncjob.RunResult) error {
	out := cmd.OutOrStdout()
	if ctx.jsonOutput() {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "Run %s\n", result.RunID)
	if len(result.Outcomes) > 0 {
		fmt.Fprint(out, outcomesTable(result.Outcomes, shouldColorize(out)))
	}
	fmt.Fprint(out, summaryTable(result.Summary))
	if result.Summary.Aborted {
		return fmt.Errorf("run aborted after %d auth errors", result.Summary.AuthErrors)
	}
	return nil
}
