package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bggsync/internal/core/syncjob"
	"bggsync/internal/logger"
	"bggsync/internal/platform/tasks"
)

func newDispatchCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var filter string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Queue a sync run for the worker fleet",
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

			taskClient := tasks.NewWithOpt(redisSvc.AsynqRedisOpt())
			defer taskClient.Close()

			dispatcher := syncjob.NewDispatcher(syncjob.DispatcherConfig{
				Tasks:      taskClient,
				Jobs:       ctx.jobService(cfg, redisSvc),
				BatchSize:  cfg.BatchSize,
				MaxRetries: cfg.TaskMaxRetries,
				Validate:   cfg.Validate,
				Logger:     logger.New("Dispatcher"),
			})
			runID, err := dispatcher.Start(cmd.Context(), syncjob.Request{Force: force, FilterName: filter})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.jsonOutput() {
				return writeJSON(out, map[string]interface{}{"success": true, "run_id": runID})
			}
			fmt.Fprintf(out, "Queued run %s\n", runID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-upload images and descriptions even when present")
	cmd.Flags().StringVar(&filter, "filter", "", "Only sync items whose name contains this text")
	return cmd
}
