package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var rulesFlag string
	var jsonFlag bool

	ctx := newCommandContext(&rulesFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "bggsync",
		Short:         "Sync Square catalog images and descriptions from BoardGameGeek",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&rulesFlag, "category-rules", "", "YAML file with game category rules (overrides CATEGORY_RULES_FILE)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print machine-readable JSON instead of tables")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newMatchCommand(ctx))
	rootCmd.AddCommand(newDispatchCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))

	return rootCmd
}
