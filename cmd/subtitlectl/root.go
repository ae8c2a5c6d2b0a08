package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var urlFlag string
	var jsonFlag bool

	ctx := newCommandContext(&urlFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "subtitlectl",
		Short:         "Inspect and drive the subtitle daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "Daemon base URL (default: address file, then SUBTITLED_BIND_ADDR)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newTabsCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	for _, cmd := range newTabActionCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newOptionsCommand(ctx))

	return rootCmd
}
