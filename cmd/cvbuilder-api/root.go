package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:          "cvbuilder-api",
	Short:        "CV builder api and job workers",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
}
