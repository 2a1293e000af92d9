package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mveditor",
	Short: "MVEditor API - collaborative MVBasic editing backend",
	Long: `MVEditor API serves workspaces and MVBasic source files over HTTP and
broadcasts cursor and chat activity between collaborators over websockets.

Configuration is read from the environment and an optional .env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}
