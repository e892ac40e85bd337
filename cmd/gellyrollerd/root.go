package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gellyrollerd",
	Short: "Control daemon for a pen-plotter CNC machine",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
