package cmd

import (
	"fmt"
	"os"

	"TextTune/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "texttune",
	Short: "TextTune turns text prompts into music.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
