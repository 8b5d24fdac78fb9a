// Package cmd implements the chat-bridge CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd serves when invoked without a subcommand
var rootCmd = &cobra.Command{
	Use:          "chat-bridge",
	Short:        "Bridge Anthropic Messages clients to OpenAI-compatible backends",
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
