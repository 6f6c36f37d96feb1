// Package main is the entry point for the chatsim CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info (set via ldflags)
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "chatsim",
	Short: "Watch two local LLM personas debate",
	Long: `chatsim runs a turn-based debate between two personas, Bot A and Bot B,
backed by a local OpenAI-compatible completions server (LM Studio, llama.cpp, Ollama).

Serve the JSON API with "chatsim serve" or debate in the terminal with "chatsim chat".`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chatsim %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./chatsim.yaml or $XDG_CONFIG_HOME/chatsim/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
