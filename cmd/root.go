// Package cmd is Codial's cobra CLI, adapted from the teacher's cmd/
// package: a root command defaulting to "serve" plus operator
// subcommands for the rules list and the resolved policy snapshot.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via
// -ldflags "-X github.com/codial-ai/codial-core/cmd.Version=v1.0.0"
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "codial",
	Short: "Codial — Discord-native coding-agent orchestrator",
	Long:  "Codial orchestrates sessions and turns between a Discord gateway, pluggable provider bridges, and MCP tool servers.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(policyCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codial %s\n", Version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Codial orchestrator (REST API + turn engine)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
