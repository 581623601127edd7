package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codial-ai/codial-core/internal/config"
	"github.com/codial-ai/codial-core/internal/policy"
)

func policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Resolve and print the current policy snapshot",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintln(os.Stderr, "config load failed:", err)
				os.Exit(1)
			}

			snap, err := policy.New(cfg.WorkspaceRoot).Load()
			if err != nil {
				fmt.Fprintln(os.Stderr, "policy load failed:", err)
				os.Exit(1)
			}

			fmt.Printf("hash: %s\n", snap.Hash)
			fmt.Printf("skills: %d\n", len(snap.Skills))
			fmt.Printf("subagents: %d\n", len(snap.Subagents))
			for name := range snap.Subagents {
				fmt.Printf("  - %s\n", name)
			}
			fmt.Printf("default_provider: %s\n", snap.Defaults.Provider)
			fmt.Printf("default_model: %s\n", snap.Defaults.Model)
		},
	}
}
