package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/codial-ai/codial-core/internal/config"
	"github.com/codial-ai/codial-core/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit CODIAL.md without starting the server",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesRemoveCmd())
	return cmd
}

func rulesStoreFromEnv() *rules.FileStore {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	return rules.NewFileStore(cfg.WorkspaceRoot)
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every rule with its 1-based index",
		Run: func(cmd *cobra.Command, args []string) {
			lines, err := rulesStoreFromEnv().List()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			for i, line := range lines {
				fmt.Printf("%d. %s\n", i+1, line)
			}
		},
	}
}

func rulesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [text]",
		Short: "Append a rule",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := rulesStoreFromEnv().Append(args[0]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
}

func rulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [index]",
		Short: "Remove the rule at the given 1-based index",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, "index must be an integer:", err)
				os.Exit(1)
			}
			if _, cerr := rulesStoreFromEnv().Remove(idx); cerr != nil {
				fmt.Fprintln(os.Stderr, cerr)
				os.Exit(1)
			}
		},
	}
}
