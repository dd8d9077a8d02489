// Package main provides the loom CLI: an agentic assistant runtime
// that drives LLM providers through a tool-calling loop.
//
// Basic usage:
//
//	loom chat "summarize the files in this workspace"
//	loom chat --session my-session --model sonnet "continue"
//	loom skills list
//	loom config schema
//
// Configuration can be provided via LOOM_CONFIG or --config; API keys
// come from ANTHROPIC_API_KEY / OPENAI_API_KEY when the file has none.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "loom",
		Short:         "Agentic assistant runtime",
		Long:          "Loom runs an agentic loop against LLM providers with tool calling, skills, and session persistence.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildSkillsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loom %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// configPath resolves the config file path from the flag or env.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("LOOM_CONFIG")
}
