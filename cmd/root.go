package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailsweep application
var rootCmd = &cobra.Command{
	Use:   "mailsweep",
	Short: "Classifies and labels Gmail inboxes with an LLM",
	Long: `mailsweep fetches recent Gmail messages, classifies each one into a
category (important, FYI, marketing, automated, noise) using a chat
model, and applies color-coded Gmail labels so the inbox can be triaged
at a glance.

It can run as:
  - An HTTP API server with a Google consent flow (serve)
  - A one-shot CLI run against an already-authorized account (clean)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailsweep version %s\n" .Version}}`)

	// If no subcommand is provided, run the server by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mailsweep version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mailsweep version %s\n", version)
		},
	}
}

func init() {
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
