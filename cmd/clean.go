package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/pipeline"
)

func newCleanCmd() *cobra.Command {
	var (
		user      string
		count     int
		debugMode bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Classify and label recent messages for one account",
		Long: `Run the pipeline once for an account that has already completed the
consent flow: fetch the most recent messages, classify them and apply
category labels. The run result is printed as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			if count < pipeline.MinCount || count > pipeline.MaxCount {
				return fmt.Errorf("--count must be between %d and %d", pipeline.MinCount, pipeline.MaxCount)
			}

			logger := newLogger(debugMode, false)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			deps, err := buildDeps(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to wire dependencies: %w", err)
			}

			result, err := deps.runner.Run(cmd.Context(), user, count)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Email of the account to clean")
	cmd.Flags().IntVar(&count, "count", 10, "Number of recent messages to process (1-100)")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	return cmd
}
