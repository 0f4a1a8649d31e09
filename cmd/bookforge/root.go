package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"bookforge/internal/apiclient"
)

const defaultAPIURL = "http://localhost:8080"

type commandContext struct {
	apiURL  string
	token   string
	jsonOut bool
}

func (c *commandContext) client() (*apiclient.Client, error) {
	if c.token == "" {
		return nil, errors.New("an API token is required (--token or BOOKFORGE_TOKEN)")
	}
	return apiclient.New(c.apiURL, c.token)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "bookforge",
		Short:         "Generate books with the BOOKFORGE API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.apiURL, "api", envOr("BOOKFORGE_API_URL", defaultAPIURL), "API base URL")
	rootCmd.PersistentFlags().StringVar(&ctx.token, "token", os.Getenv("BOOKFORGE_TOKEN"), "Bearer token for the account")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOut, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newTrendingCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
