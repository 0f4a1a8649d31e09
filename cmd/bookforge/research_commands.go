package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookforge/internal/research"
)

func newTrendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trending",
		Short: "List genres trending on Amazon KDP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			genres, err := client.Trending(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, genres)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTrending(genres))
			return nil
		},
	}
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var req research.Request
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Find book market opportunities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			res, err := client.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOpportunities(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Topic, "topic", "", "Topic or niche to research")
	cmd.Flags().StringVar(&req.TargetAge, "age", "", "Target reader age group")
	cmd.Flags().StringVar(&req.Language, "language", "", "Market language")
	return cmd
}
