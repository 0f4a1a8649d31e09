package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookforge/internal/domain"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the progress of a generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			st, err := client.FetchStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStatus(args[0], st))
			if st.Status == domain.JobStatusCompleted && st.Result != nil {
				fmt.Fprintln(out, renderResult(st.Result))
			}
			return nil
		},
	}
}
