package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookforge/internal/domain"
	"bookforge/internal/poller"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		req       domain.SubmitRequest
		model     string
		fullBook  bool
		cover     bool
		audiobook bool
		wait      bool
		interval  time.Duration
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a book generation request",
		Long: "Submit a book generation request. Starter accounts get the result " +
			"immediately; other plans get a job id, which --wait follows until the book is ready.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			req.AIModel = domain.AIModel(model)
			flags := cmd.Flags()
			if flags.Changed("full-book") {
				req.FullBook = &fullBook
			}
			if flags.Changed("cover") {
				req.CoverImage = &cover
			}
			if flags.Changed("audiobook") {
				req.Audiobook = &audiobook
			}

			sub, err := client.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if sub.Result != nil {
				return printResult(cmd, ctx, sub.Result)
			}
			if !wait {
				if ctx.jsonOut {
					return writeJSON(cmd, map[string]string{"job_id": sub.JobID, "status": string(domain.JobStatusQueued)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued. Follow it with: bookforge status %s\n", sub.JobID, sub.JobID)
				return nil
			}

			errOut := cmd.ErrOrStderr()
			p := poller.New(sub.JobID, client, poller.Options{
				Interval: interval,
				Timeout:  timeout,
				OnProgress: func(u poller.Update) {
					fmt.Fprintf(errOut, "[%3d%%] %s\n", u.Progress, u.Step)
				},
			})
			fmt.Fprintf(errOut, "Job %s queued\n", sub.JobID)
			result, err := p.Wait(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, ctx, result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Genre, "genre", "", "Book genre (required)")
	f.StringVar(&req.Subgenre, "subgenre", "", "Subgenre (required)")
	f.StringVar(&req.TargetAudience, "audience", "", "Target audience (required)")
	f.StringVar(&req.TitleIdea, "title", "", "Working title")
	f.IntVar(&req.PageCount, "pages", domain.DefaultPageCount, "Approximate page count")
	f.StringVar(&req.Tone, "tone", domain.DefaultTone, "Writing tone")
	f.StringSliceVar(&req.Keywords, "keyword", nil, "Target keyword (repeatable)")
	f.StringVar(&req.Language, "language", "", "Book language (defaults to the request locale)")
	f.StringVar(&model, "model", string(domain.AIModelClaude), "Text model: claude or gpt-5")
	f.StringVar(&req.RecipientEmail, "email", "", "Send a notification to this address when done")
	f.StringVar(&req.AuthorName, "author", "", "Author name for the manuscript")
	f.StringVar(&req.VoiceID, "voice", "", "Narrator voice id for the audiobook preview")
	f.BoolVar(&fullBook, "full-book", false, "Write every chapter (plan default when omitted)")
	f.BoolVar(&cover, "cover", false, "Render a cover image (plan default when omitted)")
	f.BoolVar(&audiobook, "audiobook", false, "Record an audiobook preview (plan default when omitted)")
	f.BoolVar(&wait, "wait", false, "Wait for a queued job to finish")
	f.DurationVar(&interval, "interval", poller.DefaultInterval, "Polling interval with --wait")
	f.DurationVar(&timeout, "timeout", poller.DefaultTimeout, "Give up waiting after this long")
	_ = cmd.MarkFlagRequired("genre")
	_ = cmd.MarkFlagRequired("subgenre")
	_ = cmd.MarkFlagRequired("audience")

	return cmd
}

func printResult(cmd *cobra.Command, ctx *commandContext, res *domain.BookResult) error {
	if ctx.jsonOut {
		return writeJSON(cmd, res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))
	return nil
}
