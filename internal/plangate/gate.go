// Package plangate turns a generation request into either an inline run or a
// queued job, depending on what the caller's plan allows.
package plangate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
)

// Kind discriminates a Submission.
type Kind string

const (
	KindSync  Kind = "sync"
	KindAsync Kind = "async"
)

// ReasonCreditsExhausted is the PlanLimitError reason for an empty balance.
const ReasonCreditsExhausted = "credits_exhausted"

// Submission is the outcome of Submit: a finished result on the sync path,
// a job id on the async path.
type Submission struct {
	Kind   Kind
	Result *domain.BookResult
	JobID  string
}

type entitlement struct {
	async     bool
	fullBook  bool
	cover     bool
	audiobook bool
}

var entitlements = map[domain.PlanTier]entitlement{
	domain.PlanStarter:    {},
	domain.PlanPro:        {async: true, fullBook: true, cover: true},
	domain.PlanEnterprise: {async: true, fullBook: true, cover: true, audiobook: true},
}

// Resolve applies flags to the plan's entitlements. A nil flag takes the plan
// default, false opts out, and true on a feature the plan lacks is a
// PlanLimitError.
func Resolve(plan domain.PlanTier, flags domain.StageFlags) (domain.StageSet, error) {
	ent, ok := entitlements[plan]
	if !ok {
		return domain.StageSet{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedPlan, plan)
	}
	fullBook, err := resolveFlag(plan, "full book generation", ent.fullBook, flags.FullBook)
	if err != nil {
		return domain.StageSet{}, err
	}
	cover, err := resolveFlag(plan, "cover image generation", ent.cover, flags.CoverImage)
	if err != nil {
		return domain.StageSet{}, err
	}
	audiobook, err := resolveFlag(plan, "audiobook generation", ent.audiobook, flags.Audiobook)
	if err != nil {
		return domain.StageSet{}, err
	}
	return domain.StageSet{FullBook: fullBook, CoverImage: cover, Audiobook: audiobook}, nil
}

func resolveFlag(plan domain.PlanTier, feature string, entitled bool, requested *bool) (bool, error) {
	if requested == nil {
		return entitled, nil
	}
	if *requested && !entitled {
		return false, &domain.PlanLimitError{Plan: plan, Feature: feature}
	}
	return *requested, nil
}

// Async reports whether plan runs through the job queue.
func Async(plan domain.PlanTier) bool {
	return entitlements[plan].async
}

// Jobs creates and fails job records.
type Jobs interface {
	CreateJob(ctx context.Context, ownerID string, req domain.GenerationRequest) (*domain.Job, error)
	FailJob(ctx context.Context, jobID string, message string) (*domain.Job, error)
}

// InlineRunner executes the pipeline synchronously.
type InlineRunner interface {
	RunInline(ctx context.Context, ownerID string, req domain.GenerationRequest) (*domain.BookResult, error)
}

// Previewer runs single stages outside any job.
type Previewer interface {
	PreviewOutline(ctx context.Context, req domain.GenerationRequest) (*domain.Outline, error)
	RenderCover(ctx context.Context, prompt string) (*domain.Media, error)
	NarratePreview(ctx context.Context, text, voiceID string) (*domain.Media, bool, error)
}

// Runner is what the gate needs from the pipeline.
type Runner interface {
	InlineRunner
	Previewer
}

// Dispatcher starts a queued job in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Gate routes submissions by plan.
type Gate struct {
	accounts   domain.AccountRepository
	jobs       Jobs
	runner     Runner
	dispatcher Dispatcher
	logger     infra.Logger
}

// New builds a Gate.
func New(accounts domain.AccountRepository, jobs Jobs, runner Runner, dispatcher Dispatcher, logger infra.Logger) *Gate {
	return &Gate{accounts: accounts, jobs: jobs, runner: runner, dispatcher: dispatcher, logger: logger}
}

// Submit checks the caller's plan and credits, then either runs req inline
// or queues it. The plan on req is always overwritten from the account.
func (g *Gate) Submit(ctx context.Context, ownerID string, req domain.GenerationRequest, flags domain.StageFlags) (Submission, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Submission{}, domain.ErrUnauthorized
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return Submission{}, err
	}

	account, err := g.account(ctx, ownerID)
	if err != nil {
		return Submission{}, err
	}
	stages, err := Resolve(account.Plan, flags)
	if err != nil {
		return Submission{}, err
	}
	if account.CreditsRemaining <= 0 {
		return Submission{}, &domain.PlanLimitError{Plan: account.Plan, Feature: "book generation", Reason: ReasonCreditsExhausted}
	}
	req.Plan = account.Plan
	req.Stages = stages

	logger := g.logger.With().Str("owner_id", ownerID).Str("plan", string(account.Plan)).Logger()

	if !Async(account.Plan) {
		result, err := g.runner.RunInline(ctx, ownerID, req)
		if err != nil {
			return Submission{}, err
		}
		logger.Info().Msg("plangate: inline run finished")
		return Submission{Kind: KindSync, Result: result}, nil
	}

	job, err := g.jobs.CreateJob(ctx, ownerID, req)
	if err != nil {
		return Submission{}, err
	}
	if err := g.dispatcher.Dispatch(ctx, job.ID); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("plangate: dispatch failed")
		if _, ferr := g.jobs.FailJob(context.WithoutCancel(ctx), job.ID, "job could not be scheduled"); ferr != nil {
			logger.Warn().Err(ferr).Str("job_id", job.ID).Msg("plangate: mark undispatched job failed")
		}
		return Submission{}, fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}
	logger.Info().Str("job_id", job.ID).Bool("full_book", stages.FullBook).Bool("cover", stages.CoverImage).Bool("audiobook", stages.Audiobook).Msg("plangate: job dispatched")
	return Submission{Kind: KindAsync, JobID: job.ID}, nil
}

// Outline previews the outline for req. Every plan may use it and nothing
// is charged.
func (g *Gate) Outline(ctx context.Context, ownerID string, req domain.GenerationRequest) (*domain.Outline, error) {
	account, err := g.account(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	req.Plan = account.Plan
	return g.runner.PreviewOutline(ctx, req)
}

// Cover renders a standalone cover image from prompt.
func (g *Gate) Cover(ctx context.Context, ownerID, prompt string) (*domain.Media, error) {
	account, err := g.account(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !entitlements[account.Plan].cover {
		return nil, &domain.PlanLimitError{Plan: account.Plan, Feature: "cover image generation"}
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, &domain.ValidationError{Field: "prompt", Reason: "cannot be empty"}
	}
	return g.runner.RenderCover(ctx, prompt)
}

// Audiobook narrates text as a preview MP3. The plan is checked before the
// text, so a starter caller always sees the plan limit.
func (g *Gate) Audiobook(ctx context.Context, ownerID, text, voiceID string) (*domain.Media, error) {
	account, err := g.account(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !entitlements[account.Plan].audiobook {
		return nil, &domain.PlanLimitError{Plan: account.Plan, Feature: "audiobook generation"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "cannot be empty"}
	}
	audio, truncated, err := g.runner.NarratePreview(ctx, text, strings.TrimSpace(voiceID))
	if err != nil {
		return nil, err
	}
	if truncated {
		g.logger.Info().Str("owner_id", ownerID).Msg("plangate: audiobook text truncated")
	}
	return audio, nil
}

// account loads the caller. An unknown owner is unauthorized.
func (g *Gate) account(ctx context.Context, ownerID string) (*domain.Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.ErrUnauthorized
	}
	account, err := g.accounts.GetAccount(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}
