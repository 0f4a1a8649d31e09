// Package pipeline runs the ordered book generation stages and records their
// progress on the job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/providers/genai"
	"bookforge/internal/providers/notify"
	"bookforge/internal/providers/tts"
	"bookforge/internal/storage"
)

const (
	stepFinalizing = "Finalizing"

	// msgRunFailed is stored for failures outside any single stage.
	msgRunFailed = "Book generation failed"

	// finishTimeout bounds the terminal writes made after the run context
	// may already be cancelled.
	finishTimeout = 30 * time.Second
)

// ErrNotClaimed marks Execute failures that happened before the job was
// claimed. The job record is untouched in that case.
var ErrNotClaimed = errors.New("job not claimed")

// JobStore is the subset of jobstore.Store the runner drives.
type JobStore interface {
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateProgress(ctx context.Context, jobID string, status domain.JobStatus, progress int, step string) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID string, result domain.BookResult) (*domain.Job, error)
	FailJob(ctx context.Context, jobID string, message string) (*domain.Job, error)
}

// TextGenerator produces model text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, model domain.AIModel, prompt string, maxTokens int) (string, error)
}

// CoverRenderer turns a cover prompt into an image.
type CoverRenderer interface {
	GenerateCover(ctx context.Context, prompt string) (*genai.Image, error)
}

// Narrator synthesizes speech.
type Narrator interface {
	Synthesize(ctx context.Context, text, voiceID string) (*tts.Audio, error)
}

// Notifier sends the "book ready" e-mail.
type Notifier interface {
	SendBookReady(ctx context.Context, msg notify.BookReady) error
}

// Config wires a Runner. Covers, Narrator, Artifacts and Notifier are
// optional; stages that need a missing one fail under their policy.
type Config struct {
	Jobs      JobStore
	Text      TextGenerator
	Covers    CoverRenderer
	Narrator  Narrator
	Artifacts storage.ArtifactStore
	Credits   domain.CreditLedger
	Notifier  Notifier
	Policies  Policies
	Logger    infra.Logger
}

// Runner executes the stage table for queued jobs and inline requests.
type Runner struct {
	jobs      JobStore
	text      TextGenerator
	covers    CoverRenderer
	narrator  Narrator
	artifacts storage.ArtifactStore
	credits   domain.CreditLedger
	notifier  Notifier
	policies  Policies
	logger    infra.Logger
	newID     func() string
}

// New validates cfg and builds a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Text == nil {
		return nil, errors.New("pipeline: text generator is required")
	}
	if cfg.Credits == nil {
		return nil, errors.New("pipeline: credit ledger is required")
	}
	policies := cfg.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Runner{
		jobs:      cfg.Jobs,
		text:      cfg.Text,
		covers:    cfg.Covers,
		narrator:  cfg.Narrator,
		artifacts: cfg.Artifacts,
		credits:   cfg.Credits,
		notifier:  cfg.Notifier,
		policies:  policies,
		logger:    cfg.Logger,
		newID:     uuid.NewString,
	}, nil
}

// Execute claims a queued job and runs it to a terminal state. The returned
// error is informational: the job record already carries the outcome.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	if r.jobs == nil {
		return errors.New("pipeline: job store is required for Execute")
	}
	job, err := r.jobs.ClaimJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotClaimed, jobID, err)
	}
	logger := r.logger.With().Str("job_id", jobID).Str("owner_id", job.OwnerID).Logger()
	logger.Info().Str("plan", string(job.Request.Plan)).Msg("pipeline: job started")
	started := time.Now()

	s := &state{key: jobID, req: job.Request, async: true, progress: job.Progress}
	s.report = func(ctx context.Context, step string) {
		if _, err := r.jobs.UpdateProgress(ctx, jobID, domain.JobStatusRunning, s.progress, step); err != nil {
			logger.Warn().Err(err).Str("step", step).Msg("pipeline: step update rejected")
		}
	}
	runErr := r.run(ctx, s, logger, func(ctx context.Context, progress int, step string) error {
		_, err := r.jobs.UpdateProgress(ctx, jobID, domain.JobStatusRunning, progress, step)
		return err
	})

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if runErr != nil {
		if _, err := r.jobs.FailJob(finishCtx, jobID, failureMessage(runErr)); err != nil {
			logger.Warn().Err(err).Msg("pipeline: mark job failed")
		}
		logger.Error().Err(runErr).Dur("elapsed", time.Since(started)).Msg("pipeline: job failed")
		return runErr
	}

	s.result.ModelUsed = job.Request.AIModel.Label()
	if _, err := r.jobs.CompleteJob(finishCtx, jobID, s.result); err != nil {
		logger.Error().Err(err).Msg("pipeline: complete job")
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	logger.Info().Dur("elapsed", time.Since(started)).Int("notes", len(s.result.GenerationNotes)).Msg("pipeline: job completed")

	r.charge(finishCtx, logger, job.OwnerID, jobID)
	// The record is terminal by now, so a failed e-mail is only logged.
	_, _ = r.notify(finishCtx, logger, job.Request, s.result)
	return nil
}

// RunInline runs the stage table without a job record and returns the
// result directly. The credit is charged only when every mandatory stage
// succeeded.
func (r *Runner) RunInline(ctx context.Context, ownerID string, req domain.GenerationRequest) (*domain.BookResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	runID := "inline-" + r.newID()
	logger := r.logger.With().Str("run_id", runID).Str("owner_id", ownerID).Logger()

	s := &state{key: runID, req: req}
	if err := r.run(ctx, s, logger, nil); err != nil {
		logger.Error().Err(err).Msg("pipeline: inline run failed")
		return nil, err
	}
	s.result.ModelUsed = req.AIModel.Label()
	if remaining, ok := r.charge(ctx, logger, ownerID, runID); ok {
		s.result.CreditsRemaining = &remaining
	}
	sent, err := r.notify(ctx, logger, req, s.result)
	if err != nil {
		s.note(fmt.Sprintf("Notification skipped: %v", err))
	}
	s.result.NotificationSent = sent
	result := s.result.Clone()
	return &result, nil
}

// Policies reports the effective stage policies.
func (r *Runner) Policies() Policies {
	out := make(Policies, len(r.policies))
	for k, v := range r.policies {
		out[k] = v
	}
	return out
}

type progressFunc func(ctx context.Context, progress int, step string) error

func (r *Runner) run(ctx context.Context, s *state, logger infra.Logger, progress progressFunc) error {
	var active []stage
	for _, st := range r.stageTable() {
		if st.enabled(s) {
			active = append(active, st)
		}
	}

	for i, st := range active {
		stageLog := logger.With().Str("stage", string(st.name)).Logger()
		started := time.Now()
		err := runStage(ctx, st, s)
		switch {
		case err == nil:
			stageLog.Debug().Dur("elapsed", time.Since(started)).Msg("pipeline: stage done")
		case r.policies.For(st.name) == PolicyAbort || ctx.Err() != nil:
			stageLog.Warn().Err(err).Msg("pipeline: stage aborted the run")
			return &domain.StageFailure{Stage: string(st.name), Label: st.label, Err: err}
		default:
			stageLog.Warn().Err(err).Msg("pipeline: stage degraded")
			s.note(fmt.Sprintf("%s skipped: %v", st.label, err))
		}

		if progress == nil {
			continue
		}
		step := stepFinalizing
		if i+1 < len(active) {
			step = active[i+1].activity
		}
		s.progress = stageProgress(i+1, len(active))
		if err := progress(ctx, s.progress, step); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}
	}
	return nil
}

func runStage(ctx context.Context, st stage, s *state) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return st.run(ctx, s)
}

// stageProgress maps finished stage i of n onto 1..99.
func stageProgress(i, n int) int {
	p := i * domain.ProgressCeiling / n
	if p < 1 {
		p = 1
	}
	return p
}

func (r *Runner) charge(ctx context.Context, logger infra.Logger, ownerID, key string) (int, bool) {
	remaining, charged, err := r.credits.Charge(ctx, ownerID, key)
	if err != nil {
		logger.Error().Err(err).Str("charge_key", key).Msg("pipeline: charge credit")
		return 0, false
	}
	logger.Info().Bool("charged", charged).Int("credits_remaining", remaining).Msg("pipeline: credit charged")
	return remaining, true
}

// notify sends the "book ready" e-mail when a recipient was given. The error
// is the delivery failure; a missing notifier or recipient is not one.
func (r *Runner) notify(ctx context.Context, logger infra.Logger, req domain.GenerationRequest, result domain.BookResult) (bool, error) {
	if r.notifier == nil || req.RecipientEmail == "" {
		return false, nil
	}
	err := r.notifier.SendBookReady(ctx, notify.BookReady{
		To:         req.RecipientEmail,
		Title:      result.Outline.Title,
		Plan:       req.Plan,
		ModelLabel: result.ModelUsed,
		FullBook:   req.Stages.FullBook,
		Cover:      result.Cover != nil,
		Audiobook:  result.Audiobook != nil,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("pipeline: book ready e-mail failed")
		return false, err
	}
	return true, nil
}

// failureMessage is the job error shown to the owner: the failed stage's
// label, never the provider detail kept in the logs.
func failureMessage(err error) string {
	var failure *domain.StageFailure
	if errors.As(err, &failure) {
		return failure.Message()
	}
	return msgRunFailed
}
