package pipeline

import (
	"context"
	"errors"

	"bookforge/internal/domain"
	"bookforge/internal/providers/tts"
)

// PreviewOutline runs the outline stage on its own. Nothing is stored or
// charged and no job record is involved.
func (r *Runner) PreviewOutline(ctx context.Context, req domain.GenerationRequest) (*domain.Outline, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	st, ok := r.stageNamed(StageOutline)
	if !ok {
		return nil, errors.New("pipeline: outline stage missing")
	}
	s := &state{req: req}
	if err := runStage(ctx, st, s); err != nil {
		r.logger.Warn().Err(err).Str("stage", string(st.name)).Msg("pipeline: outline preview failed")
		return nil, &domain.StageFailure{Stage: string(st.name), Label: st.label, Err: err}
	}
	outline := s.result.Clone().Outline
	return &outline, nil
}

// RenderCover turns prompt into an image without storing it.
func (r *Runner) RenderCover(ctx context.Context, prompt string) (*domain.Media, error) {
	fail := func(err error) error {
		r.logger.Warn().Err(err).Str("stage", string(StageCover)).Msg("pipeline: cover render failed")
		return &domain.StageFailure{Stage: string(StageCover), Label: "Cover generation", Err: err}
	}
	if r.covers == nil {
		return nil, fail(errors.New("no image provider configured"))
	}
	img, err := r.covers.GenerateCover(ctx, prompt)
	if err != nil {
		return nil, fail(err)
	}
	return &domain.Media{Data: img.Data, MimeType: img.MimeType}, nil
}

// NarratePreview synthesizes text as speech. Text longer than the provider
// limit is cut and truncated reports it.
func (r *Runner) NarratePreview(ctx context.Context, text, voiceID string) (audio *domain.Media, truncated bool, err error) {
	fail := func(err error) error {
		r.logger.Warn().Err(err).Str("stage", string(StageAudiobook)).Msg("pipeline: narration failed")
		return &domain.StageFailure{Stage: string(StageAudiobook), Label: "Audiobook generation", Err: err}
	}
	if r.narrator == nil {
		return nil, false, fail(errors.New("no voice provider configured"))
	}
	if runes := []rune(text); len(runes) > tts.MaxChars {
		text, truncated = string(runes[:tts.MaxChars]), true
	}
	out, err := r.narrator.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, false, fail(err)
	}
	return &domain.Media{Data: out.Data, MimeType: out.MimeType}, truncated, nil
}

func (r *Runner) stageNamed(name StageName) (stage, bool) {
	for _, st := range r.stageTable() {
		if st.name == name {
			return st, true
		}
	}
	return stage{}, false
}
