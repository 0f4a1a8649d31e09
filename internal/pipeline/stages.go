package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookforge/internal/domain"
	"bookforge/internal/export"
	"bookforge/internal/providers/llm"
	"bookforge/internal/providers/tts"
	"bookforge/internal/storage"
)

const (
	marketMaxTokens       = 1200
	outlineMaxTokens      = 3000
	firstChapterMaxTokens = 4000
	chapterMaxTokens      = 2800
	listingMaxTokens      = 1500

	previousExcerptRunes = 1200

	noteAudioTruncated = "Audiobook preview text was truncated to provider limit."
)

// state is the mutable context of one pipeline run.
type state struct {
	// key namespaces stored artifacts: the job id, or a run id inline.
	key   string
	req   domain.GenerationRequest
	async bool

	progress int
	report   func(ctx context.Context, step string)

	result domain.BookResult
}

func (s *state) note(msg string) {
	s.result.GenerationNotes = append(s.result.GenerationNotes, msg)
}

type stage struct {
	name     StageName
	label    string
	activity string
	enabled  func(*state) bool
	run      func(context.Context, *state) error
}

func always(*state) bool { return true }

func (r *Runner) stageTable() []stage {
	return []stage{
		{name: StageMarket, label: "Market analysis", activity: "Analyzing market", enabled: always, run: r.market},
		{name: StageOutline, label: "Outline generation", activity: "Building outline", enabled: always, run: r.outline},
		{name: StageChapter, label: "Chapter generation", activity: "Writing chapter 1", enabled: always, run: r.firstChapter},
		{name: StageManuscript, label: "Manuscript generation", activity: "Writing full manuscript",
			enabled: func(s *state) bool { return s.req.Stages.FullBook }, run: r.manuscript},
		{name: StageListing, label: "Amazon listing", activity: "Preparing Amazon listing", enabled: always, run: r.listing},
		{name: StageCover, label: "Cover generation", activity: "Designing cover", enabled: always, run: r.cover},
		{name: StageAudiobook, label: "Audiobook generation", activity: "Recording audiobook preview",
			enabled: func(s *state) bool { return s.req.Stages.Audiobook }, run: r.audiobook},
		{name: StageExport, label: "Export", activity: "Exporting files",
			enabled: func(s *state) bool { return s.async }, run: r.export},
	}
}

func (r *Runner) market(ctx context.Context, s *state) error {
	raw, err := r.text.Generate(ctx, s.req.AIModel, marketPrompt(s.req), marketMaxTokens)
	if err != nil {
		return err
	}
	brief, err := llm.DecodeObject[domain.MarketBrief](raw)
	if err != nil {
		return fmt.Errorf("parse market brief: %w", err)
	}
	if strings.TrimSpace(brief.Positioning) == "" {
		return errors.New("market brief has no positioning")
	}
	brief.Keywords = llm.NormalizeKeywords(brief.Keywords)
	s.result.MarketBrief = brief
	return nil
}

func (r *Runner) outline(ctx context.Context, s *state) error {
	raw, err := r.text.Generate(ctx, s.req.AIModel, outlinePrompt(s.req, s.result.MarketBrief), outlineMaxTokens)
	if err != nil {
		return err
	}
	outline, err := llm.DecodeObject[domain.Outline](raw)
	if err != nil {
		return fmt.Errorf("parse outline: %w", err)
	}
	outline.Title = llm.Coalesce(outline.Title, s.req.TitleIdea)
	if outline.Title == "" {
		return errors.New("outline has no title")
	}
	if len(outline.Chapters) == 0 {
		return errors.New("outline has no chapters")
	}
	for i := range outline.Chapters {
		ch := &outline.Chapters[i]
		if ch.Number <= 0 {
			ch.Number = i + 1
		}
		ch.Title = llm.Coalesce(ch.Title, fmt.Sprintf("Chapter %d", ch.Number))
	}
	outline.AmazonKeywords = llm.NormalizeKeywords(outline.AmazonKeywords)
	if len(outline.AmazonKeywords) == 0 {
		outline.AmazonKeywords = s.result.MarketBrief.Keywords
	}
	s.result.Outline = outline
	return nil
}

func (r *Runner) firstChapter(ctx context.Context, s *state) error {
	raw, err := r.text.Generate(ctx, s.req.AIModel, firstChapterPrompt(s.req, s.result.Outline), firstChapterMaxTokens)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(raw)
	if content == "" {
		return errors.New("model returned an empty chapter")
	}
	plan := s.result.Outline.Chapters[0]
	s.result.Chapter1Preview = content
	s.result.Chapters = []domain.Chapter{{Number: plan.Number, Title: plan.Title, Summary: plan.Summary, Content: content}}
	return nil
}

// manuscript drafts every chapter after the first, feeding each prompt the
// tail of the previous chapter.
func (r *Runner) manuscript(ctx context.Context, s *state) error {
	plans := s.result.Outline.Chapters
	chapters := make([]domain.Chapter, 0, len(plans))
	chapters = append(chapters, s.result.Chapters...)
	previous := s.result.Chapter1Preview

	for i, plan := range plans[1:] {
		if s.report != nil {
			s.report(ctx, fmt.Sprintf("Writing chapter %d of %d", i+2, len(plans)))
		}
		raw, err := r.text.Generate(ctx, s.req.AIModel, nextChapterPrompt(s.req, s.result.Outline, plan, tail(previous, previousExcerptRunes)), chapterMaxTokens)
		if err != nil {
			return fmt.Errorf("chapter %d: %w", plan.Number, err)
		}
		content := strings.TrimSpace(raw)
		if content == "" {
			return fmt.Errorf("chapter %d: model returned an empty chapter", plan.Number)
		}
		chapters = append(chapters, domain.Chapter{Number: plan.Number, Title: plan.Title, Summary: plan.Summary, Content: content})
		previous = content
	}
	s.result.Chapters = chapters
	return nil
}

func (r *Runner) listing(ctx context.Context, s *state) error {
	raw, err := r.text.Generate(ctx, s.req.AIModel, listingPrompt(s.req, s.result.Outline), listingMaxTokens)
	if err != nil {
		return err
	}
	listing, err := llm.DecodeObject[domain.Listing](raw)
	if err != nil {
		return fmt.Errorf("parse listing: %w", err)
	}
	listing.Title = llm.Coalesce(listing.Title, s.result.Outline.Title)
	listing.Keywords = llm.NormalizeKeywords(listing.Keywords)
	s.result.AmazonListing = &listing
	return nil
}

// cover always records the prompt; the image is rendered only when the
// request asks for it.
func (r *Runner) cover(ctx context.Context, s *state) error {
	prompt := coverPrompt(s.req, s.result.Outline)
	s.result.CoverPrompt = prompt
	if !s.req.Stages.CoverImage {
		return nil
	}
	if r.covers == nil {
		return errors.New("no image provider configured")
	}
	img, err := r.covers.GenerateCover(ctx, prompt)
	if err != nil {
		return err
	}
	ref, err := r.put(ctx, s, "cover"+imageExt(img.MimeType), img.Data, img.MimeType)
	if err != nil {
		return err
	}
	s.result.Cover = ref
	return nil
}

func (r *Runner) audiobook(ctx context.Context, s *state) error {
	if r.narrator == nil {
		return errors.New("no voice provider configured")
	}
	script, truncated := audiobookScript(s.result, tts.MaxChars)
	audio, err := r.narrator.Synthesize(ctx, script, s.req.VoiceID)
	if err != nil {
		return err
	}
	ref, err := r.put(ctx, s, "audiobook.mp3", audio.Data, audio.MimeType)
	if err != nil {
		return err
	}
	s.result.Audiobook = ref
	if truncated {
		s.note(noteAudioTruncated)
	}
	return nil
}

func (r *Runner) export(ctx context.Context, s *state) error {
	m := export.FromResult(s.req, s.result)
	links := &domain.ExportLinks{}
	for _, format := range []export.Format{export.FormatPDF, export.FormatEPUB} {
		data, err := export.Render(m, format)
		if err != nil {
			return err
		}
		ref, err := r.put(ctx, s, m.Filename(format), data, format.MimeType())
		if err != nil {
			return err
		}
		if format == export.FormatPDF {
			links.PDF = ref
		} else {
			links.EPUB = ref
		}
	}
	s.result.Exports = links
	return nil
}

func (r *Runner) put(ctx context.Context, s *state, name string, data []byte, mimeType string) (*domain.AssetRef, error) {
	if r.artifacts == nil {
		return nil, errors.New("no artifact storage configured")
	}
	ref, err := r.artifacts.Put(ctx, storage.JobKey(s.key, name), data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	return ref, nil
}

func imageExt(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
