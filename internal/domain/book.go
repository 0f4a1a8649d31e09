package domain

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"slices"
	"strings"
)

// AIModel selects the text generation backend.
type AIModel string

const (
	AIModelClaude AIModel = "claude"
	AIModelGPT5   AIModel = "gpt-5"
)

// Label is the human readable model name reported in results.
func (m AIModel) Label() string {
	if m == AIModelGPT5 {
		return "GPT-5"
	}
	return "Claude Opus 4.6"
}

const (
	DefaultPageCount  = 200
	DefaultTone       = "engaging"
	DefaultLanguage   = "en"
	DefaultAuthorName = "BOOKFORGE AI"

	minPageCount = 20
	maxPageCount = 1000
	maxKeywords  = 20
)

// StageSet is the resolved set of optional stages for one job.
type StageSet struct {
	FullBook   bool `json:"full_book"`
	CoverImage bool `json:"cover_image"`
	Audiobook  bool `json:"audiobook"`
}

// StageFlags carries the caller's stage requests. A nil flag means "use the
// plan default".
type StageFlags struct {
	FullBook   *bool `json:"generate_full_book,omitempty"`
	CoverImage *bool `json:"generate_cover_image,omitempty"`
	Audiobook  *bool `json:"generate_audiobook,omitempty"`
}

// GenerationRequest is the immutable input of a job.
type GenerationRequest struct {
	Genre          string          `json:"genre"`
	Subgenre       string          `json:"subgenre"`
	TargetAudience string          `json:"target_audience"`
	TitleIdea      string          `json:"title_idea,omitempty"`
	PageCount      int             `json:"page_count"`
	Tone           string          `json:"tone"`
	Keywords       []string        `json:"keywords,omitempty"`
	Language       string          `json:"language"`
	AIModel        AIModel         `json:"ai_model"`
	Plan           PlanTier        `json:"plan"`
	Stages         StageSet        `json:"stages"`
	RecipientEmail string          `json:"recipient_email,omitempty"`
	AuthorName     string          `json:"author_name"`
	VoiceID        string          `json:"voice_id,omitempty"`
	Opportunity    json.RawMessage `json:"opportunity,omitempty"`
}

// Normalize trims input and fills defaults for omitted optional fields.
func (r *GenerationRequest) Normalize() {
	r.Genre = strings.TrimSpace(r.Genre)
	r.Subgenre = strings.TrimSpace(r.Subgenre)
	r.TargetAudience = strings.TrimSpace(r.TargetAudience)
	r.TitleIdea = strings.TrimSpace(r.TitleIdea)
	r.Tone = strings.TrimSpace(r.Tone)
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
	r.AIModel = AIModel(strings.ToLower(strings.TrimSpace(string(r.AIModel))))
	r.RecipientEmail = strings.TrimSpace(r.RecipientEmail)
	r.AuthorName = strings.TrimSpace(r.AuthorName)
	r.VoiceID = strings.TrimSpace(r.VoiceID)

	if r.PageCount == 0 {
		r.PageCount = DefaultPageCount
	}
	if r.Tone == "" {
		r.Tone = DefaultTone
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.AIModel == "" {
		r.AIModel = AIModelClaude
	}
	if r.AuthorName == "" {
		r.AuthorName = DefaultAuthorName
	}

	keywords := r.Keywords[:0:0]
	for _, kw := range r.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	r.Keywords = keywords
}

// Validate checks required fields. It expects Normalize to have run.
func (r GenerationRequest) Validate() error {
	switch {
	case r.Genre == "":
		return &ValidationError{Field: "genre", Reason: "is required"}
	case r.Subgenre == "":
		return &ValidationError{Field: "subgenre", Reason: "is required"}
	case r.TargetAudience == "":
		return &ValidationError{Field: "target_audience", Reason: "is required"}
	case r.PageCount < minPageCount || r.PageCount > maxPageCount:
		return &ValidationError{Field: "page_count", Reason: fmt.Sprintf("must be between %d and %d", minPageCount, maxPageCount)}
	case len(r.Keywords) > maxKeywords:
		return &ValidationError{Field: "keywords", Reason: fmt.Sprintf("at most %d keywords allowed", maxKeywords)}
	}
	if r.AIModel != AIModelClaude && r.AIModel != AIModelGPT5 {
		return &ValidationError{Field: "ai_model", Reason: fmt.Sprintf("unsupported model %q", r.AIModel)}
	}
	if r.RecipientEmail != "" {
		if _, err := mail.ParseAddress(r.RecipientEmail); err != nil {
			return &ValidationError{Field: "recipient_email", Reason: "is not a valid address"}
		}
	}
	if len(r.Opportunity) > 0 && !json.Valid(r.Opportunity) {
		return &ValidationError{Field: "opportunity", Reason: "must be a JSON value"}
	}
	return nil
}

// Clone returns a deep copy of r.
func (r GenerationRequest) Clone() GenerationRequest {
	r.Keywords = slices.Clone(r.Keywords)
	r.Opportunity = slices.Clone(r.Opportunity)
	return r
}

// ChapterPlan is one outline entry.
type ChapterPlan struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Protagonist describes the lead character of fiction titles.
type Protagonist struct {
	Name         string `json:"name"`
	Age          string `json:"age,omitempty"`
	CoreConflict string `json:"core_conflict,omitempty"`
}

// Outline is the commercially optimized plan of the book.
type Outline struct {
	Title                string        `json:"title"`
	Subtitle             string        `json:"subtitle,omitempty"`
	Tagline              string        `json:"tagline"`
	BackCoverDescription string        `json:"back_cover_description"`
	Chapters             []ChapterPlan `json:"chapters"`
	Protagonist          *Protagonist  `json:"protagonist,omitempty"`
	Themes               []string      `json:"themes"`
	AmazonCategories     []string      `json:"amazon_categories"`
	AmazonKeywords       []string      `json:"amazon_keywords"`
}

// Chapter is a drafted chapter.
type Chapter struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Content string `json:"content"`
}

// MarketBrief is the output of the market analysis stage.
type MarketBrief struct {
	Positioning      string   `json:"positioning"`
	ReaderPromise    string   `json:"reader_promise"`
	ComparableTitles []string `json:"comparable_titles"`
	Keywords         []string `json:"keywords"`
}

// Listing is Amazon KDP ready metadata.
type Listing struct {
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle,omitempty"`
	DescriptionHTML string   `json:"description_html"`
	Keywords        []string `json:"keywords"`
	Categories      []string `json:"categories"`
	PriceEbook      float64  `json:"price_ebook"`
	PricePaperback  float64  `json:"price_paperback"`
	AgeRange        string   `json:"age_range,omitempty"`
}

// AssetRef points at a stored artifact.
type AssetRef struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Media is generated binary content handed straight back to the caller.
type Media struct {
	Data     []byte
	MimeType string
}

// ExportLinks references the rendered manuscript files.
type ExportLinks struct {
	PDF  *AssetRef `json:"pdf,omitempty"`
	EPUB *AssetRef `json:"epub,omitempty"`
}

// BookResult is the payload of a completed job.
type BookResult struct {
	Outline          Outline      `json:"outline"`
	MarketBrief      MarketBrief  `json:"market_brief"`
	Chapter1Preview  string       `json:"chapter_1_preview"`
	Chapters         []Chapter    `json:"chapters"`
	AmazonListing    *Listing     `json:"amazon_listing"`
	CoverPrompt      string       `json:"cover_prompt"`
	Cover            *AssetRef    `json:"cover"`
	Audiobook        *AssetRef    `json:"audiobook"`
	Exports          *ExportLinks `json:"exports"`
	ModelUsed        string       `json:"model_used"`
	CreditsRemaining *int         `json:"credits_remaining,omitempty"`
	NotificationSent bool         `json:"notification_sent"`
	GenerationNotes  []string     `json:"generation_notes"`
}

// Clone returns a deep copy of r.
func (r BookResult) Clone() BookResult {
	r.Outline.Chapters = slices.Clone(r.Outline.Chapters)
	r.Outline.Themes = slices.Clone(r.Outline.Themes)
	r.Outline.AmazonCategories = slices.Clone(r.Outline.AmazonCategories)
	r.Outline.AmazonKeywords = slices.Clone(r.Outline.AmazonKeywords)
	if r.Outline.Protagonist != nil {
		p := *r.Outline.Protagonist
		r.Outline.Protagonist = &p
	}
	r.MarketBrief.ComparableTitles = slices.Clone(r.MarketBrief.ComparableTitles)
	r.MarketBrief.Keywords = slices.Clone(r.MarketBrief.Keywords)
	r.Chapters = slices.Clone(r.Chapters)
	if r.AmazonListing != nil {
		l := *r.AmazonListing
		l.Keywords = slices.Clone(l.Keywords)
		l.Categories = slices.Clone(l.Categories)
		r.AmazonListing = &l
	}
	r.Cover = cloneAsset(r.Cover)
	r.Audiobook = cloneAsset(r.Audiobook)
	if r.Exports != nil {
		r.Exports = &ExportLinks{PDF: cloneAsset(r.Exports.PDF), EPUB: cloneAsset(r.Exports.EPUB)}
	}
	if r.CreditsRemaining != nil {
		c := *r.CreditsRemaining
		r.CreditsRemaining = &c
	}
	r.GenerationNotes = slices.Clone(r.GenerationNotes)
	return r
}

func cloneAsset(a *AssetRef) *AssetRef {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// SubmitRequest is the wire shape of a generation submission: the request
// fields plus the optional stage flags.
type SubmitRequest struct {
	GenerationRequest
	StageFlags
}
