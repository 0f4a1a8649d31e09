package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"bookforge/internal/adapter/memory"
	"bookforge/internal/domain"
	"bookforge/internal/jobstore"
	"bookforge/internal/providers/genai"
	"bookforge/internal/providers/notify"
	"bookforge/internal/providers/tts"
	"bookforge/internal/storage"
)

const outlineJSON = "```json\n" + `{
  "title": "The Tea Dragon Inn",
  "tagline": "Every cup hides a secret.",
  "back_cover_description": "A retired knight opens an inn.",
  "chapters": [
    {"number": 1, "title": "The Kettle", "summary": "Mira buys the inn."},
    {"number": 2, "title": "The Guest", "summary": "A dragon checks in."},
    {"number": 3, "title": "", "summary": "The festival."},
  ],
  "themes": ["found family"],
  "amazon_keywords": []
}` + "\n```"

type fakeText struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]error
	panicOn  string
	cancelOn string
	cancel   context.CancelFunc
}

func promptKind(prompt string) string {
	switch {
	case strings.Contains(prompt, "book market strategist"):
		return "market"
	case strings.Contains(prompt, "commercially optimized book outline"):
		return "outline"
	case strings.Contains(prompt, "Write Chapter 1 of this book"):
		return "chapter1"
	case strings.Contains(prompt, "Write a complete chapter for this book"):
		return "chapter"
	case strings.Contains(prompt, "Amazon KDP listing"):
		return "listing"
	}
	return "unknown"
}

func (f *fakeText) Generate(ctx context.Context, _ domain.AIModel, prompt string, _ int) (string, error) {
	kind := promptKind(prompt)
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	n := len(f.calls)
	f.mu.Unlock()

	if err := f.fail[kind]; err != nil {
		return "", err
	}
	if f.panicOn == kind {
		panic("boom")
	}
	if f.cancelOn == kind {
		f.cancel()
		return "", ctx.Err()
	}
	switch kind {
	case "market":
		return `{"positioning": "Cozy fantasy for tea lovers", "reader_promise": "Warmth", "keywords": ["cozy", " Cozy ", "tea"]}`, nil
	case "outline":
		return outlineJSON, nil
	case "chapter1":
		return "The kettle sang before dawn.", nil
	case "chapter":
		return fmt.Sprintf("More tea, call %d.", n), nil
	case "listing":
		return `{"title": "", "description_html": "<b>Tea</b>", "keywords": ["tea", "Tea"], "price_ebook": 3.99}`, nil
	}
	return "", errors.New("unexpected prompt")
}

func (f *fakeText) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeCovers struct{ err error }

func (f fakeCovers) GenerateCover(context.Context, string) (*genai.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &genai.Image{Data: []byte("png"), MimeType: "image/png"}, nil
}

type fakeNarrator struct{ scripts []string }

func (f *fakeNarrator) Synthesize(_ context.Context, text, _ string) (*tts.Audio, error) {
	f.scripts = append(f.scripts, text)
	return &tts.Audio{Data: []byte("mp3"), MimeType: "audio/mpeg"}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.BookReady
	err  error
}

func (f *fakeNotifier) SendBookReady(_ context.Context, msg notify.BookReady) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// progressLog records every accepted progress write.
type progressLog struct {
	*jobstore.Store
	mu     sync.Mutex
	values []int
	steps  []string
}

func (p *progressLog) UpdateProgress(ctx context.Context, jobID string, status domain.JobStatus, progress int, step string) (*domain.Job, error) {
	job, err := p.Store.UpdateProgress(ctx, jobID, status, progress, step)
	if err == nil {
		p.mu.Lock()
		p.values = append(p.values, progress)
		p.steps = append(p.steps, step)
		p.mu.Unlock()
	}
	return job, err
}

type harness struct {
	store    *progressLog
	text     *fakeText
	narrator *fakeNarrator
	notifier *fakeNotifier
	accounts *memory.Accounts
	runner   *Runner
}

func newHarness(t *testing.T, covers CoverRenderer, policies Policies) *harness {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	h := &harness{
		store:    &progressLog{Store: jobstore.New(memory.NewJobRepository(), zerolog.Nop())},
		text:     &fakeText{fail: map[string]error{}},
		narrator: &fakeNarrator{},
		notifier: &fakeNotifier{},
		accounts: memory.NewAccounts(domain.Account{ID: "owner-1", Plan: domain.PlanEnterprise, CreditsRemaining: 5}),
	}
	h.runner, err = New(Config{
		Jobs:      h.store,
		Text:      h.text,
		Covers:    covers,
		Narrator:  h.narrator,
		Artifacts: files,
		Credits:   h.accounts,
		Notifier:  h.notifier,
		Policies:  policies,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func enterpriseRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		Genre:          "fantasy",
		Subgenre:       "cozy fantasy",
		TargetAudience: "adults",
		Plan:           domain.PlanEnterprise,
		Stages:         domain.StageSet{FullBook: true, CoverImage: true, Audiobook: true},
		RecipientEmail: "reader@example.com",
	}
}

func (h *harness) submit(t *testing.T, req domain.GenerationRequest) string {
	t.Helper()
	job, err := h.store.CreateJob(context.Background(), "owner-1", req)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job.ID
}

func (h *harness) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), "owner-1", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

func (h *harness) balance(t *testing.T) int {
	t.Helper()
	b, err := h.accounts.Balance(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func TestExecuteRunsEveryStageForEnterprise(t *testing.T) {
	h := newHarness(t, fakeCovers{}, nil)
	id := h.submit(t, enterpriseRequest())

	if err := h.runner.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	job := h.job(t, id)
	if job.Status != domain.JobStatusCompleted || job.Progress != 100 || job.Result == nil {
		t.Fatalf("job = %s/%d result=%v", job.Status, job.Progress, job.Result != nil)
	}
	res := job.Result
	if got := strings.Join(h.text.kinds(), ","); got != "market,outline,chapter1,chapter,chapter,listing" {
		t.Fatalf("text calls = %s", got)
	}
	if len(res.Chapters) != 3 || res.Chapters[2].Title != "Chapter 3" {
		t.Fatalf("chapters = %+v", res.Chapters)
	}
	if res.AmazonListing == nil || res.AmazonListing.Title != "The Tea Dragon Inn" || len(res.AmazonListing.Keywords) != 1 {
		t.Fatalf("listing = %+v", res.AmazonListing)
	}
	if len(res.Outline.AmazonKeywords) != 2 {
		t.Fatalf("outline keywords should fall back to the market brief: %v", res.Outline.AmazonKeywords)
	}
	if res.Cover == nil || res.Cover.Key != "books/"+id+"/cover.png" {
		t.Fatalf("cover = %+v", res.Cover)
	}
	if res.Audiobook == nil || res.Exports == nil || res.Exports.PDF == nil || res.Exports.EPUB == nil {
		t.Fatalf("artifacts missing: audio=%v exports=%+v", res.Audiobook, res.Exports)
	}
	if !strings.HasSuffix(res.Exports.EPUB.URL, "/the-tea-dragon-inn.epub") {
		t.Fatalf("epub url = %s", res.Exports.EPUB.URL)
	}
	if len(res.GenerationNotes) != 0 {
		t.Fatalf("notes = %v", res.GenerationNotes)
	}
	if res.ModelUsed != "Claude Opus 4.6" {
		t.Fatalf("model = %q", res.ModelUsed)
	}
	if len(h.narrator.scripts) != 1 || !strings.HasPrefix(h.narrator.scripts[0], "The Tea Dragon Inn. Every cup hides a secret.\n\n") {
		t.Fatalf("audiobook script = %q", h.narrator.scripts)
	}
	if h.balance(t) != 4 {
		t.Fatalf("balance = %d, want 4", h.balance(t))
	}
	if len(h.notifier.sent) != 1 || !h.notifier.sent[0].Cover || !h.notifier.sent[0].Audiobook {
		t.Fatalf("notifications = %+v", h.notifier.sent)
	}
}

func TestExecuteProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, fakeCovers{}, nil)
	id := h.submit(t, enterpriseRequest())
	if err := h.runner.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	values := h.store.values
	if len(values) == 0 {
		t.Fatal("no progress recorded")
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("progress regressed: %v", values)
		}
	}
	if last := values[len(values)-1]; last != domain.ProgressCeiling {
		t.Fatalf("last progress = %d, want %d", last, domain.ProgressCeiling)
	}
	if last := h.store.steps[len(h.store.steps)-1]; last != stepFinalizing {
		t.Fatalf("last step = %q", last)
	}
	var chapterSteps int
	for _, step := range h.store.steps {
		if strings.HasPrefix(step, "Writing chapter ") && strings.Contains(step, " of 3") {
			chapterSteps++
		}
	}
	if chapterSteps != 2 {
		t.Fatalf("chapter steps = %d, want 2 in %v", chapterSteps, h.store.steps)
	}
}

func TestExecuteAbortsOnMandatoryStageFailure(t *testing.T) {
	h := newHarness(t, fakeCovers{}, nil)
	h.text.fail["outline"] = fmt.Errorf("%w: anthropic status 529", domain.ErrProviderFailure)
	id := h.submit(t, enterpriseRequest())

	err := h.runner.Execute(context.Background(), id)
	var failure *domain.StageFailure
	if !errors.As(err, &failure) || failure.Stage != string(StageOutline) {
		t.Fatalf("Execute error = %v, want outline StageFailure", err)
	}
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("cause lost: %v", err)
	}

	job := h.job(t, id)
	if job.Status != domain.JobStatusFailed || job.Result != nil {
		t.Fatalf("job = %s result=%v", job.Status, job.Result)
	}
	if job.Error != "Outline generation failed" {
		t.Fatalf("stored error leaks provider detail: %q", job.Error)
	}
	if got := h.text.kinds(); len(got) != 2 {
		t.Fatalf("stages after the failure ran: %v", got)
	}
	if h.balance(t) != 5 || len(h.notifier.sent) != 0 {
		t.Fatalf("side effects on failure: balance=%d mails=%d", h.balance(t), len(h.notifier.sent))
	}
}

func TestExecuteDegradesCoverFailure(t *testing.T) {
	h := newHarness(t, fakeCovers{err: errors.New("quota exceeded")}, nil)
	id := h.submit(t, enterpriseRequest())

	if err := h.runner.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := h.job(t, id).Result
	if res.Cover != nil {
		t.Fatalf("cover should be dropped: %+v", res.Cover)
	}
	if !strings.Contains(res.CoverPrompt, "magical landscape") {
		t.Fatalf("cover prompt = %q", res.CoverPrompt)
	}
	if len(res.GenerationNotes) != 1 || res.GenerationNotes[0] != "Cover generation skipped: quota exceeded" {
		t.Fatalf("notes = %v", res.GenerationNotes)
	}
	if h.balance(t) != 4 {
		t.Fatalf("degraded jobs are still charged, balance = %d", h.balance(t))
	}
}

func TestManuscriptDegradeKeepsFirstChapter(t *testing.T) {
	policies, err := ParsePolicies("manuscript=degrade")
	if err != nil {
		t.Fatalf("ParsePolicies: %v", err)
	}
	h := newHarness(t, fakeCovers{}, policies)
	h.text.fail["chapter"] = errors.New("timeout")
	id := h.submit(t, enterpriseRequest())

	if err := h.runner.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := h.job(t, id).Result
	if len(res.Chapters) != 1 || res.Chapters[0].Content != "The kettle sang before dawn." {
		t.Fatalf("chapters = %+v", res.Chapters)
	}
	if len(res.GenerationNotes) != 1 || !strings.HasPrefix(res.GenerationNotes[0], "Manuscript generation skipped: chapter 2: timeout") {
		t.Fatalf("notes = %v", res.GenerationNotes)
	}
}

func TestStagePanicIsRecovered(t *testing.T) {
	policies, err := ParsePolicies("listing=abort")
	if err != nil {
		t.Fatalf("ParsePolicies: %v", err)
	}
	h := newHarness(t, fakeCovers{}, policies)
	h.text.panicOn = "listing"
	id := h.submit(t, enterpriseRequest())

	if err := h.runner.Execute(context.Background(), id); err == nil {
		t.Fatal("Execute should report the failure")
	}
	job := h.job(t, id)
	if job.Status != domain.JobStatusFailed || job.Error != "Amazon listing failed" {
		t.Fatalf("job = %s %q", job.Status, job.Error)
	}
}

func TestExecuteClaimsOnce(t *testing.T) {
	h := newHarness(t, fakeCovers{}, nil)
	id := h.submit(t, enterpriseRequest())
	if err := h.runner.Execute(context.Background(), id); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	err := h.runner.Execute(context.Background(), id)
	var transition *domain.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("second Execute error = %v, want InvalidTransitionError", err)
	}
	if h.balance(t) != 4 || len(h.notifier.sent) != 1 {
		t.Fatalf("side effects repeated: balance=%d mails=%d", h.balance(t), len(h.notifier.sent))
	}
}

func TestCancellationAbortsDegradableStage(t *testing.T) {
	h := newHarness(t, fakeCovers{}, nil)
	id := h.submit(t, enterpriseRequest())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.text.cancelOn = "listing"
	h.text.cancel = cancel

	if err := h.runner.Execute(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute error = %v, want context.Canceled", err)
	}
	job := h.job(t, id)
	if job.Status != domain.JobStatusFailed || job.Error != "Amazon listing failed" {
		t.Fatalf("job = %s %q", job.Status, job.Error)
	}
}

func TestRunInlineStarter(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.runner.artifacts = nil
	req := enterpriseRequest()
	req.Plan = domain.PlanStarter
	req.Stages = domain.StageSet{}
	req.RecipientEmail = ""

	res, err := h.runner.RunInline(context.Background(), "owner-1", req)
	if err != nil {
		t.Fatalf("RunInline: %v", err)
	}
	if len(res.Chapters) != 1 || res.Cover != nil || res.Audiobook != nil || res.Exports != nil {
		t.Fatalf("starter result carries extras: %+v", res)
	}
	if res.CoverPrompt == "" || res.AmazonListing == nil {
		t.Fatalf("cover prompt and listing are always produced: %+v", res)
	}
	if res.CreditsRemaining == nil || *res.CreditsRemaining != 4 {
		t.Fatalf("credits remaining = %v", res.CreditsRemaining)
	}
	if res.NotificationSent {
		t.Fatal("no recipient, no notification")
	}
	if len(h.store.values) != 0 {
		t.Fatalf("inline runs must not write job progress: %v", h.store.values)
	}
}

func TestRunInlineFailureDoesNotCharge(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.text.fail["chapter1"] = errors.New("overloaded")
	req := enterpriseRequest()
	req.Stages = domain.StageSet{}

	_, err := h.runner.RunInline(context.Background(), "owner-1", req)
	var failure *domain.StageFailure
	if !errors.As(err, &failure) || failure.Error() != "Chapter generation failed: overloaded" {
		t.Fatalf("RunInline error = %v", err)
	}
	if h.balance(t) != 5 {
		t.Fatalf("balance = %d, want 5", h.balance(t))
	}
}

func TestRunInlineValidatesRequest(t *testing.T) {
	h := newHarness(t, nil, nil)
	req := enterpriseRequest()
	req.Genre = " "
	_, err := h.runner.RunInline(context.Background(), "owner-1", req)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "genre" {
		t.Fatalf("RunInline error = %v", err)
	}
	if len(h.text.kinds()) != 0 {
		t.Fatal("invalid requests must not reach the model")
	}
}

func TestMissingProviderDegrades(t *testing.T) {
	h := newHarness(t, nil, nil)
	id := h.submit(t, enterpriseRequest())
	if err := h.runner.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	notes := h.job(t, id).Result.GenerationNotes
	if len(notes) != 1 || notes[0] != "Cover generation skipped: no image provider configured" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestStageProgress(t *testing.T) {
	t.Parallel()
	cases := []struct{ i, n, want int }{
		{1, 8, 12},
		{4, 8, 49},
		{8, 8, 99},
		{1, 1, 99},
		{1, 200, 1},
	}
	for _, tc := range cases {
		if got := stageProgress(tc.i, tc.n); got != tc.want {
			t.Errorf("stageProgress(%d, %d) = %d, want %d", tc.i, tc.n, got, tc.want)
		}
	}
}

func TestAudiobookScriptIsCapped(t *testing.T) {
	t.Parallel()
	res := domain.BookResult{
		Outline:         domain.Outline{Title: "T", Tagline: "Tag"},
		Chapter1Preview: strings.Repeat("é", tts.MaxChars),
	}
	script, truncated := audiobookScript(res, tts.MaxChars)
	if !truncated || len([]rune(script)) != tts.MaxChars {
		t.Fatalf("truncated=%v runes=%d", truncated, len([]rune(script)))
	}

	res.Chapter1Preview = "short"
	script, truncated = audiobookScript(res, tts.MaxChars)
	if truncated || script != "T. Tag\n\nshort" {
		t.Fatalf("script = %q truncated=%v", script, truncated)
	}
}

func TestCoverPromptStyles(t *testing.T) {
	t.Parallel()
	outline := domain.Outline{Title: "Night Train", Tagline: "No stops."}
	got := coverPrompt(domain.GenerationRequest{Genre: "Thriller", TargetAudience: "adults"}, outline)
	if !strings.Contains(got, `"Night Train"`) || !strings.Contains(got, "urban background") {
		t.Fatalf("thriller prompt = %q", got)
	}
	got = coverPrompt(domain.GenerationRequest{Genre: "poetry"}, outline)
	if !strings.Contains(got, "Style reference: "+defaultCoverStyle) {
		t.Fatalf("default prompt = %q", got)
	}
}

func TestFailureMessageIsCoarse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "stage failure",
			err: fmt.Errorf("run: %w", &domain.StageFailure{
				Stage: string(StageOutline), Label: "Outline generation",
				Err: errors.New(`provider failure: anthropic: Post "https://api.example": dial tcp: refused`),
			}),
			want: "Outline generation failed",
		},
		{name: "unlabelled stage", err: &domain.StageFailure{Stage: "listing", Err: errors.New("x")}, want: "listing failed"},
		{name: "progress write", err: errors.New("record progress: job 42 (running): progress may not decrease"), want: msgRunFailed},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := failureMessage(tc.err); got != tc.want {
				t.Fatalf("failureMessage = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRunInlineNotesFailedNotification(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.notifier.err = errors.New("resend: status 422")
	req := enterpriseRequest()
	req.Stages = domain.StageSet{}

	res, err := h.runner.RunInline(context.Background(), "owner-1", req)
	if err != nil {
		t.Fatalf("RunInline: %v", err)
	}
	if res.NotificationSent {
		t.Fatal("notification should not be reported as sent")
	}
	if len(res.GenerationNotes) != 1 || res.GenerationNotes[0] != "Notification skipped: resend: status 422" {
		t.Fatalf("notes = %v", res.GenerationNotes)
	}
	if h.balance(t) != 4 {
		t.Fatalf("a failed e-mail must not undo the charge, balance = %d", h.balance(t))
	}
}

func TestRunInlineReportsSentNotification(t *testing.T) {
	h := newHarness(t, nil, nil)
	req := enterpriseRequest()
	req.Stages = domain.StageSet{}

	res, err := h.runner.RunInline(context.Background(), "owner-1", req)
	if err != nil {
		t.Fatalf("RunInline: %v", err)
	}
	if !res.NotificationSent || len(res.GenerationNotes) != 0 || len(h.notifier.sent) != 1 {
		t.Fatalf("sent=%v notes=%v mails=%d", res.NotificationSent, res.GenerationNotes, len(h.notifier.sent))
	}
}
