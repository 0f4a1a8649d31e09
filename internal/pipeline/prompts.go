package pipeline

import (
	"fmt"
	"strings"

	"bookforge/internal/domain"
)

var coverStyles = map[string]string{
	"romance":   "romantic couple, soft lighting, warm colors, elegant typography",
	"thriller":  "dark atmosphere, silhouette, urban background, suspenseful mood",
	"fantasy":   "magical landscape, vibrant colors, epic scale, mystical elements",
	"self-help": "clean minimalist design, bold typography, inspiring imagery",
	"children":  "bright colors, cute illustration style, playful characters",
	"mystery":   "dark moody atmosphere, shadows, vintage aesthetic",
}

const defaultCoverStyle = "professional book cover, high quality"

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}

func marketPrompt(req domain.GenerationRequest) string {
	var sb strings.Builder
	sb.WriteString("You are a book market strategist for Amazon KDP and self-publishing.\n\n")
	sb.WriteString("Position a new book for the following brief:\n")
	fmt.Fprintf(&sb, "- Genre: %s / %s\n", req.Genre, orDefault(req.Subgenre, "general"))
	fmt.Fprintf(&sb, "- Target audience: %s\n", req.TargetAudience)
	fmt.Fprintf(&sb, "- Title idea: %s\n", orDefault(req.TitleIdea, "none, propose one"))
	fmt.Fprintf(&sb, "- Target keywords: %s\n", orDefault(strings.Join(req.Keywords, ", "), "none specified"))
	fmt.Fprintf(&sb, "- Language: %s\n", req.Language)
	if len(req.Opportunity) > 0 {
		fmt.Fprintf(&sb, "\nSelected market opportunity (JSON):\n%s\n", req.Opportunity)
	}
	sb.WriteString(`
Return ONLY a JSON object:
{
  "positioning": "One paragraph on where this book sits in its category and why readers pick it",
  "reader_promise": "One sentence describing what the reader gets",
  "comparable_titles": ["3-5 recent comparable bestsellers"],
  "keywords": ["7 Amazon search keywords"]
}`)
	return sb.String()
}

func outlinePrompt(req domain.GenerationRequest, brief domain.MarketBrief) string {
	var sb strings.Builder
	sb.WriteString("You are a bestselling author and Amazon KDP expert.\n\n")
	sb.WriteString("Create a complete, commercially optimized book outline for:\n")
	fmt.Fprintf(&sb, "- Genre: %s / %s\n", req.Genre, orDefault(req.Subgenre, "general"))
	fmt.Fprintf(&sb, "- Target audience: %s\n", req.TargetAudience)
	fmt.Fprintf(&sb, "- Length: ~%d pages\n", req.PageCount)
	fmt.Fprintf(&sb, "- Tone: %s\n", req.Tone)
	fmt.Fprintf(&sb, "- Target keywords: %s\n", orDefault(strings.Join(req.Keywords, ", "), "none specified"))
	fmt.Fprintf(&sb, "- Language: %s\n", req.Language)
	if req.TitleIdea != "" {
		fmt.Fprintf(&sb, "- Working title: %s\n", req.TitleIdea)
	}
	if brief.Positioning != "" {
		fmt.Fprintf(&sb, "- Market positioning: %s\n", brief.Positioning)
	}
	if brief.ReaderPromise != "" {
		fmt.Fprintf(&sb, "- Reader promise: %s\n", brief.ReaderPromise)
	}
	sb.WriteString(`
The outline must be designed to SELL on Amazon. Study what makes bestsellers work.
The "chapters" array must include enough entries for the target length:
- Fiction: usually 20-25 chapters
- Non-fiction: usually 10-15 chapters

Return JSON with this exact structure:
{
  "title": "Compelling, SEO-optimized title",
  "subtitle": "Optional subtitle that adds value and keywords",
  "tagline": "One powerful sentence that makes people want to read",
  "back_cover_description": "150-word compelling description that sells the book. Use emotional hooks, raise questions, end with a call-to-read.",
  "chapters": [
    {"number": 1, "title": "Chapter title", "summary": "What happens/is taught in 2-3 sentences"}
  ],
  "protagonist": {"name": "Character name", "age": "30s", "core_conflict": "What they want vs what they fear"},
  "themes": ["Theme 1", "Theme 2"],
  "amazon_categories": ["Kindle Store > Kindle eBooks > Romance > Paranormal"],
  "amazon_keywords": ["7 specific keywords for Amazon search"]
}`)
	return sb.String()
}

func firstChapterPrompt(req domain.GenerationRequest, outline domain.Outline) string {
	ch := domain.ChapterPlan{Number: 1, Title: "Chapter 1"}
	if len(outline.Chapters) > 0 {
		ch = outline.Chapters[0]
	}
	return fmt.Sprintf(`You are a bestselling %s author. Write Chapter 1 of this book.

Book: %q
Tagline: %s
Chapter 1: %q
What should happen: %s
Tone: %s
Target reader: %s

CRITICAL RULES:
1. Hook the reader in the FIRST SENTENCE
2. Introduce conflict/tension quickly
3. Show character voice through action and dialogue
4. End with a hook into Chapter 2
5. Avoid generic AI phrasing
6. Target length: 2,500-3,500 words

Write the full chapter now:`, req.Genre, outline.Title, outline.Tagline, ch.Title, ch.Summary, req.Tone, req.TargetAudience)
}

func nextChapterPrompt(req domain.GenerationRequest, outline domain.Outline, ch domain.ChapterPlan, previousExcerpt string) string {
	return fmt.Sprintf(`Write a complete chapter for this book.

Book title: %s
Genre: %s / %s
Tone: %s
Target audience: %s

Current chapter number: %d
Current chapter title: %s
Current chapter objective: %s

Previous chapter excerpt (for continuity):
%s

Rules:
1. Keep continuity with prior chapter events and tone.
2. Advance plot or knowledge clearly.
3. End with forward momentum.
4. Write 900-1,400 words.
5. Natural prose only, no meta comments.

Write the full chapter content now:`, outline.Title, req.Genre, orDefault(req.Subgenre, "general"), req.Tone, req.TargetAudience,
		ch.Number, ch.Title, ch.Summary, previousExcerpt)
}

func listingPrompt(req domain.GenerationRequest, outline domain.Outline) string {
	return fmt.Sprintf(`Create a complete Amazon KDP listing for:
Title: %s
Genre: %s
Description: %s
Keywords: %s

Return JSON:
{
  "title": "Exact title for KDP",
  "subtitle": "Subtitle if applicable",
  "description_html": "Full description with <b>bold</b> and <br> tags for Amazon formatting, 400-600 words",
  "keywords": ["keyword1", "keyword7"],
  "categories": ["Primary category path", "Secondary category path"],
  "price_ebook": 3.99,
  "price_paperback": 14.99,
  "age_range": "18+"
}`, outline.Title, req.Genre, outline.BackCoverDescription, strings.Join(outline.AmazonKeywords, ", "))
}

// coverPrompt builds the image prompt. It is deterministic so every plan gets
// a prompt even when no image is rendered.
func coverPrompt(req domain.GenerationRequest, outline domain.Outline) string {
	style, ok := coverStyles[strings.ToLower(strings.TrimSpace(req.Genre))]
	if !ok {
		style = defaultCoverStyle
	}
	return fmt.Sprintf(`Create a professional 6:9 book cover for %q.
Style reference: %s
Mood hook: %s
Audience: %s
Requirements: Bestseller-ready composition, title-safe spacing at top, author-safe spacing at bottom,
high contrast focal point, print-quality detail.`, outline.Title, style, outline.Tagline, req.TargetAudience)
}

// audiobookScript joins the title, tagline and drafted text, capped at limit
// runes. The second result reports truncation.
func audiobookScript(result domain.BookResult, limit int) (string, bool) {
	var body []string
	for _, ch := range result.Chapters {
		if strings.TrimSpace(ch.Content) != "" {
			body = append(body, ch.Content)
		}
	}
	if len(body) == 0 {
		body = append(body, result.Chapter1Preview)
	}
	script := fmt.Sprintf("%s. %s\n\n%s", result.Outline.Title, result.Outline.Tagline, strings.Join(body, "\n\n"))
	runes := []rune(script)
	if len(runes) <= limit {
		return script, false
	}
	return string(runes[:limit]), true
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
