// Package export renders a finished book as PDF and EPUB files.
package export

import (
	"fmt"
	"strings"

	"bookforge/internal/domain"
)

// Format is a downloadable file type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatEPUB Format = "epub"
)

// ParseFormat accepts "pdf" or "epub", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatEPUB:
		return f, nil
	}
	return "", &domain.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", s)}
}

// MimeType is the Content-Type of f.
func (f Format) MimeType() string {
	if f == FormatEPUB {
		return "application/epub+zip"
	}
	return "application/pdf"
}

// Manuscript is the printable view of a book.
type Manuscript struct {
	Title                string
	Subtitle             string
	Author               string
	Genre                string
	Language             string
	BackCoverDescription string
	Chapters             []domain.Chapter
}

// FromResult assembles a manuscript from a job's request and result. Chapters
// without drafted text fall back to their outline summary.
func FromResult(req domain.GenerationRequest, res domain.BookResult) Manuscript {
	m := Manuscript{
		Title:                strings.TrimSpace(res.Outline.Title),
		Subtitle:             strings.TrimSpace(res.Outline.Subtitle),
		Author:               req.AuthorName,
		Genre:                req.Genre,
		Language:             req.Language,
		BackCoverDescription: res.Outline.BackCoverDescription,
	}
	if m.Title == "" {
		m.Title = "Untitled"
	}
	if m.Author == "" {
		m.Author = domain.DefaultAuthorName
	}
	if m.Language == "" {
		m.Language = domain.DefaultLanguage
	}

	drafted := make(map[int]domain.Chapter, len(res.Chapters))
	for _, ch := range res.Chapters {
		drafted[ch.Number] = ch
	}
	if len(res.Outline.Chapters) == 0 {
		m.Chapters = append(m.Chapters, res.Chapters...)
	}
	for _, plan := range res.Outline.Chapters {
		ch := domain.Chapter{Number: plan.Number, Title: plan.Title, Summary: plan.Summary}
		if d, ok := drafted[plan.Number]; ok {
			ch.Content = d.Content
		}
		if ch.Content == "" && plan.Number == 1 {
			ch.Content = res.Chapter1Preview
		}
		m.Chapters = append(m.Chapters, ch)
	}
	if len(m.Chapters) == 0 && res.Chapter1Preview != "" {
		m.Chapters = []domain.Chapter{{Number: 1, Title: "Chapter 1", Content: res.Chapter1Preview}}
	}
	return m
}

// Render produces the file for format.
func Render(m Manuscript, format Format) ([]byte, error) {
	switch format {
	case FormatPDF:
		return PDF(m)
	case FormatEPUB:
		return EPUB(m)
	}
	return nil, fmt.Errorf("export: unsupported format %q", format)
}

// Filename is a download-friendly name for the manuscript.
func (m Manuscript) Filename(format Format) string {
	return slug(m.Title) + "." + string(format)
}

// AudioFilename names a standalone audiobook preview download.
func AudioFilename(title string) string {
	return slug(title) + "-audiobook-preview.mp3"
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func chapterBody(ch domain.Chapter) []string {
	if ps := paragraphs(ch.Content); len(ps) > 0 {
		return ps
	}
	if s := strings.TrimSpace(ch.Summary); s != "" {
		return []string{"[Summary] " + s}
	}
	return []string{"No content available."}
}

func slug(title string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(sb.String(), "-")
	if len(s) > 80 {
		s = strings.TrimRight(s[:80], "-")
	}
	if s == "" {
		return "bookforge-book"
	}
	return s
}
