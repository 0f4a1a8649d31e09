package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"bookforge/internal/domain"
)

const (
	pdfMargin   = 30.0
	bodyLeading = 6.5
)

// PDF lays out a title page followed by one section per chapter on A4.
func PDF(m Manuscript) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")

	doc.SetTitle(m.Title, true)
	doc.SetAuthor(m.Author, true)
	doc.SetSubject(coalesceText(m.Genre, "Book"), true)
	doc.SetCreator("BOOKFORGE", true)
	doc.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	doc.SetAutoPageBreak(true, pdfMargin)
	doc.SetFooterFunc(func() {
		if doc.PageNo() == 1 {
			return
		}
		doc.SetY(-15)
		doc.SetFont("Helvetica", "", 8)
		doc.SetTextColor(0x99, 0x99, 0xbb)
		doc.CellFormat(0, 10, fmt.Sprintf("%d", doc.PageNo()), "", 0, "C", false, 0, "")
	})

	titlePage(doc, tr, m)
	for _, ch := range m.Chapters {
		chapterPage(doc, tr, ch)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("export: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func titlePage(doc *fpdf.Fpdf, tr func(string) string, m Manuscript) {
	doc.AddPage()
	pageW, _ := doc.GetPageSize()
	doc.Ln(30)

	doc.SetFont("Helvetica", "B", 28)
	doc.SetTextColor(0x1a, 0x1a, 0x2e)
	doc.MultiCell(0, 12, tr(m.Title), "", "C", false)
	if m.Subtitle != "" {
		doc.SetFont("Helvetica", "", 14)
		doc.SetTextColor(0x44, 0x44, 0x66)
		doc.MultiCell(0, 8, tr(m.Subtitle), "", "C", false)
	}
	doc.Ln(10)
	rule(doc, pageW, 0.6)
	doc.Ln(6)
	if m.Genre != "" {
		doc.SetFont("Helvetica", "", 8)
		doc.SetTextColor(0xaa, 0xaa, 0xcc)
		doc.CellFormat(0, 6, tr(strings.ToUpper(m.Genre)), "", 1, "C", false, 0, "")
	}
	doc.SetFont("Helvetica", "I", 12)
	doc.SetTextColor(0x66, 0x66, 0x88)
	doc.CellFormat(0, 8, tr(m.Author), "", 1, "C", false, 0, "")

	if desc := paragraphs(m.BackCoverDescription); len(desc) > 0 {
		doc.Ln(24)
		rule(doc, pageW, 0.8)
		doc.Ln(8)
		doc.SetFont("Helvetica", "", 8)
		doc.SetTextColor(0xaa, 0xaa, 0xcc)
		doc.CellFormat(0, 6, "ABOUT THIS BOOK", "", 1, "C", false, 0, "")
		doc.SetFont("Helvetica", "I", 10)
		doc.SetTextColor(0x33, 0x33, 0x55)
		for _, p := range desc {
			doc.MultiCell(0, 5.5, tr(p), "", "J", false)
			doc.Ln(2)
		}
	}
}

func chapterPage(doc *fpdf.Fpdf, tr func(string) string, ch domain.Chapter) {
	doc.AddPage()
	doc.SetFont("Helvetica", "", 10)
	doc.SetTextColor(0x99, 0x99, 0xbb)
	doc.CellFormat(0, 6, fmt.Sprintf("CHAPTER %d", ch.Number), "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "B", 20)
	doc.SetTextColor(0x1a, 0x1a, 0x2e)
	doc.MultiCell(0, 9, tr(coalesceText(ch.Title, fmt.Sprintf("Chapter %d", ch.Number))), "", "L", false)
	doc.Ln(8)

	summaryOnly := strings.TrimSpace(ch.Content) == ""
	if summaryOnly {
		doc.SetFont("Helvetica", "I", 10)
		doc.SetTextColor(0x33, 0x33, 0x55)
	} else {
		doc.SetFont("Helvetica", "", 11)
		doc.SetTextColor(0x1c, 0x1c, 0x1c)
	}
	for _, p := range chapterBody(ch) {
		doc.MultiCell(0, bodyLeading, tr(p), "", "J", false)
		doc.Ln(3)
	}
}

func rule(doc *fpdf.Fpdf, pageW, fraction float64) {
	width := (pageW - 2*pdfMargin) * fraction
	x := (pageW - width) / 2
	y := doc.GetY()
	doc.SetDrawColor(0xcc, 0xcc, 0xee)
	doc.SetLineWidth(0.3)
	doc.Line(x, y, x+width, y)
}

func coalesceText(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
