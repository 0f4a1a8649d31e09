package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"bookforge/internal/domain"
	"bookforge/internal/poller"
	"bookforge/internal/research"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderResult summarizes a finished book as a two column table followed by
// the chapter list.
func renderResult(res *domain.BookResult) string {
	rows := [][]string{
		{"Title", res.Outline.Title},
		{"Tagline", res.Outline.Tagline},
		{"Model", res.ModelUsed},
		{"Chapters", strconv.Itoa(len(res.Chapters))},
	}
	if res.AmazonListing != nil {
		rows = append(rows, []string{"Ebook price", fmt.Sprintf("%.2f", res.AmazonListing.PriceEbook)})
	}
	if res.Cover != nil {
		rows = append(rows, []string{"Cover", res.Cover.URL})
	}
	if res.Audiobook != nil {
		rows = append(rows, []string{"Audiobook", res.Audiobook.URL})
	}
	if res.Exports != nil {
		if res.Exports.PDF != nil {
			rows = append(rows, []string{"PDF", res.Exports.PDF.URL})
		}
		if res.Exports.EPUB != nil {
			rows = append(rows, []string{"EPUB", res.Exports.EPUB.URL})
		}
	}
	if res.CreditsRemaining != nil {
		rows = append(rows, []string{"Credits left", strconv.Itoa(*res.CreditsRemaining)})
	}
	for _, note := range res.GenerationNotes {
		rows = append(rows, []string{"Note", note})
	}

	var sb strings.Builder
	sb.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))
	if len(res.Chapters) > 0 {
		chapters := make([][]string, 0, len(res.Chapters))
		for _, ch := range res.Chapters {
			chapters = append(chapters, []string{strconv.Itoa(ch.Number), ch.Title, strconv.Itoa(len(strings.Fields(ch.Content)))})
		}
		sb.WriteString("\n")
		sb.WriteString(renderTable([]string{"#", "Chapter", "Words"}, chapters, []columnAlignment{alignRight, alignLeft, alignRight}))
	}
	return sb.String()
}

func renderStatus(jobID string, st *poller.Status) string {
	rows := [][]string{
		{"Job", jobID},
		{"Status", string(st.Status)},
		{"Progress", fmt.Sprintf("%d%%", st.Progress)},
	}
	if st.Step != "" {
		rows = append(rows, []string{"Step", st.Step})
	}
	if st.Error != "" {
		rows = append(rows, []string{"Error", st.Error})
	}
	if st.CreditsRemaining != nil {
		rows = append(rows, []string{"Credits left", strconv.Itoa(*st.CreditsRemaining)})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func renderTrending(genres []research.TrendingGenre) string {
	rows := make([][]string, 0, len(genres))
	for _, g := range genres {
		rows = append(rows, []string{g.Genre, strconv.Itoa(g.Score), g.Reason})
	}
	return renderTable([]string{"Genre", "Score", "Why"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft})
}

func renderOpportunities(res *research.Result) string {
	rows := make([][]string, 0, len(res.Opportunities))
	for _, o := range res.Opportunities {
		rows = append(rows, []string{
			o.Genre + " / " + o.Subgenre,
			strconv.Itoa(o.DemandScore),
			o.CompetitionLevel,
			o.TrendDirection,
			o.EstimatedMonthlyRevenue,
		})
	}
	out := renderTable([]string{"Opportunity", "Demand", "Competition", "Trend", "Revenue/mo"}, rows,
		[]columnAlignment{alignLeft, alignRight})
	if res.MarketSummary != "" {
		out += "\n" + res.MarketSummary
	}
	return out
}
