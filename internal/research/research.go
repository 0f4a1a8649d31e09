// Package research asks the language model for ranked book market
// opportunities. A selected Opportunity travels with a generation request
// as an opaque JSON bag.
package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/providers/llm"
)

const (
	analyzeMaxTokens  = 4000
	trendingMaxTokens = 800
	opportunityCount  = 3
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, model domain.AIModel, prompt string, maxTokens int) (string, error)
}

type Request struct {
	Topic     string `json:"topic,omitempty"`
	TargetAge string `json:"target_age,omitempty"`
	Language  string `json:"language,omitempty"`
}

type Opportunity struct {
	Genre                   string   `json:"genre"`
	Subgenre                string   `json:"subgenre"`
	DemandScore             int      `json:"demand_score"`
	CompetitionLevel        string   `json:"competition_level"`
	TrendDirection          string   `json:"trend_direction"`
	SuggestedPriceEbook     float64  `json:"suggested_price_ebook"`
	SuggestedPricePaperback float64  `json:"suggested_price_paperback"`
	TargetAudience          string   `json:"target_audience"`
	Keywords                []string `json:"keywords"`
	WhyNow                  string   `json:"why_now"`
	EstimatedMonthlyRevenue string   `json:"estimated_monthly_revenue"`
}

type Result struct {
	Opportunities          []Opportunity `json:"opportunities"`
	MarketSummary          string        `json:"market_summary"`
	RecommendedOpportunity Opportunity   `json:"recommended_opportunity"`
	ResearchSources        []string      `json:"research_sources"`
}

type TrendingGenre struct {
	Genre  string `json:"genre"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Analyzer runs market research prompts.
type Analyzer struct {
	gen    Generator
	logger infra.Logger
	now    func() time.Time
}

func NewAnalyzer(gen Generator, logger infra.Logger) *Analyzer {
	return &Analyzer{gen: gen, logger: logger, now: time.Now}
}

// Analyze returns the top opportunities for req.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	req.TargetAge = strings.TrimSpace(req.TargetAge)
	req.Language = llm.Coalesce(strings.ToLower(req.Language), domain.DefaultLanguage)

	raw, err := a.gen.Generate(ctx, domain.AIModelClaude, a.analyzePrompt(req), analyzeMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("market analysis: %w", err)
	}
	result, err := llm.DecodeObject[Result](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse market analysis: %v", domain.ErrProviderFailure, err)
	}
	if len(result.Opportunities) == 0 {
		return nil, fmt.Errorf("%w: market analysis returned no opportunities", domain.ErrProviderFailure)
	}
	for i := range result.Opportunities {
		o := &result.Opportunities[i]
		o.DemandScore = clampScore(o.DemandScore)
		o.Keywords = llm.NormalizeKeywords(o.Keywords)
	}
	if strings.TrimSpace(result.RecommendedOpportunity.Genre) == "" {
		result.RecommendedOpportunity = best(result.Opportunities)
	}
	result.RecommendedOpportunity.DemandScore = clampScore(result.RecommendedOpportunity.DemandScore)

	a.logger.Info().
		Str("topic", req.Topic).
		Int("opportunities", len(result.Opportunities)).
		Str("recommended", result.RecommendedOpportunity.Genre).
		Msg("research: analysis complete")
	return &result, nil
}

// Trending lists genres currently gaining readers, best first.
func (a *Analyzer) Trending(ctx context.Context) ([]TrendingGenre, error) {
	prompt := fmt.Sprintf(`List the TOP 5 book genres trending RIGHT NOW (%s) on Amazon KDP and BookTok.
For each, give: name, trend score 0-100, one-sentence reason why.
Return as JSON: {"trending": [{"genre": "...", "score": 85, "reason": "..."}]}`, a.now().Format("January 2006"))

	raw, err := a.gen.Generate(ctx, domain.AIModelClaude, prompt, trendingMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("trending genres: %w", err)
	}
	payload, err := llm.DecodeObject[struct {
		Trending []TrendingGenre `json:"trending"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse trending genres: %v", domain.ErrProviderFailure, err)
	}
	out := payload.Trending[:0]
	for _, g := range payload.Trending {
		if strings.TrimSpace(g.Genre) == "" {
			continue
		}
		g.Score = clampScore(g.Score)
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (a *Analyzer) analyzePrompt(req Request) string {
	topic := "User has no specific topic in mind."
	if req.Topic != "" {
		topic = "User wants to write about: " + req.Topic
	}
	age := "Age: open/not specified"
	if req.TargetAge != "" {
		age = "Target age: " + req.TargetAge
	}
	var sb strings.Builder
	sb.WriteString("You are a professional book market analyst specializing in Amazon KDP and self-publishing.\n\nContext:\n")
	fmt.Fprintf(&sb, "- %s\n- %s\n- Book language: %s\n- Today's date: %s\n\n", topic, age, req.Language, a.now().Format("January 2006"))
	fmt.Fprintf(&sb, "Perform a deep market research analysis and identify the TOP %d book opportunities right now.\n\n", opportunityCount)
	sb.WriteString(`For each opportunity, analyze:
1. Current demand (search volume, reader interest)
2. Competition level (how many books exist, quality of competition)
3. Trend direction (is it rising, stable, or declining?)
4. Revenue potential (realistic monthly earnings for a new author)
5. WHY NOW specifically (what's happening culturally/in publishing that makes this a good moment)

Return ONLY a valid JSON object, no explanation. Use this structure:
{
  "opportunities": [
    {
      "genre": "Romance",
      "subgenre": "Paranormal Romance",
      "demand_score": 87,
      "competition_level": "medium",
      "trend_direction": "rising",
      "suggested_price_ebook": 3.99,
      "suggested_price_paperback": 14.99,
      "target_audience": "Women 25-45, Kindle Unlimited subscribers",
      "keywords": ["paranormal romance", "vampire romance", "dark romance"],
      "why_now": "Concrete reason this is the right moment.",
      "estimated_monthly_revenue": "$800-2500"
    }
  ],
  "market_summary": "2-sentence market overview.",
  "recommended_opportunity": {same object as the best opportunity above},
  "research_sources": ["Amazon Bestsellers", "KDP data"]
}`)
	return sb.String()
}

func best(opps []Opportunity) Opportunity {
	top := opps[0]
	for _, o := range opps[1:] {
		if o.DemandScore > top.DemandScore {
			top = o
		}
	}
	return top
}

func clampScore(v int) int {
	return max(0, min(100, v))
}
