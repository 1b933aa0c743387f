package notify

import (
	"fmt"
	"strings"
	"time"

	"perpscan/internal/models"
)

const (
	colorAlert = 0x3498db
	colorError = 0xe74c3c

	footerText = "perpscan"
)

// Embed mirrors the Discord webhook embed structure.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// FormatMarketAlert renders both rankings as one embed. An empty ranking
// still gets its section with an explicit "none found" line so a quiet
// market is distinguishable from a dropped section.
func FormatMarketAlert(divergences []models.DivergenceResult, ratios []models.RatioResult, exchanges []string, baseExchange string, now time.Time) Embed {
	embed := Embed{
		Title:       "Perp Market Alert",
		Description: fmt.Sprintf("Cross-exchange analysis for %s (OI base: %s)", strings.Join(exchanges, ", "), baseExchange),
		Color:       colorAlert,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      &EmbedFooter{Text: footerText},
	}

	if len(divergences) > 0 {
		embed.Fields = append(embed.Fields, formatDivergenceField(divergences))
	} else {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:  "Funding Rate Divergence",
			Value: "*no significant divergence found*",
		})
	}

	if len(ratios) > 0 {
		embed.Fields = append(embed.Fields, formatRatioField(ratios))
	} else {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:  "Low OI/Volume Opportunities",
			Value: "*no low OI ratio opportunities found*",
		})
	}

	return embed
}

func formatDivergenceField(divergences []models.DivergenceResult) EmbedField {
	var b strings.Builder
	b.WriteString("```\n")
	b.WriteString("#  | pair       | A                | B                | diff\n")
	b.WriteString("---|------------|------------------|------------------|--------\n")
	for i, d := range divergences {
		fmt.Fprintf(&b, "%-2d | %-10s | %-8s %+.3f%% | %-8s %+.3f%% | %.3f%%\n",
			i+1, d.Symbol,
			truncate(d.ExchangeA, 8), d.FundingRateA*100,
			truncate(d.ExchangeB, 8), d.FundingRateB*100,
			d.FundingDiff*100)
	}
	b.WriteString("```")

	return EmbedField{
		Name:  "Funding Rate Divergence (top opportunities)",
		Value: b.String(),
	}
}

func formatRatioField(ratios []models.RatioResult) EmbedField {
	var b strings.Builder
	b.WriteString("```\n")
	b.WriteString("#  | pair       | volume 24h | open interest | OI/vol\n")
	b.WriteString("---|------------|------------|---------------|-------\n")
	for i, r := range ratios {
		fmt.Fprintf(&b, "%-2d | %-10s | %-10s | %-13s | %.2f\n",
			i+1, r.Symbol, formatUSD(r.Volume24h), formatUSD(r.OpenInterest), r.OIRatio)
	}
	b.WriteString("```")

	return EmbedField{
		Name:  "Low OI/Volume Opportunities (high volume, low OI)",
		Value: b.String(),
	}
}

// FormatError renders a pipeline failure as a red embed.
func FormatError(message string, now time.Time) Embed {
	return Embed{
		Title:       "Pipeline Error",
		Description: message,
		Color:       colorError,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      &EmbedFooter{Text: footerText},
	}
}

func formatUSD(amount float64) string {
	switch {
	case amount >= 1_000_000:
		return fmt.Sprintf("$%.1fM", amount/1_000_000)
	case amount >= 1_000:
		return fmt.Sprintf("$%.1fK", amount/1_000)
	default:
		return fmt.Sprintf("$%.2f", amount)
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
