// Package report renders engine results for terminal output.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
)

// minWrapWidth keeps markdown readable in narrow terminals.
const minWrapWidth = 24

var (
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// newTable returns the bordered table style shared by every report.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// Table renders rows under headers with the shared report style.
func Table(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return "(none)\n"
	}
	t := newTable(headers...)
	for _, row := range rows {
		t.Row(row...)
	}
	return t.Render() + "\n"
}

// Risk renders the gate recommendation, factor table, and mitigations.
func Risk(assessment domain.RiskAssessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf(
		"Launch readiness %d/100 · %s risk · %s",
		assessment.OverallScore,
		assessment.RiskLevel,
		strings.ToUpper(string(assessment.GateRecommendation)),
	)))

	t := newTable("Factor", "Weight", "Score", "Status", "Detail")
	for _, factor := range assessment.Factors {
		t.Row(
			factor.Name,
			strconv.Itoa(factor.Weight)+"%",
			strconv.Itoa(factor.Score),
			factorStatus(factor.Status),
			factor.Detail,
		)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	if len(assessment.MitigationSuggestions) > 0 {
		b.WriteString("Mitigations:\n")
		for _, suggestion := range assessment.MitigationSuggestions {
			fmt.Fprintf(&b, "  - %s\n", suggestion)
		}
	}
	return b.String()
}

// factorStatus colours one factor status.
func factorStatus(status domain.RiskFactorStatus) string {
	switch status {
	case domain.FactorPass:
		return passStyle.Render(string(status))
	case domain.FactorWarn:
		return warnStyle.Render(string(status))
	case domain.FactorFail:
		return failStyle.Render(string(status))
	default:
		return string(status)
	}
}

// DriftBoard renders completed and projected drift events plus operational health.
func DriftBoard(board app.DriftBoard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf(
		"Operational health %.0f · %d/%d phases complete · avg drift %.1fd",
		board.Health.Score,
		board.Health.CompletedPhases,
		board.Health.TotalPhases,
		board.Health.AverageDrift,
	)))
	if len(board.Events) == 0 {
		b.WriteString("No drift recorded yet.\n")
		return b.String()
	}

	t := newTable("Phase", "Planned", "Actual", "Drift", "Type", "Status")
	for _, event := range board.Events {
		status := string(event.Status)
		if event.Projected {
			status += " (projected)"
		}
		t.Row(
			event.PhaseName,
			strconv.Itoa(event.PlannedDuration)+"d",
			strconv.Itoa(event.ActualDuration)+"d",
			formatDrift(event.DriftDays),
			driftType(event.DriftType),
			status,
		)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// formatDrift renders signed drift days.
func formatDrift(days int) string {
	if days > 0 {
		return fmt.Sprintf("+%dd", days)
	}
	return fmt.Sprintf("%dd", days)
}

func driftType(kind domain.DriftType) string {
	switch kind {
	case domain.DriftPositive:
		return passStyle.Render(string(kind))
	case domain.DriftNegative:
		return failStyle.Render(string(kind))
	default:
		return string(kind)
	}
}

// Insights renders the per-event correlation table.
func Insights(insights []domain.CorrelationInsight) string {
	if len(insights) == 0 {
		return "No correlations found.\n"
	}
	t := newTable("Date", "Event", "Drift", "Impact", "Strength", "Confidence", "Source")
	for _, insight := range insights {
		t.Row(
			insight.Event.Date.Format("2006-01-02"),
			insight.Event.Description,
			formatDrift(insight.Event.DriftDays),
			string(insight.PerformanceImpact),
			string(insight.CorrelationStrength),
			strconv.Itoa(insight.Confidence),
			string(insight.Source),
		)
	}
	return t.Render() + "\n"
}

// CorrelationMarkdown builds the markdown summary of one correlation run.
func CorrelationMarkdown(report app.CorrelationReport) string {
	var b strings.Builder
	summary := report.Summary
	b.WriteString("# Correlation summary\n\n")
	fmt.Fprintf(&b, "- **Insights:** %d\n", summary.TotalInsights)
	fmt.Fprintf(&b, "- **Positive impacts:** %d\n", summary.PositiveImpacts)
	fmt.Fprintf(&b, "- **Negative impacts:** %d\n", summary.NegativeImpacts)
	fmt.Fprintf(&b, "- **Strong correlations:** %d\n", summary.StrongCorrelations)

	if key := summary.KeyInsight; key != nil {
		b.WriteString("\n## Key insight\n\n")
		fmt.Fprintf(&b, "_%s_ on %s (%s, %d%% confidence)\n\n",
			key.Event.Description,
			key.Event.Date.Format("2006-01-02"),
			key.CorrelationStrength,
			key.Confidence,
		)
		if key.Analysis != "" {
			fmt.Fprintf(&b, "%s\n\n", key.Analysis)
		}
		if key.ActionableInsight != "" {
			fmt.Fprintf(&b, "> %s\n\n", key.ActionableInsight)
		}
		if len(key.MetricChanges) > 0 {
			b.WriteString("| Metric | Before | After | Change |\n|---|---|---|---|\n")
			for _, change := range key.MetricChanges {
				fmt.Fprintf(&b, "| %s | %.2f | %.2f | %+.2f%% |\n", change.Metric, change.Before, change.After, change.ChangePct)
			}
		}
	}
	return b.String()
}

// RenderMarkdown renders markdown with glamour, falling back to the raw text on failure.
func RenderMarkdown(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	if width < minWrapWidth {
		width = minWrapWidth
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}
