package report

import (
	"strings"
	"testing"
	"time"

	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
)

func TestRiskRendersFactorsAndMitigations(t *testing.T) {
	out := Risk(domain.RiskAssessment{
		OverallScore:       58,
		RiskLevel:          domain.RiskHigh,
		GateRecommendation: domain.GateAdjust,
		Factors: []domain.RiskFactorResult{
			{Name: "Budget adequacy", Weight: 25, Score: 40, Status: domain.FactorFail, Detail: "budget 40% of benchmark"},
			{Name: "Timeline feasibility", Weight: 20, Score: 100, Status: domain.FactorPass, Detail: "45 days"},
		},
		MitigationSuggestions: []string{"Increase budget or narrow scope"},
	})

	for _, want := range []string{"58/100", "ADJUST", "Budget adequacy", "25%", "budget 40% of benchmark", "Timeline feasibility", "Mitigations:", "Increase budget"} {
		if !strings.Contains(out, want) {
			t.Fatalf("Risk() output missing %q:\n%s", want, out)
		}
	}
}

func TestDriftBoardRendersProjectedEvents(t *testing.T) {
	out := DriftBoard(app.DriftBoard{
		CampaignID: "c1",
		Events: []domain.DriftEvent{
			{PhaseName: "Creative", PlannedDuration: 5, ActualDuration: 8, DriftDays: 3, DriftType: domain.DriftNegative, Status: domain.DriftEventCompleted},
			{PhaseName: "Review", PlannedDuration: 4, ActualDuration: 2, DriftDays: -2, DriftType: domain.DriftPositive, Status: domain.DriftEventInProgress, Projected: true},
		},
		Health: domain.OperationalHealth{TotalPhases: 2, CompletedPhases: 1, Score: 35, AverageDrift: 2.5},
	})

	for _, want := range []string{"Operational health 35", "1/2 phases", "Creative", "+3d", "Review", "-2d", "(projected)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("DriftBoard() output missing %q:\n%s", want, out)
		}
	}

	empty := DriftBoard(app.DriftBoard{})
	if !strings.Contains(empty, "No drift recorded yet.") {
		t.Fatalf("unexpected empty board output %q", empty)
	}
}

func TestInsightsAndCorrelationMarkdown(t *testing.T) {
	key := domain.CorrelationInsight{
		Event: domain.ExecutionEvent{
			Type:        domain.EventDelay,
			Description: "Creative delayed",
			Date:        time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			DriftDays:   4,
		},
		MetricChanges:       []domain.MetricChange{{Metric: domain.MetricSales, Before: 100, After: 70, ChangePct: -30}},
		PerformanceImpact:   domain.ImpactNegative,
		CorrelationStrength: domain.StrengthStrong,
		Confidence:          40,
		Analysis:            "Sales fell after the delay.",
		ActionableInsight:   "Buffer creative approvals.",
		Source:              domain.SourceFallback,
	}

	table := Insights([]domain.CorrelationInsight{key})
	for _, want := range []string{"2026-03-09", "Creative delayed", "+4d", "negative", "strong", "fallback"} {
		if !strings.Contains(table, want) {
			t.Fatalf("Insights() output missing %q:\n%s", want, table)
		}
	}
	if got := Insights(nil); got != "No correlations found.\n" {
		t.Fatalf("Insights(nil) = %q", got)
	}

	md := CorrelationMarkdown(app.CorrelationReport{
		Insights: []domain.CorrelationInsight{key},
		Summary: domain.CorrelationSummary{
			TotalInsights:      1,
			NegativeImpacts:    1,
			StrongCorrelations: 1,
			KeyInsight:         &key,
		},
	})
	for _, want := range []string{"# Correlation summary", "**Insights:** 1", "## Key insight", "Buffer creative approvals.", "| sales | 100.00 | 70.00 | -30.00% |"} {
		if !strings.Contains(md, want) {
			t.Fatalf("CorrelationMarkdown() missing %q:\n%s", want, md)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	if got := RenderMarkdown("   ", 80); got != "" {
		t.Fatalf("RenderMarkdown(blank) = %q, want empty", got)
	}
	out := RenderMarkdown("# Heading\n\nSome **bold** text.", 10)
	if !strings.Contains(out, "Heading") || !strings.Contains(out, "bold") {
		t.Fatalf("RenderMarkdown() output missing content: %q", out)
	}
}

func TestTable(t *testing.T) {
	if got := Table([]string{"ID"}, nil); got != "(none)\n" {
		t.Fatalf("Table(empty) = %q", got)
	}
	out := Table([]string{"ID", "Name"}, [][]string{{"c1", "Spring Launch"}, {"c2", "Retain"}})
	for _, want := range []string{"ID", "Name", "c1", "Spring Launch", "Retain"} {
		if !strings.Contains(out, want) {
			t.Fatalf("Table() output missing %q:\n%s", want, out)
		}
	}
}
