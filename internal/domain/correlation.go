package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// ExecutionEventType classifies one entry of the correlation event stream.
type ExecutionEventType string

// ExecutionEventType values.
const (
	EventDelay           ExecutionEventType = "delay"
	EventEarlyCompletion ExecutionEventType = "early_completion"
	EventPhaseChange     ExecutionEventType = "phase_change"
	EventTaskCompletion  ExecutionEventType = "task_completion"
)

// CorrelationStrength is the coarse confidence that an event explains a metric shift.
type CorrelationStrength string

// CorrelationStrength values.
const (
	StrengthStrong   CorrelationStrength = "strong"
	StrengthModerate CorrelationStrength = "moderate"
	StrengthWeak     CorrelationStrength = "weak"
	StrengthNone     CorrelationStrength = "none"
)

// PerformanceImpact is the direction of an event's effect on performance.
type PerformanceImpact string

// PerformanceImpact values.
const (
	ImpactPositive PerformanceImpact = "positive"
	ImpactNegative PerformanceImpact = "negative"
	ImpactNeutral  PerformanceImpact = "neutral"
	ImpactUnknown  PerformanceImpact = "unknown"
)

// InsightSource records which reasoning implementation produced an insight.
type InsightSource string

// InsightSource values.
const (
	SourceReasoning InsightSource = "reasoning"
	SourceFallback  InsightSource = "fallback"
)

var strengthRank = map[CorrelationStrength]int{
	StrengthStrong:   3,
	StrengthModerate: 2,
	StrengthWeak:     1,
	StrengthNone:     0,
}

var validImpacts = []PerformanceImpact{ImpactPositive, ImpactNegative, ImpactNeutral, ImpactUnknown}

// CorrelationThresholds holds the tunable cut points of the correlation engine.
type CorrelationThresholds struct {
	SignificanceFloorPct float64
	StrongDriftDays      int
	StrongChangePct      float64
	ModerateDriftDays    int
	ModerateChangePct    float64
	WeakChangePct        float64
	FallbackConfidence   int
	TrendWindow          int
}

// DefaultCorrelationThresholds returns the empirically chosen defaults.
func DefaultCorrelationThresholds() CorrelationThresholds {
	return CorrelationThresholds{
		SignificanceFloorPct: 5,
		StrongDriftDays:      3,
		StrongChangePct:      20,
		ModerateDriftDays:    2,
		ModerateChangePct:    15,
		WeakChangePct:        10,
		FallbackConfidence:   40,
		TrendWindow:          4,
	}
}

// ExecutionEvent is one dated execution occurrence fed to correlation.
type ExecutionEvent struct {
	Type        ExecutionEventType `json:"type"`
	Description string             `json:"description"`
	Date        time.Time          `json:"date"`
	DriftDays   int                `json:"drift_days"`
	PhaseID     string             `json:"phase_id,omitempty"`
	WorkItemID  string             `json:"work_item_id,omitempty"`
}

// MetricChange is the before/after movement of one metric around an event.
type MetricChange struct {
	Metric    Metric  `json:"metric"`
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
	ChangePct float64 `json:"change_pct"`
}

// pctTolerance absorbs float noise so exact cut-point changes still qualify.
const pctTolerance = 1e-9

// rawPct returns the unrounded change. ChangePct is rounded for display only.
func (c MetricChange) rawPct() float64 {
	if c.Before > 0 && c.After > 0 {
		return (c.After - c.Before) / c.Before * 100
	}
	return c.ChangePct
}

// meetsCut reports whether magnitude reaches cut.
func meetsCut(magnitude, cut float64) bool {
	return magnitude >= cut-pctTolerance
}

// TrendPoint is one report of the trailing trend sent with a reasoning request.
type TrendPoint struct {
	WeekStarting time.Time `json:"week_starting"`
	Sales        float64   `json:"sales"`
	Engagement   float64   `json:"engagement"`
	Views        float64   `json:"views"`
	Revenue      float64   `json:"revenue"`
}

// CorrelationCandidate is an event that survived bracketing and strength classification.
type CorrelationCandidate struct {
	Event         ExecutionEvent
	MetricChanges []MetricChange
	Strength      CorrelationStrength
	Trend         []TrendPoint
}

// ReasoningRequest is the fixed request contract of the reasoning service.
type ReasoningRequest struct {
	CampaignID    string              `json:"campaign_id"`
	EventSummary  string              `json:"event_summary"`
	EventType     ExecutionEventType  `json:"event_type"`
	DriftDays     int                 `json:"drift_days"`
	MetricChanges []MetricChange      `json:"metric_changes"`
	Trend         []TrendPoint        `json:"trend"`
	Strength      CorrelationStrength `json:"computed_strength"`
}

// ReasoningResponse is the fixed response contract of the reasoning service.
type ReasoningResponse struct {
	PerformanceImpact   PerformanceImpact   `json:"performance_impact"`
	CorrelationStrength CorrelationStrength `json:"correlation_strength"`
	Analysis            string              `json:"ai_analysis"`
	Confidence          int                 `json:"confidence"`
	ActionableInsight   string              `json:"actionable_insight"`
}

// Validate checks the response shape.
func (r ReasoningResponse) Validate() error {
	if !slices.Contains(validImpacts, r.PerformanceImpact) {
		return fmt.Errorf("%w: performance_impact %q", ErrInvalidReasoningResponse, r.PerformanceImpact)
	}
	if _, ok := strengthRank[r.CorrelationStrength]; !ok {
		return fmt.Errorf("%w: correlation_strength %q", ErrInvalidReasoningResponse, r.CorrelationStrength)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d", ErrInvalidReasoningResponse, r.Confidence)
	}
	if strings.TrimSpace(r.Analysis) == "" {
		return fmt.Errorf("%w: empty ai_analysis", ErrInvalidReasoningResponse)
	}
	return nil
}

// CorrelationInsight is one explained event.
type CorrelationInsight struct {
	ID                  string              `json:"id,omitempty"`
	CampaignID          string              `json:"campaign_id"`
	Event               ExecutionEvent      `json:"event"`
	MetricChanges       []MetricChange      `json:"metric_changes"`
	PerformanceImpact   PerformanceImpact   `json:"performance_impact"`
	CorrelationStrength CorrelationStrength `json:"correlation_strength"`
	Confidence          int                 `json:"confidence"`
	Analysis            string              `json:"analysis"`
	ActionableInsight   string              `json:"actionable_insight"`
	Source              InsightSource       `json:"source"`
	CreatedAt           time.Time           `json:"created_at"`
}

// CorrelationSummary aggregates a campaign's insights.
type CorrelationSummary struct {
	TotalInsights      int                 `json:"total_insights"`
	PositiveImpacts    int                 `json:"positive_impacts"`
	NegativeImpacts    int                 `json:"negative_impacts"`
	StrongCorrelations int                 `json:"strong_correlations"`
	KeyInsight         *CorrelationInsight `json:"key_insight,omitempty"`
}

// BuildEventStream derives execution events from drift events, completed phases, and
// completed items, sorted ascending by date.
func BuildEventStream(driftEvents []DriftEvent, phases []Phase, items []WorkItem) []ExecutionEvent {
	events := make([]ExecutionEvent, 0, len(driftEvents)+len(phases)+len(items))
	for _, drift := range driftEvents {
		if drift.OccurredAt.IsZero() {
			continue
		}
		event := ExecutionEvent{Date: drift.OccurredAt.UTC(), DriftDays: drift.DriftDays, PhaseID: drift.PhaseID}
		switch {
		case drift.DriftDays > 0:
			event.Type = EventDelay
			event.Description = fmt.Sprintf("Phase %q ran %d %s over plan", drift.PhaseName, drift.DriftDays, pluralDays(drift.DriftDays))
		case drift.DriftDays < 0:
			event.Type = EventEarlyCompletion
			event.Description = fmt.Sprintf("Phase %q finished %d %s ahead of plan", drift.PhaseName, -drift.DriftDays, pluralDays(-drift.DriftDays))
		default:
			continue
		}
		if cause := strings.TrimSpace(drift.RootCause); cause != "" {
			event.Description += " (" + cause + ")"
		}
		events = append(events, event)
	}
	for _, phase := range phases {
		if phase.Status != PhaseStatusCompleted || phase.ActualEndDate == nil {
			continue
		}
		events = append(events, ExecutionEvent{
			Type:        EventPhaseChange,
			Description: fmt.Sprintf("Phase %q completed", phase.Name),
			Date:        phase.ActualEndDate.UTC(),
			PhaseID:     phase.ID,
		})
	}
	for _, item := range items {
		if item.Status != StatusCompleted || item.CompletedAt == nil {
			continue
		}
		event := ExecutionEvent{
			Type:        EventTaskCompletion,
			Description: fmt.Sprintf("Work item %q completed", item.Title),
			Date:        item.CompletedAt.UTC(),
			WorkItemID:  item.ID,
			PhaseID:     item.PhaseID,
		}
		if item.IsLate() {
			late := ceilDays(item.CompletedAt.Sub(*item.DueAt))
			event.Type = EventDelay
			event.DriftDays = late
			event.Description = fmt.Sprintf("Work item %q completed %d %s after its due date", item.Title, late, pluralDays(late))
		}
		events = append(events, event)
	}
	slices.SortStableFunc(events, func(a, b ExecutionEvent) int {
		return a.Date.Compare(b.Date)
	})
	return events
}

// BracketReports finds the reports around at. reports must be sorted by week_starting. after is
// the first report on or after at's date; before is the report preceding it.
func BracketReports(reports []PerformanceReport, at time.Time) (before, after PerformanceReport, ok bool) {
	if len(reports) < 2 {
		return PerformanceReport{}, PerformanceReport{}, false
	}
	day := dateOnly(at)
	idx, _ := slices.BinarySearchFunc(reports, day, func(r PerformanceReport, target time.Time) int {
		return dateOnly(r.WeekStarting).Compare(target)
	})
	if idx >= len(reports) || idx == 0 {
		return PerformanceReport{}, PerformanceReport{}, false
	}
	return reports[idx-1], reports[idx], true
}

// SignificantChanges returns tracked metrics whose change meets the significance floor.
// Changes are only computed when both values are positive.
func SignificantChanges(before, after PerformanceReport, floorPct float64) []MetricChange {
	out := make([]MetricChange, 0, len(TrackedMetrics))
	for _, metric := range TrackedMetrics {
		b, a := before.Value(metric), after.Value(metric)
		if b <= 0 || a <= 0 {
			continue
		}
		raw := (a - b) / b * 100
		if !meetsCut(math.Abs(raw), floorPct) {
			continue
		}
		out = append(out, MetricChange{Metric: metric, Before: b, After: a, ChangePct: math.Round(raw*100) / 100})
	}
	return out
}

// ClassifyStrength applies the drift-magnitude and change-size cut points.
func ClassifyStrength(driftDays int, changes []MetricChange, th CorrelationThresholds) CorrelationStrength {
	maxAbs := maxAbsChange(changes)
	drift := absInt(driftDays)
	switch {
	case drift >= th.StrongDriftDays && meetsCut(maxAbs, th.StrongChangePct):
		return StrengthStrong
	case drift >= th.ModerateDriftDays && meetsCut(maxAbs, th.ModerateChangePct):
		return StrengthModerate
	case meetsCut(maxAbs, th.WeakChangePct):
		return StrengthWeak
	default:
		return StrengthNone
	}
}

// BuildCorrelationCandidates runs bracketing, significance filtering, and classification over
// an event stream. Events with no correlation are dropped unless they are delays.
func BuildCorrelationCandidates(events []ExecutionEvent, reports []PerformanceReport, th CorrelationThresholds) []CorrelationCandidate {
	sorted := slices.Clone(reports)
	SortReports(sorted)
	out := make([]CorrelationCandidate, 0, len(events))
	for _, event := range events {
		before, after, ok := BracketReports(sorted, event.Date)
		if !ok {
			continue
		}
		changes := SignificantChanges(before, after, th.SignificanceFloorPct)
		strength := ClassifyStrength(event.DriftDays, changes, th)
		if strength == StrengthNone && event.Type != EventDelay {
			continue
		}
		out = append(out, CorrelationCandidate{
			Event:         event,
			MetricChanges: changes,
			Strength:      strength,
			Trend:         trailingTrend(sorted, after, th.TrendWindow),
		})
	}
	return out
}

// ReasoningRequestFor builds the reasoning request for one candidate.
func ReasoningRequestFor(campaignID string, candidate CorrelationCandidate) ReasoningRequest {
	return ReasoningRequest{
		CampaignID:    campaignID,
		EventSummary:  candidate.Event.Description,
		EventType:     candidate.Event.Type,
		DriftDays:     candidate.Event.DriftDays,
		MetricChanges: candidate.MetricChanges,
		Trend:         candidate.Trend,
		Strength:      candidate.Strength,
	}
}

// FallbackResponse is the deterministic substitute for the reasoning service.
func FallbackResponse(candidate CorrelationCandidate, th CorrelationThresholds) ReasoningResponse {
	impact := FallbackImpact(candidate.MetricChanges, th.SignificanceFloorPct)
	return ReasoningResponse{
		PerformanceImpact:   impact,
		CorrelationStrength: candidate.Strength,
		Analysis:            fallbackAnalysis(candidate),
		Confidence:          th.FallbackConfidence,
		ActionableInsight:   fallbackAction(candidate.Event.Type, impact),
	}
}

// FallbackImpact is negative if any metric dropped past the floor, else positive if any rose
// past it, else neutral.
func FallbackImpact(changes []MetricChange, floorPct float64) PerformanceImpact {
	rose := false
	for _, change := range changes {
		if change.rawPct() < -(floorPct + pctTolerance) {
			return ImpactNegative
		}
		if change.rawPct() > floorPct+pctTolerance {
			rose = true
		}
	}
	if rose {
		return ImpactPositive
	}
	return ImpactNeutral
}

// NewCorrelationInsight combines a candidate with a reasoning response.
func NewCorrelationInsight(campaignID string, candidate CorrelationCandidate, resp ReasoningResponse, source InsightSource, now time.Time) CorrelationInsight {
	changes := candidate.MetricChanges
	if changes == nil {
		changes = []MetricChange{}
	}
	return CorrelationInsight{
		CampaignID:          campaignID,
		Event:               candidate.Event,
		MetricChanges:       changes,
		PerformanceImpact:   resp.PerformanceImpact,
		CorrelationStrength: resp.CorrelationStrength,
		Confidence:          resp.Confidence,
		Analysis:            strings.TrimSpace(resp.Analysis),
		ActionableInsight:   strings.TrimSpace(resp.ActionableInsight),
		Source:              source,
		CreatedAt:           now.UTC(),
	}
}

// SortInsights orders insights by confidence descending, then strength rank descending.
func SortInsights(insights []CorrelationInsight) {
	slices.SortStableFunc(insights, func(a, b CorrelationInsight) int {
		if a.Confidence != b.Confidence {
			return b.Confidence - a.Confidence
		}
		return strengthRank[b.CorrelationStrength] - strengthRank[a.CorrelationStrength]
	})
}

// SummarizeInsights counts impacts and picks the highest-confidence strong insight.
func SummarizeInsights(insights []CorrelationInsight) CorrelationSummary {
	summary := CorrelationSummary{TotalInsights: len(insights)}
	for i := range insights {
		insight := insights[i]
		switch insight.PerformanceImpact {
		case ImpactPositive:
			summary.PositiveImpacts++
		case ImpactNegative:
			summary.NegativeImpacts++
		}
		if insight.CorrelationStrength != StrengthStrong {
			continue
		}
		summary.StrongCorrelations++
		if summary.KeyInsight == nil || insight.Confidence > summary.KeyInsight.Confidence {
			summary.KeyInsight = &insight
		}
	}
	return summary
}

func trailingTrend(sorted []PerformanceReport, through PerformanceReport, window int) []TrendPoint {
	if window <= 0 {
		return []TrendPoint{}
	}
	end := slices.IndexFunc(sorted, func(r PerformanceReport) bool { return r.ID == through.ID })
	if end < 0 {
		return []TrendPoint{}
	}
	start := max(0, end+1-window)
	out := make([]TrendPoint, 0, end+1-start)
	for _, report := range sorted[start : end+1] {
		out = append(out, TrendPoint{
			WeekStarting: report.WeekStarting,
			Sales:        report.TotalSales,
			Engagement:   report.TotalEngagement,
			Views:        report.Views,
			Revenue:      report.TotalRevenue,
		})
	}
	return out
}

func fallbackAnalysis(candidate CorrelationCandidate) string {
	if len(candidate.MetricChanges) == 0 {
		return fmt.Sprintf("%s. No tracked metric moved by a significant amount in the surrounding reports.", candidate.Event.Description)
	}
	parts := make([]string, 0, len(candidate.MetricChanges))
	for _, change := range candidate.MetricChanges {
		parts = append(parts, fmt.Sprintf("%s %+.1f%% (%.0f to %.0f)", change.Metric, change.ChangePct, change.Before, change.After))
	}
	return fmt.Sprintf("%s. Surrounding reports show %s; correlation is %s.", candidate.Event.Description, strings.Join(parts, ", "), candidate.Strength)
}

func fallbackAction(eventType ExecutionEventType, impact PerformanceImpact) string {
	switch {
	case impact == ImpactNegative && eventType == EventDelay:
		return "Review the cause of this delay and protect downstream phases from the same slip."
	case impact == ImpactNegative:
		return "Investigate the metric drop before repeating this execution pattern."
	case impact == ImpactPositive && eventType == EventEarlyCompletion:
		return "Capture what let this phase finish early and reuse it in upcoming phases."
	case impact == ImpactPositive:
		return "Keep the current execution approach and monitor whether the lift holds."
	default:
		return "Keep monitoring; no clear performance effect was observed."
	}
}

func maxAbsChange(changes []MetricChange) float64 {
	out := 0.0
	for _, change := range changes {
		out = math.Max(out, math.Abs(change.rawPct()))
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func pluralDays(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}
