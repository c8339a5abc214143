package domain

import (
	"math"
	"strings"
	"time"
)

// DriftType classifies schedule variance. Negative drift means the phase ran late.
type DriftType string

// DriftType values.
const (
	DriftPositive DriftType = "positive"
	DriftNegative DriftType = "negative"
	DriftNeutral  DriftType = "neutral"
)

// DriftEventStatus distinguishes persisted completed-phase drift from live projections.
type DriftEventStatus string

// DriftEventStatus values.
const (
	DriftEventCompleted  DriftEventStatus = "completed"
	DriftEventInProgress DriftEventStatus = "in_progress"
)

// ClassifyDrift maps signed drift days to a drift type; |drift| <= 1 is neutral.
func ClassifyDrift(driftDays int) DriftType {
	switch {
	case driftDays > 1:
		return DriftNegative
	case driftDays < -1:
		return DriftPositive
	default:
		return DriftNeutral
	}
}

// PhaseCompletion reports the values written by Complete.
type PhaseCompletion struct {
	ActualDurationDays int
	DriftDays          int
	DriftType          DriftType
}

// Complete closes the phase, deriving actual duration and drift from the recorded start date.
func (p *Phase) Complete(now time.Time) (PhaseCompletion, error) {
	if p.ActualStartDate == nil {
		return PhaseCompletion{}, ErrPhaseNotStarted
	}
	if p.Status == PhaseStatusCompleted {
		return PhaseCompletion{}, ErrPhaseAlreadyCompleted
	}
	now = now.UTC()
	duration := ceilDays(now.Sub(*p.ActualStartDate))
	drift := duration - p.PlannedDurationDays
	driftType := ClassifyDrift(drift)

	end := now
	p.ActualEndDate = &end
	p.ActualDurationDays = &duration
	p.DriftDays = &drift
	p.DriftType = driftType
	p.Status = PhaseStatusCompleted
	p.UpdatedAt = now

	return PhaseCompletion{
		ActualDurationDays: duration,
		DriftDays:          drift,
		DriftType:          driftType,
	}, nil
}

// ProjectedDrift is a read-time drift estimate for an in-progress phase. It is never persisted.
type ProjectedDrift struct {
	PhaseID             string    `json:"phase_id"`
	ElapsedDays         int       `json:"elapsed_days"`
	PlannedDurationDays int       `json:"planned_duration_days"`
	DriftDays           int       `json:"projected_drift_days"`
	DriftType           DriftType `json:"drift_type"`
	ComputedAt          time.Time `json:"computed_at"`
}

// ProjectDrift computes live drift for a started in-progress phase; ok is false otherwise.
func (p Phase) ProjectDrift(now time.Time) (ProjectedDrift, bool) {
	if p.Status != PhaseStatusInProgress || p.ActualStartDate == nil {
		return ProjectedDrift{}, false
	}
	elapsed := ceilDays(now.UTC().Sub(*p.ActualStartDate))
	drift := elapsed - p.PlannedDurationDays
	return ProjectedDrift{
		PhaseID:             p.ID,
		ElapsedDays:         elapsed,
		PlannedDurationDays: p.PlannedDurationDays,
		DriftDays:           drift,
		DriftType:           ClassifyDrift(drift),
		ComputedAt:          now.UTC(),
	}, true
}

// DriftEvent is derived per phase. Completed events are persisted; projected ones are not.
type DriftEvent struct {
	ID              string           `json:"id,omitempty"`
	CampaignID      string           `json:"campaign_id"`
	PhaseID         string           `json:"phase_id"`
	PhaseName       string           `json:"phase_name"`
	DriftType       DriftType        `json:"drift_type"`
	DriftDays       int              `json:"drift_days"`
	PlannedDuration int              `json:"planned_duration"`
	ActualDuration  int              `json:"actual_duration"`
	RootCause       string           `json:"root_cause,omitempty"`
	Attribution     string           `json:"attribution,omitempty"`
	Status          DriftEventStatus `json:"status"`
	Projected       bool             `json:"projected"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// BuildDriftEvent aggregates one phase into a drift event. Completed phases report persisted
// values; in-progress phases report a projection computed at now. Items' delay reasons fill
// in the root cause when the phase has none. ok is false for phases with no drift signal.
func BuildDriftEvent(phase Phase, items []WorkItem, now time.Time) (DriftEvent, bool) {
	event := DriftEvent{
		CampaignID:      phase.CampaignID,
		PhaseID:         phase.ID,
		PhaseName:       phase.Name,
		PlannedDuration: phase.PlannedDurationDays,
		RootCause:       phase.RootCause,
		Attribution:     phase.Attribution,
	}
	switch {
	case phase.Status == PhaseStatusCompleted && phase.DriftDays != nil && phase.ActualDurationDays != nil:
		event.DriftDays = *phase.DriftDays
		event.DriftType = ClassifyDrift(*phase.DriftDays)
		event.ActualDuration = *phase.ActualDurationDays
		event.Status = DriftEventCompleted
		if phase.ActualEndDate != nil {
			event.OccurredAt = phase.ActualEndDate.UTC()
		}
	default:
		projected, ok := phase.ProjectDrift(now)
		if !ok {
			return DriftEvent{}, false
		}
		event.DriftDays = projected.DriftDays
		event.DriftType = projected.DriftType
		event.ActualDuration = projected.ElapsedDays
		event.Status = DriftEventInProgress
		event.Projected = true
		event.OccurredAt = projected.ComputedAt
	}
	if strings.TrimSpace(event.RootCause) == "" {
		event.RootCause = delayReasonsFor(phase.ID, items)
	}
	return event, true
}

// delayReasonsFor joins distinct delay reasons of items currently in, or finished with, a phase.
func delayReasonsFor(phaseID string, items []WorkItem) string {
	reasons := make([]string, 0)
	seen := map[string]struct{}{}
	for _, item := range items {
		if item.PhaseID != phaseID && !item.HasCompletedPhase(phaseID) {
			continue
		}
		reason := strings.TrimSpace(item.DelayReason)
		if reason == "" {
			continue
		}
		if _, ok := seen[reason]; ok {
			continue
		}
		seen[reason] = struct{}{}
		reasons = append(reasons, reason)
	}
	return strings.Join(reasons, "; ")
}

// OperationalHealth summarizes campaign progress discounted by schedule drift.
type OperationalHealth struct {
	TotalPhases      int     `json:"total_phases"`
	CompletedPhases  int     `json:"completed_phases"`
	InProgressPhases int     `json:"in_progress_phases"`
	ProgressRate     float64 `json:"progress_rate"`
	AverageDrift     float64 `json:"average_drift"`
	DriftPenalty     float64 `json:"drift_penalty"`
	Score            float64 `json:"score"`
}

// maxDriftPenalty caps how many points drift can take off operational health.
const maxDriftPenalty = 30.0

// ComputeOperationalHealth applies the progress/drift heuristic. Completed phases count their
// absolute drift; in-progress phases count only projected overrun.
func ComputeOperationalHealth(phases []Phase, now time.Time) OperationalHealth {
	health := OperationalHealth{TotalPhases: len(phases)}
	if len(phases) == 0 {
		return health
	}
	driftSum := 0.0
	for _, phase := range phases {
		switch phase.Status {
		case PhaseStatusCompleted:
			health.CompletedPhases++
			if phase.DriftDays != nil {
				driftSum += math.Abs(float64(*phase.DriftDays))
			}
		case PhaseStatusInProgress:
			health.InProgressPhases++
			if projected, ok := phase.ProjectDrift(now); ok {
				driftSum += math.Max(0, float64(projected.DriftDays))
			}
		}
	}
	health.ProgressRate = (float64(health.CompletedPhases) + 0.5*float64(health.InProgressPhases)) / float64(health.TotalPhases) * 100
	health.AverageDrift = driftSum / math.Max(1, float64(health.CompletedPhases+health.InProgressPhases))
	health.DriftPenalty = math.Min(health.AverageDrift*5, maxDriftPenalty)
	health.Score = math.Max(0, health.ProgressRate-health.DriftPenalty)
	return health
}
