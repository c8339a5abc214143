package domain

import (
	"slices"
	"strings"
	"time"
)

// PhaseStatus represents the lifecycle of one workflow phase.
type PhaseStatus string

// PhaseStatus values.
const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusBlocked    PhaseStatus = "blocked"
)

var validPhaseStatuses = []PhaseStatus{
	PhaseStatusPending,
	PhaseStatusInProgress,
	PhaseStatusCompleted,
	PhaseStatusBlocked,
}

// Phase is one ordered workflow stage of a campaign; it acts as a board column.
type Phase struct {
	ID                  string
	CampaignID          string
	Name                string
	PhaseNumber         int
	PlannedDurationDays int
	PlannedEndDate      *time.Time
	Status              PhaseStatus
	ActualStartDate     *time.Time
	ActualEndDate       *time.Time
	ActualDurationDays  *int
	DriftDays           *int
	DriftType           DriftType
	RootCause           string
	Attribution         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PhaseInput holds constructor values for a phase.
type PhaseInput struct {
	ID                  string
	CampaignID          string
	Name                string
	PhaseNumber         int
	PlannedDurationDays int
	PlannedEndDate      *time.Time
}

// NewPhase constructs a pending phase.
func NewPhase(in PhaseInput, now time.Time) (Phase, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.CampaignID = strings.TrimSpace(in.CampaignID)
	in.Name = strings.TrimSpace(in.Name)
	if in.ID == "" || in.CampaignID == "" {
		return Phase{}, ErrInvalidID
	}
	if in.Name == "" {
		return Phase{}, ErrInvalidName
	}
	if in.PhaseNumber < 0 {
		return Phase{}, ErrInvalidPosition
	}
	if in.PlannedDurationDays < 0 {
		return Phase{}, ErrInvalidDuration
	}

	return Phase{
		ID:                  in.ID,
		CampaignID:          in.CampaignID,
		Name:                in.Name,
		PhaseNumber:         in.PhaseNumber,
		PlannedDurationDays: in.PlannedDurationDays,
		PlannedEndDate:      normalizeDate(in.PlannedEndDate),
		Status:              PhaseStatusPending,
		CreatedAt:           now.UTC(),
		UpdatedAt:           now.UTC(),
	}, nil
}

// Start records the actual start date once and marks the phase in progress.
func (p *Phase) Start(now time.Time) error {
	if p.Status == PhaseStatusCompleted {
		return ErrPhaseAlreadyCompleted
	}
	if p.ActualStartDate == nil {
		ts := now.UTC()
		p.ActualStartDate = &ts
	}
	p.Status = PhaseStatusInProgress
	p.UpdatedAt = now.UTC()
	return nil
}

// SetStatus applies a non-completing status change; completion goes through Complete.
func (p *Phase) SetStatus(status PhaseStatus, now time.Time) error {
	if !slices.Contains(validPhaseStatuses, status) {
		return ErrInvalidPhaseStatus
	}
	if status == PhaseStatusCompleted {
		_, err := p.Complete(now)
		return err
	}
	if status == PhaseStatusInProgress {
		return p.Start(now)
	}
	p.Status = status
	p.UpdatedAt = now.UTC()
	return nil
}

// RecordCause stores the phase-level root cause and attribution notes.
// A blank argument keeps the note already recorded.
func (p *Phase) RecordCause(rootCause, attribution string, now time.Time) {
	if rootCause = strings.TrimSpace(rootCause); rootCause != "" {
		p.RootCause = rootCause
	}
	if attribution = strings.TrimSpace(attribution); attribution != "" {
		p.Attribution = attribution
	}
	p.UpdatedAt = now.UTC()
}

// IsValidPhaseStatus reports whether status is supported.
func IsValidPhaseStatus(status PhaseStatus) bool {
	return slices.Contains(validPhaseStatuses, status)
}

// SortPhases orders phases by phase number, then id.
func SortPhases(phases []Phase) {
	slices.SortFunc(phases, func(a, b Phase) int {
		if a.PhaseNumber == b.PhaseNumber {
			return strings.Compare(a.ID, b.ID)
		}
		return a.PhaseNumber - b.PhaseNumber
	})
}

func normalizeDate(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	out := ts.UTC().Truncate(time.Second)
	return &out
}
