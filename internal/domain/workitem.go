package domain

import (
	"slices"
	"strings"
	"time"
)

// WorkItemStatus represents the lifecycle state of one deliverable.
type WorkItemStatus string

// WorkItemStatus values.
const (
	StatusPlanned    WorkItemStatus = "planned"
	StatusInProgress WorkItemStatus = "in_progress"
	StatusCompleted  WorkItemStatus = "completed"
	StatusBlocked    WorkItemStatus = "blocked"
	StatusCancelled  WorkItemStatus = "cancelled"
)

var validWorkItemStatuses = []WorkItemStatus{
	StatusPlanned,
	StatusInProgress,
	StatusCompleted,
	StatusBlocked,
	StatusCancelled,
}

// WorkItem is a deliverable card on the execution board. An empty PhaseID means backlog.
type WorkItem struct {
	ID                 string
	CampaignID         string
	PhaseID            string
	Title              string
	AssigneeID         string
	Status             WorkItemStatus
	Position           int
	StartedAt          *time.Time
	TimeInPhaseMinutes int
	CompletedPhases    []string
	DelayReason        string
	DueAt              *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// WorkItemInput holds constructor values for a work item.
type WorkItemInput struct {
	ID         string
	CampaignID string
	Title      string
	AssigneeID string
	Position   int
	DueAt      *time.Time
}

// NewWorkItem constructs a planned backlog item.
func NewWorkItem(in WorkItemInput, now time.Time) (WorkItem, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.CampaignID = strings.TrimSpace(in.CampaignID)
	in.Title = strings.TrimSpace(in.Title)
	if in.ID == "" || in.CampaignID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.Title == "" {
		return WorkItem{}, ErrInvalidTitle
	}
	if in.Position < 0 {
		return WorkItem{}, ErrInvalidPosition
	}
	return WorkItem{
		ID:              in.ID,
		CampaignID:      in.CampaignID,
		Title:           in.Title,
		AssigneeID:      strings.TrimSpace(in.AssigneeID),
		Status:          StatusPlanned,
		Position:        in.Position,
		CompletedPhases: []string{},
		DueAt:           normalizeDate(in.DueAt),
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}, nil
}

// SetStatus changes the item status; completion stamps CompletedAt.
func (w *WorkItem) SetStatus(status WorkItemStatus, delayReason string, now time.Time) error {
	status = WorkItemStatus(strings.TrimSpace(strings.ToLower(string(status))))
	if !slices.Contains(validWorkItemStatuses, status) {
		return ErrInvalidStatus
	}
	now = now.UTC()
	w.Status = status
	switch status {
	case StatusCompleted:
		w.CompletedAt = &now
	default:
		w.CompletedAt = nil
	}
	if reason := strings.TrimSpace(delayReason); reason != "" {
		w.DelayReason = reason
	}
	w.UpdatedAt = now
	return nil
}

// IsTerminal reports whether the item no longer accrues phase time.
func (w WorkItem) IsTerminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusCancelled
}

// HasCompletedPhase reports whether the item already finished the phase.
func (w WorkItem) HasCompletedPhase(phaseID string) bool {
	return slices.Contains(w.CompletedPhases, phaseID)
}

// IsLate reports whether the item was completed after its due date.
func (w WorkItem) IsLate() bool {
	return w.CompletedAt != nil && w.DueAt != nil && w.CompletedAt.After(*w.DueAt)
}

// IsValidWorkItemStatus reports whether status is supported.
func IsValidWorkItemStatus(status WorkItemStatus) bool {
	return slices.Contains(validWorkItemStatuses, status)
}
