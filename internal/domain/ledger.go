package domain

import (
	"slices"
	"strings"
	"time"
)

// CompletionTiming compares a phase exit against the phase's planned end date.
type CompletionTiming string

// CompletionTiming values.
const (
	TimingEarly  CompletionTiming = "early"
	TimingOnTime CompletionTiming = "on_time"
	TimingLate   CompletionTiming = "late"
)

// PhaseHistoryEntry is one visit of a work item to a phase. Entries are append-only and are
// never changed after ExitedAt is set.
type PhaseHistoryEntry struct {
	ID               string           `json:"id"`
	WorkItemID       string           `json:"work_item_id"`
	PhaseID          string           `json:"phase_id"`
	PhaseName        string           `json:"phase_name"`
	Sequence         int              `json:"sequence"`
	EnteredAt        time.Time        `json:"entered_at"`
	ExitedAt         *time.Time       `json:"exited_at,omitempty"`
	TimeSpentMinutes int              `json:"time_spent_minutes"`
	CompletionTiming CompletionTiming `json:"completion_timing,omitempty"`
}

// IsClosed reports whether the visit has ended.
func (e PhaseHistoryEntry) IsClosed() bool {
	return e.ExitedAt != nil
}

// MoveOptions configures one phase move.
type MoveOptions struct {
	// Restart discards carried-over time for the destination phase.
	Restart bool
	// EntryID identifies the history entry opened for the destination phase.
	EntryID string
}

// PhaseMove is the full result of a move. Item, Closed, and Opened must be persisted together.
type PhaseMove struct {
	Item   WorkItem
	Closed *PhaseHistoryEntry
	Opened *PhaseHistoryEntry
	NoOp   bool
}

// EnterPhase opens a history entry for phase and restarts the item's session clock.
func EnterPhase(item *WorkItem, phase Phase, entryID string, history []PhaseHistoryEntry, now time.Time) PhaseHistoryEntry {
	now = now.UTC()
	item.PhaseID = phase.ID
	item.StartedAt = &now
	if item.Status == StatusPlanned {
		item.Status = StatusInProgress
	}
	item.UpdatedAt = now
	return PhaseHistoryEntry{
		ID:         strings.TrimSpace(entryID),
		WorkItemID: item.ID,
		PhaseID:    phase.ID,
		PhaseName:  phase.Name,
		Sequence:   nextSequence(history, item.ID, phase.ID),
		EnteredAt:  now,
	}
}

// ExitPhase closes the open entry with the minutes of the current session only. The stored
// baseline is never added in, so time carried over from earlier visits is not counted twice.
func ExitPhase(item WorkItem, open PhaseHistoryEntry, plannedEnd *time.Time, now time.Time) PhaseHistoryEntry {
	now = now.UTC()
	closed := open
	closed.ExitedAt = &now
	closed.TimeSpentMinutes = sessionMinutes(item.StartedAt, now)
	closed.CompletionTiming = CompletionTimingFor(plannedEnd, now)
	return closed
}

// MoveItem moves item from its current phase to to; a nil to returns the item to backlog.
// history holds the item's prior entries and is only read.
func MoveItem(item WorkItem, from, to *Phase, history []PhaseHistoryEntry, opts MoveOptions, now time.Time) (PhaseMove, error) {
	if to != nil && to.CampaignID != item.CampaignID {
		return PhaseMove{}, ErrPhaseCampaignMismatch
	}
	if from != nil && from.CampaignID != item.CampaignID {
		return PhaseMove{}, ErrPhaseCampaignMismatch
	}
	toID := ""
	if to != nil {
		toID = to.ID
	}
	if toID == item.PhaseID {
		return PhaseMove{Item: item, NoOp: true}, nil
	}

	now = now.UTC()
	move := PhaseMove{}
	fromID := item.PhaseID
	if fromID != "" {
		var plannedEnd *time.Time
		if from != nil && from.ID == fromID {
			plannedEnd = from.PlannedEndDate
		}
		if open, ok := OpenEntry(history, item.ID, fromID); ok {
			closed := ExitPhase(item, open, plannedEnd, now)
			move.Closed = &closed
		}
	}

	if to == nil {
		item.PhaseID = ""
		item.StartedAt = nil
		item.TimeInPhaseMinutes = 0
	} else {
		item.CompletedPhases = removePhaseID(item.CompletedPhases, to.ID)
		baseline := 0
		if !opts.Restart {
			baseline = CarryOverMinutes(history, item.ID, to.ID)
		}
		opened := EnterPhase(&item, *to, opts.EntryID, history, now)
		item.TimeInPhaseMinutes = baseline
		move.Opened = &opened
	}
	if fromID != "" && !slices.Contains(item.CompletedPhases, fromID) {
		item.CompletedPhases = append(item.CompletedPhases, fromID)
	}
	item.UpdatedAt = now
	move.Item = item
	return move, nil
}

// LiveElapsedMinutes returns the display value for time in the current phase.
func LiveElapsedMinutes(item WorkItem, now time.Time) int {
	if item.StartedAt == nil || item.IsTerminal() {
		return item.TimeInPhaseMinutes
	}
	return item.TimeInPhaseMinutes + sessionMinutes(item.StartedAt, now)
}

// CarryOverMinutes sums time spent across closed visits of one (item, phase) pair.
func CarryOverMinutes(history []PhaseHistoryEntry, itemID, phaseID string) int {
	total := 0
	for _, entry := range history {
		if entry.WorkItemID != itemID || entry.PhaseID != phaseID || !entry.IsClosed() {
			continue
		}
		total += entry.TimeSpentMinutes
	}
	return total
}

// OpenEntry returns the latest open entry for one (item, phase) pair.
func OpenEntry(history []PhaseHistoryEntry, itemID, phaseID string) (PhaseHistoryEntry, bool) {
	var (
		found PhaseHistoryEntry
		ok    bool
	)
	for _, entry := range history {
		if entry.WorkItemID != itemID || entry.PhaseID != phaseID || entry.IsClosed() {
			continue
		}
		if !ok || entry.Sequence > found.Sequence {
			found = entry
			ok = true
		}
	}
	return found, ok
}

// CompletionTimingFor compares exit and planned end by UTC calendar date. It returns "" when
// no planned end date exists.
func CompletionTimingFor(plannedEnd *time.Time, exitedAt time.Time) CompletionTiming {
	if plannedEnd == nil {
		return ""
	}
	exit := dateOnly(exitedAt)
	due := dateOnly(*plannedEnd)
	switch {
	case exit.Before(due):
		return TimingEarly
	case exit.Equal(due):
		return TimingOnTime
	default:
		return TimingLate
	}
}

// SortHistory orders entries by entry time, then sequence.
func SortHistory(history []PhaseHistoryEntry) {
	slices.SortStableFunc(history, func(a, b PhaseHistoryEntry) int {
		if c := a.EnteredAt.Compare(b.EnteredAt); c != 0 {
			return c
		}
		return a.Sequence - b.Sequence
	})
}

func sessionMinutes(startedAt *time.Time, now time.Time) int {
	if startedAt == nil {
		return 0
	}
	elapsed := now.Sub(*startedAt)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / time.Minute)
}

func nextSequence(history []PhaseHistoryEntry, itemID, phaseID string) int {
	seq := 0
	for _, entry := range history {
		if entry.WorkItemID == itemID && entry.PhaseID == phaseID && entry.Sequence > seq {
			seq = entry.Sequence
		}
	}
	return seq + 1
}

func removePhaseID(ids []string, phaseID string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != phaseID {
			out = append(out, id)
		}
	}
	return out
}
