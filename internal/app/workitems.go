package app

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/evanschultz/cadence/internal/domain"
)

// CreateWorkItemInput holds input values for create work item operations.
type CreateWorkItemInput struct {
	CampaignID string
	Title      string
	AssigneeID string
	DueAt      *time.Time
}

// CreateWorkItem creates a backlog work item at the end of the campaign's list.
func (s *Service) CreateWorkItem(ctx context.Context, in CreateWorkItemInput) (domain.WorkItem, error) {
	if _, err := s.repo.GetCampaign(ctx, in.CampaignID); err != nil {
		return domain.WorkItem{}, err
	}
	items, err := s.repo.ListWorkItems(ctx, in.CampaignID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	position := 0
	for _, item := range items {
		if item.Position >= position {
			position = item.Position + 1
		}
	}
	now := s.clock()
	item, err := domain.NewWorkItem(domain.WorkItemInput{
		ID:         s.idGen(),
		CampaignID: in.CampaignID,
		Title:      in.Title,
		AssigneeID: in.AssigneeID,
		Position:   position,
		DueAt:      in.DueAt,
	}, now)
	if err != nil {
		return domain.WorkItem{}, err
	}
	event := changeEventFor(ctx, item, domain.ChangeOperationCreate, map[string]string{
		"title":    item.Title,
		"position": strconv.Itoa(item.Position),
	}, now)
	if err := s.repo.CreateWorkItem(ctx, item, event); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// GetWorkItem returns work item.
func (s *Service) GetWorkItem(ctx context.Context, itemID string) (domain.WorkItem, error) {
	return s.repo.GetWorkItem(ctx, itemID)
}

// ListWorkItems lists campaign work items by position.
func (s *Service) ListWorkItems(ctx context.Context, campaignID string) ([]domain.WorkItem, error) {
	items, err := s.repo.ListWorkItems(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b domain.WorkItem) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

// MoveWorkItemInput holds input values for move work item operations.
type MoveWorkItemInput struct {
	ItemID string
	// ToPhaseID is the destination phase; empty returns the item to backlog.
	ToPhaseID string
	Restart   bool
}

// MoveWorkItem moves an item between phases and persists the exit/entry pair atomically.
func (s *Service) MoveWorkItem(ctx context.Context, in MoveWorkItemInput) (domain.WorkItem, error) {
	item, err := s.repo.GetWorkItem(ctx, in.ItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}

	var from, to *domain.Phase
	if item.PhaseID != "" {
		phase, err := s.repo.GetPhase(ctx, item.PhaseID)
		switch {
		case err == nil:
			from = &phase
		case !isNotFound(err):
			return domain.WorkItem{}, err
		}
	}
	if toID := strings.TrimSpace(in.ToPhaseID); toID != "" {
		phase, err := s.repo.GetPhase(ctx, toID)
		if err != nil {
			return domain.WorkItem{}, err
		}
		to = &phase
	}
	history, err := s.repo.ListPhaseHistory(ctx, item.ID)
	if err != nil {
		return domain.WorkItem{}, err
	}

	now := s.clock()
	move, err := domain.MoveItem(item, from, to, history, domain.MoveOptions{Restart: in.Restart, EntryID: s.idGen()}, now)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if move.NoOp {
		return move.Item, nil
	}
	metadata := map[string]string{
		"from_phase_id": item.PhaseID,
		"to_phase_id":   move.Item.PhaseID,
		"restart":       strconv.FormatBool(in.Restart),
		"baseline_min":  strconv.Itoa(move.Item.TimeInPhaseMinutes),
	}
	if move.Closed != nil {
		metadata["closed_minutes"] = strconv.Itoa(move.Closed.TimeSpentMinutes)
	}
	err = s.repo.ApplyWorkItemMove(ctx, WorkItemMove{
		Item:   move.Item,
		Closed: move.Closed,
		Opened: move.Opened,
		Event:  changeEventFor(ctx, move.Item, domain.ChangeOperationMove, metadata, now),
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	s.log.Debug("work item moved",
		"work_item_id", item.ID,
		"from_phase_id", item.PhaseID,
		"to_phase_id", move.Item.PhaseID,
		"baseline_minutes", move.Item.TimeInPhaseMinutes,
	)
	return move.Item, nil
}

// SetWorkItemStatus changes an item's status and records an optional delay reason.
func (s *Service) SetWorkItemStatus(ctx context.Context, itemID string, status domain.WorkItemStatus, delayReason string) (domain.WorkItem, error) {
	item, err := s.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	prev := item.Status
	now := s.clock()
	if err := item.SetStatus(status, delayReason, now); err != nil {
		return domain.WorkItem{}, err
	}
	event := changeEventFor(ctx, item, domain.ChangeOperationStatus, map[string]string{
		"from_status": string(prev),
		"to_status":   string(item.Status),
	}, now)
	if err := s.repo.UpdateWorkItem(ctx, item, event); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// ListPhaseHistory lists an item's phase visits in entry order.
func (s *Service) ListPhaseHistory(ctx context.Context, itemID string) ([]domain.PhaseHistoryEntry, error) {
	history, err := s.repo.ListPhaseHistory(ctx, itemID)
	if err != nil {
		return nil, err
	}
	domain.SortHistory(history)
	return history, nil
}

// LiveElapsedMinutes returns the display value of an item's time in its current phase.
func (s *Service) LiveElapsedMinutes(ctx context.Context, itemID string) (int, error) {
	item, err := s.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return domain.LiveElapsedMinutes(item, s.clock()), nil
}

// ListChangeEvents lists recent work-item activity for a campaign.
func (s *Service) ListChangeEvents(ctx context.Context, campaignID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = defaultChangeEventsLimit
	}
	return s.repo.ListCampaignChangeEvents(ctx, campaignID, limit)
}
