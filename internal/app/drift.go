package app

import (
	"context"
	"time"

	"github.com/evanschultz/cadence/internal/domain"
)

// DriftBoard is the live drift view of one campaign.
type DriftBoard struct {
	CampaignID string                   `json:"campaign_id"`
	Events     []domain.DriftEvent      `json:"events"`
	Health     domain.OperationalHealth `json:"health"`
	ComputedAt time.Time                `json:"computed_at"`
}

// ProjectedDrift recomputes live drift for one in-progress phase. ok is false for phases
// that are not running.
func (s *Service) ProjectedDrift(ctx context.Context, phaseID string) (domain.ProjectedDrift, bool, error) {
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.ProjectedDrift{}, false, err
	}
	projected, ok := phase.ProjectDrift(s.clock())
	return projected, ok, nil
}

// OperationalHealth scores campaign progress discounted by drift.
func (s *Service) OperationalHealth(ctx context.Context, campaignID string) (domain.OperationalHealth, error) {
	phases, err := s.repo.ListPhases(ctx, campaignID)
	if err != nil {
		return domain.OperationalHealth{}, err
	}
	return domain.ComputeOperationalHealth(phases, s.clock()), nil
}

// DriftBoard combines persisted completed-phase drift with projections for running phases.
// It never writes.
func (s *Service) DriftBoard(ctx context.Context, campaignID string) (DriftBoard, error) {
	if _, err := s.repo.GetCampaign(ctx, campaignID); err != nil {
		return DriftBoard{}, err
	}
	phases, err := s.ListPhases(ctx, campaignID)
	if err != nil {
		return DriftBoard{}, err
	}
	items, err := s.repo.ListWorkItems(ctx, campaignID)
	if err != nil {
		return DriftBoard{}, err
	}
	persisted, err := s.repo.ListDriftEvents(ctx, campaignID)
	if err != nil {
		return DriftBoard{}, err
	}
	byPhase := make(map[string]domain.DriftEvent, len(persisted))
	for _, event := range persisted {
		byPhase[event.PhaseID] = event
	}

	now := s.clock()
	board := DriftBoard{
		CampaignID: campaignID,
		Events:     make([]domain.DriftEvent, 0, len(phases)),
		Health:     domain.ComputeOperationalHealth(phases, now),
		ComputedAt: now.UTC(),
	}
	for _, phase := range phases {
		if event, ok := byPhase[phase.ID]; ok && phase.Status == domain.PhaseStatusCompleted {
			board.Events = append(board.Events, event)
			continue
		}
		if event, ok := domain.BuildDriftEvent(phase, items, now); ok {
			board.Events = append(board.Events, event)
		}
	}
	return board, nil
}

// WatchProjectedDrift recomputes the drift board on a ticker until ctx ends or fn fails.
// Intervals outside one second to one minute fall back to the configured poll interval
// or are clamped.
func (s *Service) WatchProjectedDrift(ctx context.Context, campaignID string, interval time.Duration, fn func(DriftBoard) error) error {
	if interval <= 0 {
		interval = s.pollInterval
	}
	interval = clampPollInterval(interval)

	emit := func() error {
		board, err := s.DriftBoard(ctx, campaignID)
		if err != nil {
			return err
		}
		return fn(board)
	}
	if err := emit(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := emit(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
