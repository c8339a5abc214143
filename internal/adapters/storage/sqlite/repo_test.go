package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
	_ "modernc.org/sqlite"
)

var _ app.Repository = (*Repository)(nil)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "cadence.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func seedCampaign(t *testing.T, repo *Repository, now time.Time) domain.Campaign {
	t.Helper()
	ctr := 0.021
	campaign, err := domain.NewCampaign(domain.CampaignInput{
		ID:         "c1",
		Name:       "Spring Launch",
		Category:   "product_launch",
		Budget:     15000,
		StartDate:  now,
		EndDate:    now.Add(30 * 24 * time.Hour),
		Team:       []domain.TeamMember{{ID: "ana", Name: "Ana"}},
		Benchmarks: domain.HistoricalBenchmarks{CTR: &ctr},
		Creative:   domain.CreativeStrategy{Format: "video", CTA: "shop now"},
	}, now)
	if err != nil {
		t.Fatalf("NewCampaign() error = %v", err)
	}
	if err := repo.CreateCampaign(context.Background(), campaign); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	return campaign
}

func seedPhase(t *testing.T, repo *Repository, campaignID, id string, number, planned int, now time.Time) domain.Phase {
	t.Helper()
	phase, err := domain.NewPhase(domain.PhaseInput{ID: id, CampaignID: campaignID, Name: "Phase " + id, PhaseNumber: number, PlannedDurationDays: planned}, now)
	if err != nil {
		t.Fatalf("NewPhase() error = %v", err)
	}
	if err := repo.CreatePhase(context.Background(), phase); err != nil {
		t.Fatalf("CreatePhase() error = %v", err)
	}
	return phase
}

func TestRepository_CampaignAndPhaseLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	campaign := seedCampaign(t, repo, now)

	loaded, err := repo.GetCampaign(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign() error = %v", err)
	}
	if loaded.Slug != "spring-launch" || len(loaded.Team) != 1 || loaded.Benchmarks.CTR == nil || *loaded.Benchmarks.CTR != 0.021 {
		t.Fatalf("unexpected campaign %#v", loaded)
	}
	if loaded.Creative.CTA != "shop now" || !loaded.StartDate.Equal(now) {
		t.Fatalf("expected creative and dates to round-trip, got %#v", loaded)
	}

	loaded.UpdateStrategy(domain.HistoricalBenchmarks{}, domain.CreativeStrategy{Theme: "renewal"}, now.Add(time.Hour))
	if err := repo.UpdateCampaign(ctx, loaded); err != nil {
		t.Fatalf("UpdateCampaign() error = %v", err)
	}
	campaigns, err := repo.ListCampaigns(ctx)
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(campaigns) != 1 || campaigns[0].Creative.Theme != "renewal" || campaigns[0].Benchmarks.CTR != nil {
		t.Fatalf("unexpected campaigns %#v", campaigns)
	}

	second := seedPhase(t, repo, campaign.ID, "p2", 2, 4, now)
	first := seedPhase(t, repo, campaign.ID, "p1", 1, 5, now)
	if err := first.Start(now); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := repo.UpdatePhase(ctx, first); err != nil {
		t.Fatalf("UpdatePhase() error = %v", err)
	}
	phases, err := repo.ListPhases(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListPhases() error = %v", err)
	}
	if len(phases) != 2 || phases[0].ID != first.ID || phases[1].ID != second.ID {
		t.Fatalf("expected phases ordered by number, got %#v", phases)
	}
	if phases[0].Status != domain.PhaseStatusInProgress || phases[0].ActualStartDate == nil || phases[0].DriftDays != nil {
		t.Fatalf("unexpected started phase %#v", phases[0])
	}
}

func TestRepository_CompletePhaseWritesDriftEvent(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	campaign := seedCampaign(t, repo, now)
	phase := seedPhase(t, repo, campaign.ID, "p1", 1, 5, now)
	if err := phase.Start(now); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	end := now.Add(8 * 24 * time.Hour)
	if _, err := phase.Complete(end); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	event, ok := domain.BuildDriftEvent(phase, nil, end)
	if !ok {
		t.Fatal("expected drift event")
	}
	event.ID = "d1"
	if err := repo.CompletePhase(ctx, phase, event); err != nil {
		t.Fatalf("CompletePhase() error = %v", err)
	}

	loaded, err := repo.GetPhase(ctx, phase.ID)
	if err != nil {
		t.Fatalf("GetPhase() error = %v", err)
	}
	if loaded.DriftDays == nil || *loaded.DriftDays != 3 || *loaded.ActualDurationDays != 8 || loaded.DriftType != domain.DriftNegative {
		t.Fatalf("unexpected completed phase %#v", loaded)
	}
	events, err := repo.ListDriftEvents(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListDriftEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].DriftDays != 3 || !events[0].OccurredAt.Equal(end) || events[0].Status != domain.DriftEventCompleted {
		t.Fatalf("unexpected drift events %#v", events)
	}

	missing := phase
	missing.ID = "nope"
	event.ID = "d2"
	if err := repo.CompletePhase(ctx, missing, event); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound, got %v", err)
	}
	events, _ = repo.ListDriftEvents(ctx, campaign.ID)
	if len(events) != 1 {
		t.Fatalf("expected failed completion to roll back, got %#v", events)
	}
}

func TestRepository_WorkItemMoveIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	campaign := seedCampaign(t, repo, now)
	draft := seedPhase(t, repo, campaign.ID, "p1", 1, 3, now)
	review := seedPhase(t, repo, campaign.ID, "p2", 2, 2, now)

	due := now.Add(48 * time.Hour)
	item, err := domain.NewWorkItem(domain.WorkItemInput{ID: "w1", CampaignID: campaign.ID, Title: "Hero video", AssigneeID: "ana", DueAt: &due}, now)
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	createEvent := domain.ChangeEvent{CampaignID: campaign.ID, WorkItemID: item.ID, Operation: domain.ChangeOperationCreate, OccurredAt: now}
	if err := repo.CreateWorkItem(ctx, item, createEvent); err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}

	apply := func(from, to *domain.Phase, entryID string, at time.Time) domain.PhaseMove {
		t.Helper()
		current, err := repo.GetWorkItem(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetWorkItem() error = %v", err)
		}
		history, err := repo.ListPhaseHistory(ctx, item.ID)
		if err != nil {
			t.Fatalf("ListPhaseHistory() error = %v", err)
		}
		move, err := domain.MoveItem(current, from, to, history, domain.MoveOptions{EntryID: entryID}, at)
		if err != nil {
			t.Fatalf("MoveItem() error = %v", err)
		}
		err = repo.ApplyWorkItemMove(ctx, app.WorkItemMove{
			Item:   move.Item,
			Closed: move.Closed,
			Opened: move.Opened,
			Event: domain.ChangeEvent{
				CampaignID: campaign.ID,
				WorkItemID: item.ID,
				Operation:  domain.ChangeOperationMove,
				ActorID:    "planner-bot",
				ActorType:  domain.ActorTypeAgent,
				Metadata:   map[string]string{"to_phase_id": move.Item.PhaseID},
				OccurredAt: at,
			},
		})
		if err != nil {
			t.Fatalf("ApplyWorkItemMove() error = %v", err)
		}
		return move
	}

	apply(nil, &draft, "h1", now)
	apply(&draft, &review, "h2", now.Add(30*time.Minute))
	back := apply(&review, &draft, "h3", now.Add(50*time.Minute))
	if back.Item.TimeInPhaseMinutes != 30 {
		t.Fatalf("expected 30 carried minutes, got %d", back.Item.TimeInPhaseMinutes)
	}

	loaded, err := repo.GetWorkItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if loaded.PhaseID != draft.ID || loaded.TimeInPhaseMinutes != 30 || loaded.Status != domain.StatusInProgress {
		t.Fatalf("unexpected stored item %#v", loaded)
	}
	if len(loaded.CompletedPhases) != 1 || loaded.CompletedPhases[0] != review.ID {
		t.Fatalf("unexpected completed phases %#v", loaded.CompletedPhases)
	}
	if loaded.DueAt == nil || !loaded.DueAt.Equal(due) {
		t.Fatalf("expected due date to round-trip, got %#v", loaded.DueAt)
	}

	history, err := repo.ListCampaignPhaseHistory(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListCampaignPhaseHistory() error = %v", err)
	}
	if len(history) != 3 || history[0].TimeSpentMinutes != 30 || history[1].TimeSpentMinutes != 20 || history[2].IsClosed() {
		t.Fatalf("unexpected history %#v", history)
	}

	// A move whose exit entry is missing must not touch the item.
	broken := loaded
	broken.PhaseID = review.ID
	exited := now.Add(time.Hour)
	err = repo.ApplyWorkItemMove(ctx, app.WorkItemMove{
		Item:   broken,
		Closed: &domain.PhaseHistoryEntry{ID: "ghost", ExitedAt: &exited},
		Event:  domain.ChangeEvent{CampaignID: campaign.ID, WorkItemID: item.ID, Operation: domain.ChangeOperationMove},
	})
	if !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for missing history entry, got %v", err)
	}
	after, _ := repo.GetWorkItem(ctx, item.ID)
	if after.PhaseID != draft.ID {
		t.Fatalf("expected rollback to keep item in draft, got %q", after.PhaseID)
	}

	events, err := repo.ListCampaignChangeEvents(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("ListCampaignChangeEvents() error = %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected create + 3 moves, got %d", len(events))
	}
	latest := events[0]
	if latest.Operation != domain.ChangeOperationMove || latest.ActorType != domain.ActorTypeAgent || latest.Metadata["to_phase_id"] != draft.ID {
		t.Fatalf("unexpected latest event %#v", latest)
	}
	oldest := events[len(events)-1]
	if oldest.ActorID != defaultActorID || oldest.ActorType != domain.ActorTypeUser {
		t.Fatalf("expected default actor on create event, got %#v", oldest)
	}
}

func TestRepository_RiskOverrideAndReports(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	campaign := seedCampaign(t, repo, now)

	assessment := domain.AssessRisk(domain.RiskInput{Campaign: campaign, CategoryBenchmark: 15000, MaxActiveItemsPerMember: 5})
	assessment.ID = "r1"
	assessment.AssessedAt = now
	if err := repo.SaveRiskAssessment(ctx, assessment); err != nil {
		t.Fatalf("SaveRiskAssessment() error = %v", err)
	}
	loaded, err := repo.GetRiskAssessment(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRiskAssessment() error = %v", err)
	}
	if loaded.OverallScore != assessment.OverallScore || len(loaded.Factors) != 5 || len(loaded.MitigationSuggestions) != len(assessment.MitigationSuggestions) {
		t.Fatalf("unexpected assessment %#v", loaded)
	}

	override, err := domain.NewOverrideEvent(domain.OverrideInput{ID: "o1", CampaignID: campaign.ID, Assessment: loaded, ActualAction: domain.GateProceed, Reason: "fixed date"}, now)
	if err != nil {
		t.Fatalf("NewOverrideEvent() error = %v", err)
	}
	if err := repo.SaveOverride(ctx, override); err != nil {
		t.Fatalf("SaveOverride() error = %v", err)
	}
	stored, err := repo.GetOverride(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOverride() error = %v", err)
	}
	if stored.Justified != nil || stored.ReconciledAt != nil {
		t.Fatalf("expected unreconciled override, got %#v", stored)
	}
	if err := stored.Reconcile(domain.OutcomeFailure, "missed target", now.Add(time.Hour)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if err := repo.SaveOverride(ctx, stored); err != nil {
		t.Fatalf("SaveOverride(reconciled) error = %v", err)
	}
	overrides, err := repo.ListOverrides(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListOverrides() error = %v", err)
	}
	if len(overrides) != 1 || overrides[0].Justified == nil || overrides[0].Outcome != domain.OutcomeFailure {
		t.Fatalf("unexpected overrides %#v", overrides)
	}
	if *overrides[0].Justified != *stored.Justified {
		t.Fatalf("justified flag did not round-trip: %#v", overrides[0])
	}

	for i, sales := range []float64{1200, 500} {
		report, err := domain.NewPerformanceReport(domain.PerformanceReportInput{
			ID:           []string{"wk2", "wk1"}[i],
			CampaignID:   campaign.ID,
			WeekStarting: now.Add(time.Duration(1-i) * 7 * 24 * time.Hour),
			TotalSales:   sales,
		}, now)
		if err != nil {
			t.Fatalf("NewPerformanceReport() error = %v", err)
		}
		if err := repo.SavePerformanceReport(ctx, report); err != nil {
			t.Fatalf("SavePerformanceReport() error = %v", err)
		}
	}
	reports, err := repo.ListPerformanceReports(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListPerformanceReports() error = %v", err)
	}
	if len(reports) != 2 || reports[0].ID != "wk1" || !reports[0].WeekStarting.Before(reports[1].WeekStarting) {
		t.Fatalf("expected reports ordered by week, got %#v", reports)
	}
}

func TestRepository_ReplaceCorrelationInsights(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	campaign := seedCampaign(t, repo, now)

	insight := func(id string, confidence int) domain.CorrelationInsight {
		return domain.CorrelationInsight{
			ID:                  id,
			CampaignID:          campaign.ID,
			Event:               domain.ExecutionEvent{Type: domain.EventDelay, Description: "late", Date: now, DriftDays: 3, PhaseID: "p1"},
			MetricChanges:       []domain.MetricChange{{Metric: domain.MetricSales, Before: 1200, After: 500, ChangePct: -58.33}},
			PerformanceImpact:   domain.ImpactNegative,
			CorrelationStrength: domain.StrengthStrong,
			Confidence:          confidence,
			Analysis:            "slip",
			Source:              domain.SourceFallback,
			CreatedAt:           now,
		}
	}
	if err := repo.ReplaceCorrelationInsights(ctx, campaign.ID, []domain.CorrelationInsight{insight("i1", 40), insight("i2", 80)}); err != nil {
		t.Fatalf("ReplaceCorrelationInsights() error = %v", err)
	}
	if err := repo.ReplaceCorrelationInsights(ctx, campaign.ID, []domain.CorrelationInsight{insight("i3", 40), insight("i4", 90)}); err != nil {
		t.Fatalf("ReplaceCorrelationInsights(second) error = %v", err)
	}
	got, err := repo.ListCorrelationInsights(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListCorrelationInsights() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "i4" || got[1].ID != "i3" {
		t.Fatalf("expected replaced insights by confidence, got %#v", got)
	}
	if got[0].Event.DriftDays != 3 || len(got[0].MetricChanges) != 1 || got[0].MetricChanges[0].ChangePct != -58.33 {
		t.Fatalf("expected event payload to round-trip, got %#v", got[0])
	}
}

func TestRepository_NotFoundCases(t *testing.T) {
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	ctx := context.Background()
	if _, err := repo.GetCampaign(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for campaign, got %v", err)
	}
	if _, err := repo.GetPhase(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for phase, got %v", err)
	}
	if _, err := repo.GetWorkItem(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for work item, got %v", err)
	}
	if _, err := repo.GetRiskAssessment(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for assessment, got %v", err)
	}
	if _, err := repo.GetOverride(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for override, got %v", err)
	}
	if err := repo.UpdateCampaign(ctx, domain.Campaign{ID: "missing"}); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for UpdateCampaign, got %v", err)
	}
	if err := repo.UpdatePhase(ctx, domain.Phase{ID: "missing"}); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for UpdatePhase, got %v", err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestRepositoryOpenValidation(t *testing.T) {
	if _, err := Open("   "); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}
