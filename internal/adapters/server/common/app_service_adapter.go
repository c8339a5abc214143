package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
	now     func() time.Time
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service, now: time.Now}
}

var _ EngineService = (*AppServiceAdapter)(nil)

// ListCampaigns lists campaigns by start date.
func (a *AppServiceAdapter) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	campaigns, err := a.service.ListCampaigns(ctx)
	if err != nil {
		return nil, mapAppError("list campaigns", err)
	}
	out := make([]Campaign, 0, len(campaigns))
	for _, campaign := range campaigns {
		out = append(out, mapCampaign(campaign))
	}
	return out, nil
}

// GetCampaign returns one campaign.
func (a *AppServiceAdapter) GetCampaign(ctx context.Context, campaignID string) (Campaign, error) {
	if err := a.ready(); err != nil {
		return Campaign{}, err
	}
	campaign, err := a.service.GetCampaign(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return Campaign{}, mapAppError("get campaign", err)
	}
	return mapCampaign(campaign), nil
}

// CreateCampaign validates dates and creates one campaign.
func (a *AppServiceAdapter) CreateCampaign(ctx context.Context, in CreateCampaignRequest) (Campaign, error) {
	if err := a.ready(); err != nil {
		return Campaign{}, err
	}
	start, err := parseDate("start_date", in.StartDate, true)
	if err != nil {
		return Campaign{}, err
	}
	end, err := parseDate("end_date", in.EndDate, true)
	if err != nil {
		return Campaign{}, err
	}
	campaign, err := a.service.CreateCampaign(ctx, app.CreateCampaignInput{
		Name:       in.Name,
		Category:   in.Category,
		Budget:     in.Budget,
		StartDate:  *start,
		EndDate:    *end,
		Team:       in.Team,
		Benchmarks: in.Benchmarks,
		Creative:   in.Creative,
	})
	if err != nil {
		return Campaign{}, mapAppError("create campaign", err)
	}
	return mapCampaign(campaign), nil
}

// ListPhases lists a campaign's phases in phase order.
func (a *AppServiceAdapter) ListPhases(ctx context.Context, campaignID string) ([]Phase, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	phases, err := a.service.ListPhases(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return nil, mapAppError("list phases", err)
	}
	out := make([]Phase, 0, len(phases))
	for _, phase := range phases {
		out = append(out, mapPhase(phase))
	}
	return out, nil
}

// CreatePhase creates one phase.
func (a *AppServiceAdapter) CreatePhase(ctx context.Context, in CreatePhaseRequest) (Phase, error) {
	if err := a.ready(); err != nil {
		return Phase{}, err
	}
	plannedEnd, err := parseDate("planned_end_date", in.PlannedEndDate, false)
	if err != nil {
		return Phase{}, err
	}
	phase, err := a.service.CreatePhase(ctx, app.CreatePhaseInput{
		CampaignID:          strings.TrimSpace(in.CampaignID),
		Name:                in.Name,
		PlannedDurationDays: in.PlannedDurationDays,
		PlannedEndDate:      plannedEnd,
		PhaseNumber:         in.PhaseNumber,
	})
	if err != nil {
		return Phase{}, mapAppError("create phase", err)
	}
	return mapPhase(phase), nil
}

// StartPhase records a phase's actual start.
func (a *AppServiceAdapter) StartPhase(ctx context.Context, phaseID string) (Phase, error) {
	if err := a.ready(); err != nil {
		return Phase{}, err
	}
	phase, err := a.service.StartPhase(ctx, strings.TrimSpace(phaseID))
	if err != nil {
		return Phase{}, mapAppError("start phase", err)
	}
	return mapPhase(phase), nil
}

// CompletePhase closes a phase and returns its drift event.
func (a *AppServiceAdapter) CompletePhase(ctx context.Context, in CompletePhaseRequest) (CompletePhaseResult, error) {
	if err := a.ready(); err != nil {
		return CompletePhaseResult{}, err
	}
	phase, event, err := a.service.CompletePhase(ctx, app.CompletePhaseInput{
		PhaseID:     strings.TrimSpace(in.PhaseID),
		RootCause:   in.RootCause,
		Attribution: in.Attribution,
	})
	if err != nil {
		return CompletePhaseResult{}, mapAppError("complete phase", err)
	}
	return CompletePhaseResult{Phase: mapPhase(phase), DriftEvent: event}, nil
}

// ProjectedDrift returns live drift for one phase.
func (a *AppServiceAdapter) ProjectedDrift(ctx context.Context, phaseID string) (ProjectedDriftResult, error) {
	if err := a.ready(); err != nil {
		return ProjectedDriftResult{}, err
	}
	projected, ok, err := a.service.ProjectedDrift(ctx, strings.TrimSpace(phaseID))
	if err != nil {
		return ProjectedDriftResult{}, mapAppError("projected drift", err)
	}
	if !ok {
		return ProjectedDriftResult{}, nil
	}
	return ProjectedDriftResult{Running: true, Projected: &projected}, nil
}

// ListWorkItems lists a campaign's items.
func (a *AppServiceAdapter) ListWorkItems(ctx context.Context, campaignID string) ([]WorkItem, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	items, err := a.service.ListWorkItems(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return nil, mapAppError("list work items", err)
	}
	now := a.now()
	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		out = append(out, mapWorkItem(item, now))
	}
	return out, nil
}

// CreateWorkItem creates one backlog item.
func (a *AppServiceAdapter) CreateWorkItem(ctx context.Context, in CreateWorkItemRequest) (WorkItem, error) {
	if err := a.ready(); err != nil {
		return WorkItem{}, err
	}
	dueAt, err := parseDate("due_at", in.DueAt, false)
	if err != nil {
		return WorkItem{}, err
	}
	item, err := a.service.CreateWorkItem(ctx, app.CreateWorkItemInput{
		CampaignID: strings.TrimSpace(in.CampaignID),
		Title:      in.Title,
		AssigneeID: in.AssigneeID,
		DueAt:      dueAt,
	})
	if err != nil {
		return WorkItem{}, mapAppError("create work item", err)
	}
	return mapWorkItem(item, a.now()), nil
}

// MoveWorkItem moves one item between phases under the caller's identity.
func (a *AppServiceAdapter) MoveWorkItem(ctx context.Context, in MoveWorkItemRequest) (WorkItem, error) {
	if err := a.ready(); err != nil {
		return WorkItem{}, err
	}
	ctx = withActor(ctx, in.ActorID, in.ActorType)
	item, err := a.service.MoveWorkItem(ctx, app.MoveWorkItemInput{
		ItemID:    strings.TrimSpace(in.ItemID),
		ToPhaseID: strings.TrimSpace(in.ToPhaseID),
		Restart:   in.Restart,
	})
	if err != nil {
		return WorkItem{}, mapAppError("move work item", err)
	}
	return mapWorkItem(item, a.now()), nil
}

// SetWorkItemStatus changes one item's status.
func (a *AppServiceAdapter) SetWorkItemStatus(ctx context.Context, in SetWorkItemStatusRequest) (WorkItem, error) {
	if err := a.ready(); err != nil {
		return WorkItem{}, err
	}
	ctx = withActor(ctx, in.ActorID, in.ActorType)
	status := domain.WorkItemStatus(strings.ToLower(strings.TrimSpace(in.Status)))
	item, err := a.service.SetWorkItemStatus(ctx, strings.TrimSpace(in.ItemID), status, in.DelayReason)
	if err != nil {
		return WorkItem{}, mapAppError("set work item status", err)
	}
	return mapWorkItem(item, a.now()), nil
}

// ListPhaseHistory lists one item's phase visits.
func (a *AppServiceAdapter) ListPhaseHistory(ctx context.Context, itemID string) ([]domain.PhaseHistoryEntry, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	history, err := a.service.ListPhaseHistory(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return nil, mapAppError("list phase history", err)
	}
	return history, nil
}

// ListChangeEvents lists recent activity for one campaign.
func (a *AppServiceAdapter) ListChangeEvents(ctx context.Context, campaignID string, limit int) ([]ChangeEvent, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	events, err := a.service.ListChangeEvents(ctx, strings.TrimSpace(campaignID), limit)
	if err != nil {
		return nil, mapAppError("list change events", err)
	}
	out := make([]ChangeEvent, 0, len(events))
	for _, event := range events {
		out = append(out, ChangeEvent{
			ID:         event.ID,
			WorkItemID: event.WorkItemID,
			Operation:  string(event.Operation),
			ActorID:    event.ActorID,
			ActorType:  string(event.ActorType),
			Metadata:   event.Metadata,
			OccurredAt: event.OccurredAt,
		})
	}
	return out, nil
}

// DriftBoard returns persisted and projected drift for a campaign.
func (a *AppServiceAdapter) DriftBoard(ctx context.Context, campaignID string) (app.DriftBoard, error) {
	if err := a.ready(); err != nil {
		return app.DriftBoard{}, err
	}
	board, err := a.service.DriftBoard(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return app.DriftBoard{}, mapAppError("drift board", err)
	}
	return board, nil
}

// OperationalHealth returns the campaign health score.
func (a *AppServiceAdapter) OperationalHealth(ctx context.Context, campaignID string) (domain.OperationalHealth, error) {
	if err := a.ready(); err != nil {
		return domain.OperationalHealth{}, err
	}
	campaignID = strings.TrimSpace(campaignID)
	if _, err := a.service.GetCampaign(ctx, campaignID); err != nil {
		return domain.OperationalHealth{}, mapAppError("operational health", err)
	}
	health, err := a.service.OperationalHealth(ctx, campaignID)
	if err != nil {
		return domain.OperationalHealth{}, mapAppError("operational health", err)
	}
	return health, nil
}

// AssessRisk scores and stores a risk assessment.
func (a *AppServiceAdapter) AssessRisk(ctx context.Context, campaignID string) (domain.RiskAssessment, error) {
	if err := a.ready(); err != nil {
		return domain.RiskAssessment{}, err
	}
	assessment, err := a.service.AssessRisk(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return domain.RiskAssessment{}, mapAppError("assess risk", err)
	}
	return assessment, nil
}

// RecordOverride stores a human gate decision.
func (a *AppServiceAdapter) RecordOverride(ctx context.Context, in RecordOverrideRequest) (domain.OverrideEvent, error) {
	if err := a.ready(); err != nil {
		return domain.OverrideEvent{}, err
	}
	override, err := a.service.RecordOverride(ctx, app.RecordOverrideInput{
		CampaignID:   strings.TrimSpace(in.CampaignID),
		AssessmentID: strings.TrimSpace(in.AssessmentID),
		ActualAction: domain.GateDecision(strings.ToLower(strings.TrimSpace(in.ActualAction))),
		Reason:       in.Reason,
	})
	if err != nil {
		return domain.OverrideEvent{}, mapAppError("record override", err)
	}
	return override, nil
}

// ReconcileOverride records an override outcome.
func (a *AppServiceAdapter) ReconcileOverride(ctx context.Context, in ReconcileOverrideRequest) (domain.OverrideEvent, error) {
	if err := a.ready(); err != nil {
		return domain.OverrideEvent{}, err
	}
	override, err := a.service.ReconcileOverride(ctx, strings.TrimSpace(in.OverrideID), domain.OverrideOutcome(in.Outcome), in.Notes)
	if err != nil {
		return domain.OverrideEvent{}, mapAppError("reconcile override", err)
	}
	return override, nil
}

// ListReports lists a campaign's performance reports by week.
func (a *AppServiceAdapter) ListReports(ctx context.Context, campaignID string) ([]domain.PerformanceReport, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	reports, err := a.service.ListPerformanceReports(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return nil, mapAppError("list reports", err)
	}
	return reports, nil
}

// RecordReport stores one weekly performance report.
func (a *AppServiceAdapter) RecordReport(ctx context.Context, in RecordReportRequest) (domain.PerformanceReport, error) {
	if err := a.ready(); err != nil {
		return domain.PerformanceReport{}, err
	}
	week, err := parseDate("week_starting", in.WeekStarting, true)
	if err != nil {
		return domain.PerformanceReport{}, err
	}
	report, err := a.service.RecordPerformanceReport(ctx, app.RecordPerformanceReportInput{
		CampaignID:      strings.TrimSpace(in.CampaignID),
		WeekStarting:    *week,
		TotalSales:      in.TotalSales,
		TotalRevenue:    in.TotalRevenue,
		TotalEngagement: in.TotalEngagement,
		Views:           in.Views,
	})
	if err != nil {
		return domain.PerformanceReport{}, mapAppError("record report", err)
	}
	return report, nil
}

// AnalyzeCorrelations runs correlation analysis for a campaign.
func (a *AppServiceAdapter) AnalyzeCorrelations(ctx context.Context, campaignID string) (app.CorrelationReport, error) {
	if err := a.ready(); err != nil {
		return app.CorrelationReport{}, err
	}
	report, err := a.service.AnalyzeCorrelations(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return app.CorrelationReport{}, mapAppError("analyze correlations", err)
	}
	return report, nil
}

// ready reports whether the adapter has a backing service.
func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// withActor attaches caller identity when the transport supplied one.
func withActor(ctx context.Context, actorID, actorType string) context.Context {
	if strings.TrimSpace(actorID) == "" {
		return ctx
	}
	return app.WithMutationActor(ctx, app.MutationActor{
		ActorID:   actorID,
		ActorType: domain.ActorType(actorType),
	})
}

// parseDate accepts DateLayout or RFC3339 values; optional empty values return nil.
func parseDate(field, raw string, required bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%s is required: %w", field, ErrInvalidRequest)
		}
		return nil, nil
	}
	if ts, err := time.Parse(DateLayout, raw); err == nil {
		return &ts, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be %s or RFC3339: %w", field, DateLayout, ErrInvalidRequest)
	}
	ts = ts.UTC()
	return &ts, nil
}

// mapCampaign converts one domain campaign into its transport view.
func mapCampaign(c domain.Campaign) Campaign {
	team := c.Team
	if team == nil {
		team = []domain.TeamMember{}
	}
	return Campaign{
		ID:           c.ID,
		Slug:         c.Slug,
		Name:         c.Name,
		Category:     c.Category,
		Budget:       c.Budget,
		StartDate:    c.StartDate.UTC().Format(DateLayout),
		EndDate:      c.EndDate.UTC().Format(DateLayout),
		CampaignDays: c.DurationDays(),
		Team:         team,
		Benchmarks:   c.Benchmarks,
		Creative:     c.Creative,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// mapPhase converts one domain phase into its transport view.
func mapPhase(p domain.Phase) Phase {
	return Phase{
		ID:                  p.ID,
		CampaignID:          p.CampaignID,
		Name:                p.Name,
		PhaseNumber:         p.PhaseNumber,
		PlannedDurationDays: p.PlannedDurationDays,
		PlannedEndDate:      p.PlannedEndDate,
		Status:              string(p.Status),
		ActualStartDate:     p.ActualStartDate,
		ActualEndDate:       p.ActualEndDate,
		ActualDurationDays:  p.ActualDurationDays,
		DriftDays:           p.DriftDays,
		DriftType:           string(p.DriftType),
		RootCause:           p.RootCause,
		Attribution:         p.Attribution,
	}
}

// mapWorkItem converts one domain item into its transport view at now.
func mapWorkItem(w domain.WorkItem, now time.Time) WorkItem {
	completed := w.CompletedPhases
	if completed == nil {
		completed = []string{}
	}
	return WorkItem{
		ID:                 w.ID,
		CampaignID:         w.CampaignID,
		PhaseID:            w.PhaseID,
		Title:              w.Title,
		AssigneeID:         w.AssigneeID,
		Status:             string(w.Status),
		Position:           w.Position,
		StartedAt:          w.StartedAt,
		TimeInPhaseMinutes: w.TimeInPhaseMinutes,
		LiveElapsedMinutes: domain.LiveElapsedMinutes(w, now),
		CompletedPhases:    completed,
		DelayReason:        w.DelayReason,
		DueAt:              w.DueAt,
		CompletedAt:        w.CompletedAt,
	}
}

// mapAppError maps app/domain errors into transport-facing sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrNoAssessment),
		errors.Is(err, domain.ErrPhaseNotStarted),
		errors.Is(err, domain.ErrPhaseAlreadyCompleted),
		errors.Is(err, domain.ErrOverrideAlreadyReconciled):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidPhaseStatus),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidBudget),
		errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrInvalidReport),
		errors.Is(err, domain.ErrInvalidCategory),
		errors.Is(err, domain.ErrPhaseCampaignMismatch),
		errors.Is(err, domain.ErrInvalidGateDecision),
		errors.Is(err, domain.ErrInvalidOutcome):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
