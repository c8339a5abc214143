// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
)

// DateLayout is the calendar-date format accepted for date-only request fields.
const DateLayout = "2006-01-02"

// ErrInvalidRequest reports malformed transport input or a rejected invariant.
var ErrInvalidRequest = errors.New("invalid request")

// ErrConflict reports a request that is well-formed but not allowed in the current state.
var ErrConflict = errors.New("conflict")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrUnavailable reports a transport surface whose backing service is not configured.
var ErrUnavailable = errors.New("service unavailable")

// Campaign is the transport view of one campaign.
type Campaign struct {
	ID           string                      `json:"id"`
	Slug         string                      `json:"slug"`
	Name         string                      `json:"name"`
	Category     string                      `json:"category"`
	Budget       float64                     `json:"budget"`
	StartDate    string                      `json:"start_date"`
	EndDate      string                      `json:"end_date"`
	CampaignDays int                         `json:"campaign_days"`
	Team         []domain.TeamMember         `json:"team"`
	Benchmarks   domain.HistoricalBenchmarks `json:"historical_benchmarks"`
	Creative     domain.CreativeStrategy     `json:"creative_strategy"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// Phase is the transport view of one campaign phase.
type Phase struct {
	ID                  string     `json:"id"`
	CampaignID          string     `json:"campaign_id"`
	Name                string     `json:"name"`
	PhaseNumber         int        `json:"phase_number"`
	PlannedDurationDays int        `json:"planned_duration_days"`
	PlannedEndDate      *time.Time `json:"planned_end_date,omitempty"`
	Status              string     `json:"status"`
	ActualStartDate     *time.Time `json:"actual_start_date,omitempty"`
	ActualEndDate       *time.Time `json:"actual_end_date,omitempty"`
	ActualDurationDays  *int       `json:"actual_duration_days,omitempty"`
	DriftDays           *int       `json:"drift_days,omitempty"`
	DriftType           string     `json:"drift_type,omitempty"`
	RootCause           string     `json:"root_cause,omitempty"`
	Attribution         string     `json:"attribution,omitempty"`
}

// WorkItem is the transport view of one work item with its live elapsed time.
type WorkItem struct {
	ID                 string     `json:"id"`
	CampaignID         string     `json:"campaign_id"`
	PhaseID            string     `json:"phase_id,omitempty"`
	Title              string     `json:"title"`
	AssigneeID         string     `json:"assignee_id,omitempty"`
	Status             string     `json:"status"`
	Position           int        `json:"position"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	TimeInPhaseMinutes int        `json:"time_in_phase_minutes"`
	LiveElapsedMinutes int        `json:"live_elapsed_minutes"`
	CompletedPhases    []string   `json:"completed_phases"`
	DelayReason        string     `json:"delay_reason,omitempty"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// ChangeEvent is the transport view of one activity-ledger row.
type ChangeEvent struct {
	ID         int64             `json:"id"`
	WorkItemID string            `json:"work_item_id"`
	Operation  string            `json:"operation"`
	ActorID    string            `json:"actor_id"`
	ActorType  string            `json:"actor_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// CreateCampaignRequest captures input for a new campaign. Dates use DateLayout or RFC3339.
type CreateCampaignRequest struct {
	Name       string                      `json:"name"`
	Category   string                      `json:"category"`
	Budget     float64                     `json:"budget"`
	StartDate  string                      `json:"start_date"`
	EndDate    string                      `json:"end_date"`
	Team       []domain.TeamMember         `json:"team,omitempty"`
	Benchmarks domain.HistoricalBenchmarks `json:"historical_benchmarks"`
	Creative   domain.CreativeStrategy     `json:"creative_strategy"`
}

// CreatePhaseRequest captures input for a new phase.
type CreatePhaseRequest struct {
	CampaignID          string `json:"campaign_id"`
	Name                string `json:"name"`
	PlannedDurationDays int    `json:"planned_duration_days"`
	PlannedEndDate      string `json:"planned_end_date,omitempty"`
	PhaseNumber         int    `json:"phase_number,omitempty"`
}

// CompletePhaseRequest captures input for closing a phase.
type CompletePhaseRequest struct {
	PhaseID     string `json:"phase_id"`
	RootCause   string `json:"root_cause,omitempty"`
	Attribution string `json:"attribution,omitempty"`
}

// CompletePhaseResult returns the closed phase and its persisted drift event.
type CompletePhaseResult struct {
	Phase      Phase             `json:"phase"`
	DriftEvent domain.DriftEvent `json:"drift_event"`
}

// ProjectedDriftResult reports live drift; Running is false for phases not in progress.
type ProjectedDriftResult struct {
	Running   bool                   `json:"running"`
	Projected *domain.ProjectedDrift `json:"projected,omitempty"`
}

// CreateWorkItemRequest captures input for a new backlog item.
type CreateWorkItemRequest struct {
	CampaignID string `json:"campaign_id"`
	Title      string `json:"title"`
	AssigneeID string `json:"assignee_id,omitempty"`
	DueAt      string `json:"due_at,omitempty"`
}

// MoveWorkItemRequest captures one phase move. An empty ToPhaseID returns the item to backlog.
type MoveWorkItemRequest struct {
	ItemID    string `json:"item_id"`
	ToPhaseID string `json:"to_phase_id"`
	Restart   bool   `json:"restart,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"`
}

// SetWorkItemStatusRequest captures a status change.
type SetWorkItemStatusRequest struct {
	ItemID      string `json:"item_id"`
	Status      string `json:"status"`
	DelayReason string `json:"delay_reason,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	ActorType   string `json:"actor_type,omitempty"`
}

// RecordOverrideRequest captures a human gate decision.
type RecordOverrideRequest struct {
	CampaignID   string `json:"campaign_id"`
	AssessmentID string `json:"assessment_id,omitempty"`
	ActualAction string `json:"actual_action"`
	Reason       string `json:"reason"`
}

// ReconcileOverrideRequest captures the observed outcome of an override.
type ReconcileOverrideRequest struct {
	OverrideID string `json:"override_id"`
	Outcome    string `json:"outcome"`
	Notes      string `json:"notes,omitempty"`
}

// RecordReportRequest captures one weekly performance report.
type RecordReportRequest struct {
	CampaignID      string  `json:"campaign_id"`
	WeekStarting    string  `json:"week_starting"`
	TotalSales      float64 `json:"total_sales"`
	TotalRevenue    float64 `json:"total_revenue"`
	TotalEngagement float64 `json:"total_engagement"`
	Views           float64 `json:"views"`
}

// CampaignService exposes campaign and phase operations.
type CampaignService interface {
	ListCampaigns(context.Context) ([]Campaign, error)
	GetCampaign(context.Context, string) (Campaign, error)
	CreateCampaign(context.Context, CreateCampaignRequest) (Campaign, error)
	ListPhases(context.Context, string) ([]Phase, error)
	CreatePhase(context.Context, CreatePhaseRequest) (Phase, error)
	StartPhase(context.Context, string) (Phase, error)
	CompletePhase(context.Context, CompletePhaseRequest) (CompletePhaseResult, error)
	ProjectedDrift(context.Context, string) (ProjectedDriftResult, error)
}

// WorkItemService exposes work-item board operations.
type WorkItemService interface {
	ListWorkItems(context.Context, string) ([]WorkItem, error)
	CreateWorkItem(context.Context, CreateWorkItemRequest) (WorkItem, error)
	MoveWorkItem(context.Context, MoveWorkItemRequest) (WorkItem, error)
	SetWorkItemStatus(context.Context, SetWorkItemStatusRequest) (WorkItem, error)
	ListPhaseHistory(context.Context, string) ([]domain.PhaseHistoryEntry, error)
	ListChangeEvents(context.Context, string, int) ([]ChangeEvent, error)
}

// HealthService exposes drift and operational health reads.
type HealthService interface {
	DriftBoard(context.Context, string) (app.DriftBoard, error)
	OperationalHealth(context.Context, string) (domain.OperationalHealth, error)
}

// RiskService exposes the launch gate.
type RiskService interface {
	AssessRisk(context.Context, string) (domain.RiskAssessment, error)
	RecordOverride(context.Context, RecordOverrideRequest) (domain.OverrideEvent, error)
	ReconcileOverride(context.Context, ReconcileOverrideRequest) (domain.OverrideEvent, error)
}

// CorrelationService exposes performance intake and correlation analysis.
type CorrelationService interface {
	ListReports(context.Context, string) ([]domain.PerformanceReport, error)
	RecordReport(context.Context, RecordReportRequest) (domain.PerformanceReport, error)
	AnalyzeCorrelations(context.Context, string) (app.CorrelationReport, error)
}

// EngineService is the full surface served by the HTTP and MCP adapters.
type EngineService interface {
	CampaignService
	WorkItemService
	HealthService
	RiskService
	CorrelationService
}
