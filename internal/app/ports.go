package app

import (
	"context"

	"github.com/evanschultz/cadence/internal/domain"
)

// Repository represents repository data used by this package.
type Repository interface {
	CreateCampaign(context.Context, domain.Campaign) error
	UpdateCampaign(context.Context, domain.Campaign) error
	GetCampaign(context.Context, string) (domain.Campaign, error)
	ListCampaigns(context.Context) ([]domain.Campaign, error)

	CreatePhase(context.Context, domain.Phase) error
	UpdatePhase(context.Context, domain.Phase) error
	GetPhase(context.Context, string) (domain.Phase, error)
	ListPhases(context.Context, string) ([]domain.Phase, error)
	// CompletePhase stores the completed phase and its drift event in one transaction.
	CompletePhase(context.Context, domain.Phase, domain.DriftEvent) error

	CreateWorkItem(context.Context, domain.WorkItem, domain.ChangeEvent) error
	UpdateWorkItem(context.Context, domain.WorkItem, domain.ChangeEvent) error
	GetWorkItem(context.Context, string) (domain.WorkItem, error)
	ListWorkItems(context.Context, string) ([]domain.WorkItem, error)
	// ApplyWorkItemMove stores every part of a move in one transaction.
	ApplyWorkItemMove(context.Context, WorkItemMove) error
	ListPhaseHistory(context.Context, string) ([]domain.PhaseHistoryEntry, error)
	ListCampaignPhaseHistory(context.Context, string) ([]domain.PhaseHistoryEntry, error)
	SavePhaseHistoryEntry(context.Context, domain.PhaseHistoryEntry) error
	ListCampaignChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)

	SaveDriftEvent(context.Context, domain.DriftEvent) error
	ListDriftEvents(context.Context, string) ([]domain.DriftEvent, error)

	SaveRiskAssessment(context.Context, domain.RiskAssessment) error
	GetRiskAssessment(context.Context, string) (domain.RiskAssessment, error)
	ListRiskAssessments(context.Context, string) ([]domain.RiskAssessment, error)

	SaveOverride(context.Context, domain.OverrideEvent) error
	GetOverride(context.Context, string) (domain.OverrideEvent, error)
	ListOverrides(context.Context, string) ([]domain.OverrideEvent, error)

	SavePerformanceReport(context.Context, domain.PerformanceReport) error
	ListPerformanceReports(context.Context, string) ([]domain.PerformanceReport, error)

	ReplaceCorrelationInsights(context.Context, string, []domain.CorrelationInsight) error
	ListCorrelationInsights(context.Context, string) ([]domain.CorrelationInsight, error)
}

// WorkItemMove is the persisted form of one phase move.
type WorkItemMove struct {
	Item   domain.WorkItem
	Closed *domain.PhaseHistoryEntry
	Opened *domain.PhaseHistoryEntry
	Event  domain.ChangeEvent
}

// Reasoner explains one correlation candidate. Implementations may call remote services and
// may fail; the service always has a deterministic answer to fall back on.
type Reasoner interface {
	Explain(context.Context, domain.ReasoningRequest) (domain.ReasoningResponse, error)
}

// Logger is the structured logging surface the service writes to. *log.Logger satisfies it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}
