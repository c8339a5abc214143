package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evanschultz/cadence/internal/domain"
)

// CorrelationReport is the output of one correlation run.
type CorrelationReport struct {
	CampaignID  string                      `json:"campaign_id"`
	Insights    []domain.CorrelationInsight `json:"insights"`
	Summary     domain.CorrelationSummary   `json:"summary"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// RecordPerformanceReportInput holds input values for performance report intake.
type RecordPerformanceReportInput struct {
	CampaignID      string
	WeekStarting    time.Time
	TotalSales      float64
	TotalRevenue    float64
	TotalEngagement float64
	Views           float64
}

// RecordPerformanceReport stores one weekly performance sample.
func (s *Service) RecordPerformanceReport(ctx context.Context, in RecordPerformanceReportInput) (domain.PerformanceReport, error) {
	if _, err := s.repo.GetCampaign(ctx, in.CampaignID); err != nil {
		return domain.PerformanceReport{}, err
	}
	report, err := domain.NewPerformanceReport(domain.PerformanceReportInput{
		ID:              s.idGen(),
		CampaignID:      in.CampaignID,
		WeekStarting:    in.WeekStarting,
		TotalSales:      in.TotalSales,
		TotalRevenue:    in.TotalRevenue,
		TotalEngagement: in.TotalEngagement,
		Views:           in.Views,
	}, s.clock())
	if err != nil {
		return domain.PerformanceReport{}, err
	}
	if err := s.repo.SavePerformanceReport(ctx, report); err != nil {
		return domain.PerformanceReport{}, err
	}
	return report, nil
}

// ListPerformanceReports lists reports by week.
func (s *Service) ListPerformanceReports(ctx context.Context, campaignID string) ([]domain.PerformanceReport, error) {
	reports, err := s.repo.ListPerformanceReports(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	domain.SortReports(reports)
	return reports, nil
}

// ListCorrelationInsights returns the insights stored by the last correlation run.
func (s *Service) ListCorrelationInsights(ctx context.Context, campaignID string) (CorrelationReport, error) {
	insights, err := s.repo.ListCorrelationInsights(ctx, campaignID)
	if err != nil {
		return CorrelationReport{}, err
	}
	domain.SortInsights(insights)
	var generated time.Time
	for _, insight := range insights {
		if insight.CreatedAt.After(generated) {
			generated = insight.CreatedAt
		}
	}
	return CorrelationReport{
		CampaignID:  campaignID,
		Insights:    insights,
		Summary:     domain.SummarizeInsights(insights),
		GeneratedAt: generated,
	}, nil
}

// AnalyzeCorrelations correlates execution events with performance shifts and replaces the
// campaign's stored insights. Reasoning failures fall back to deterministic insights and are
// never returned. A canceled ctx aborts the run and leaves stored insights untouched.
func (s *Service) AnalyzeCorrelations(ctx context.Context, campaignID string) (CorrelationReport, error) {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return CorrelationReport{}, err
	}
	driftEvents, err := s.repo.ListDriftEvents(ctx, campaign.ID)
	if err != nil {
		return CorrelationReport{}, err
	}
	phases, err := s.repo.ListPhases(ctx, campaign.ID)
	if err != nil {
		return CorrelationReport{}, err
	}
	items, err := s.repo.ListWorkItems(ctx, campaign.ID)
	if err != nil {
		return CorrelationReport{}, err
	}
	reports, err := s.repo.ListPerformanceReports(ctx, campaign.ID)
	if err != nil {
		return CorrelationReport{}, err
	}

	events := domain.BuildEventStream(driftEvents, phases, items)
	candidates := domain.BuildCorrelationCandidates(events, reports, s.thresholds)
	s.log.Debug("correlation candidates built",
		"campaign_id", campaign.ID,
		"events", len(events),
		"reports", len(reports),
		"candidates", len(candidates),
	)

	now := s.clock()
	insights := make([]domain.CorrelationInsight, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, candidate := range candidates {
		g.Go(func() error {
			resp, source := s.explain(ctx, campaign.ID, candidate)
			insights[i] = domain.NewCorrelationInsight(campaign.ID, candidate, resp, source, now)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return CorrelationReport{}, err
	}

	for i := range insights {
		insights[i].ID = s.idGen()
	}
	domain.SortInsights(insights)
	if err := s.repo.ReplaceCorrelationInsights(ctx, campaign.ID, insights); err != nil {
		return CorrelationReport{}, err
	}
	report := CorrelationReport{
		CampaignID:  campaign.ID,
		Insights:    insights,
		Summary:     domain.SummarizeInsights(insights),
		GeneratedAt: now.UTC(),
	}
	s.log.Info("correlations analyzed",
		"campaign_id", campaign.ID,
		"insights", report.Summary.TotalInsights,
		"strong", report.Summary.StrongCorrelations,
	)
	return report, nil
}

// explain asks the configured reasoner under a timeout and falls back on any failure.
func (s *Service) explain(ctx context.Context, campaignID string, candidate domain.CorrelationCandidate) (domain.ReasoningResponse, domain.InsightSource) {
	req := domain.ReasoningRequestFor(campaignID, candidate)
	if s.reasoner != nil {
		resp, err := s.callReasoner(ctx, req)
		if err == nil {
			return resp, domain.SourceReasoning
		}
		s.log.Warn("reasoning fell back to deterministic insight",
			"campaign_id", campaignID,
			"event", candidate.Event.Type,
			"err", err,
		)
	}
	resp, _ := s.fallback.Explain(ctx, req)
	return resp, domain.SourceFallback
}

func (s *Service) callReasoner(ctx context.Context, req domain.ReasoningRequest) (resp domain.ReasoningResponse, err error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reasoner panic: %v", r)
		}
	}()

	resp, err = s.reasoner.Explain(callCtx, req)
	if err != nil {
		return domain.ReasoningResponse{}, err
	}
	if err := resp.Validate(); err != nil {
		return domain.ReasoningResponse{}, err
	}
	if resp.Confidence < s.minConfidence {
		return domain.ReasoningResponse{}, fmt.Errorf("%w: %d < %d", ErrBelowConfidence, resp.Confidence, s.minConfidence)
	}
	return resp, nil
}
