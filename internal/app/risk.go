package app

import (
	"context"
	"strings"

	"github.com/evanschultz/cadence/internal/domain"
)

// riskInput gathers the campaign state the risk engine reads.
func (s *Service) riskInput(ctx context.Context, campaignID string) (domain.RiskInput, error) {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.RiskInput{}, err
	}
	phases, err := s.repo.ListPhases(ctx, campaignID)
	if err != nil {
		return domain.RiskInput{}, err
	}
	items, err := s.repo.ListWorkItems(ctx, campaignID)
	if err != nil {
		return domain.RiskInput{}, err
	}
	return domain.RiskInput{
		Campaign:                campaign,
		Phases:                  phases,
		Items:                   items,
		CategoryBenchmark:       s.categoryBenchmark(campaign.Category),
		MaxActiveItemsPerMember: s.maxActive,
	}, nil
}

// PreviewRisk scores a campaign without persisting the result.
func (s *Service) PreviewRisk(ctx context.Context, campaignID string) (domain.RiskAssessment, error) {
	in, err := s.riskInput(ctx, campaignID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	assessment := domain.AssessRisk(in)
	assessment.AssessedAt = s.clock().UTC()
	return assessment, nil
}

// AssessRisk scores a campaign and stores the assessment.
func (s *Service) AssessRisk(ctx context.Context, campaignID string) (domain.RiskAssessment, error) {
	assessment, err := s.PreviewRisk(ctx, campaignID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	assessment.ID = s.idGen()
	if err := s.repo.SaveRiskAssessment(ctx, assessment); err != nil {
		return domain.RiskAssessment{}, err
	}
	s.log.Info("risk assessed",
		"campaign_id", campaignID,
		"score", assessment.OverallScore,
		"risk_level", assessment.RiskLevel,
		"gate", assessment.GateRecommendation,
	)
	return assessment, nil
}

// LatestRiskAssessment returns the most recent stored assessment.
func (s *Service) LatestRiskAssessment(ctx context.Context, campaignID string) (domain.RiskAssessment, error) {
	assessments, err := s.repo.ListRiskAssessments(ctx, campaignID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if len(assessments) == 0 {
		return domain.RiskAssessment{}, ErrNoAssessment
	}
	latest := assessments[0]
	for _, a := range assessments[1:] {
		if a.AssessedAt.After(latest.AssessedAt) {
			latest = a
		}
	}
	return latest, nil
}

// RecordOverrideInput holds input values for record override operations.
type RecordOverrideInput struct {
	CampaignID string
	// AssessmentID selects the assessment overridden; empty uses the latest one.
	AssessmentID string
	ActualAction domain.GateDecision
	Reason       string
}

// RecordOverride stores a human decision taken on a gate recommendation.
func (s *Service) RecordOverride(ctx context.Context, in RecordOverrideInput) (domain.OverrideEvent, error) {
	var (
		assessment domain.RiskAssessment
		err        error
	)
	if id := strings.TrimSpace(in.AssessmentID); id != "" {
		assessment, err = s.repo.GetRiskAssessment(ctx, id)
	} else {
		assessment, err = s.LatestRiskAssessment(ctx, in.CampaignID)
	}
	if err != nil {
		return domain.OverrideEvent{}, err
	}
	if assessment.CampaignID != in.CampaignID {
		return domain.OverrideEvent{}, ErrNotFound
	}
	override, err := domain.NewOverrideEvent(domain.OverrideInput{
		ID:           s.idGen(),
		CampaignID:   in.CampaignID,
		Assessment:   assessment,
		ActualAction: in.ActualAction,
		Reason:       in.Reason,
	}, s.clock())
	if err != nil {
		return domain.OverrideEvent{}, err
	}
	if err := s.repo.SaveOverride(ctx, override); err != nil {
		return domain.OverrideEvent{}, err
	}
	s.log.Info("gate override recorded",
		"campaign_id", override.CampaignID,
		"recommended", override.OriginalRecommendation,
		"action", override.ActualAction,
	)
	return override, nil
}

// ReconcileOverride records the observed outcome of an override.
func (s *Service) ReconcileOverride(ctx context.Context, overrideID string, outcome domain.OverrideOutcome, notes string) (domain.OverrideEvent, error) {
	override, err := s.repo.GetOverride(ctx, overrideID)
	if err != nil {
		return domain.OverrideEvent{}, err
	}
	if err := override.Reconcile(outcome, notes, s.clock()); err != nil {
		return domain.OverrideEvent{}, err
	}
	if err := s.repo.SaveOverride(ctx, override); err != nil {
		return domain.OverrideEvent{}, err
	}
	return override, nil
}

// ListOverrides lists a campaign's overrides.
func (s *Service) ListOverrides(ctx context.Context, campaignID string) ([]domain.OverrideEvent, error) {
	return s.repo.ListOverrides(ctx, campaignID)
}
