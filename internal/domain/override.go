package domain

import (
	"slices"
	"strings"
	"time"
)

// OverrideOutcome is the observed result used to reconcile a human gate override.
type OverrideOutcome string

// OverrideOutcome values.
const (
	OutcomeSuccess OverrideOutcome = "success"
	OutcomeFailure OverrideOutcome = "failure"
	OutcomeMixed   OverrideOutcome = "mixed"
)

var validOutcomes = []OverrideOutcome{OutcomeSuccess, OutcomeFailure, OutcomeMixed}

// OverrideEvent records a human decision taken against (or along with) a gate recommendation.
type OverrideEvent struct {
	ID                     string          `json:"id"`
	CampaignID             string          `json:"campaign_id"`
	AssessmentID           string          `json:"assessment_id,omitempty"`
	OriginalRecommendation GateDecision    `json:"original_recommendation"`
	ActualAction           GateDecision    `json:"actual_action"`
	Reason                 string          `json:"reason"`
	OverallScore           int             `json:"overall_score_at_decision"`
	RiskLevel              RiskLevel       `json:"risk_level_at_decision"`
	DecidedAt              time.Time       `json:"decided_at"`
	Outcome                OverrideOutcome `json:"outcome,omitempty"`
	OutcomeNotes           string          `json:"outcome_notes,omitempty"`
	ReconciledAt           *time.Time      `json:"reconciled_at,omitempty"`
	Justified              *bool           `json:"override_justified,omitempty"`
}

// OverrideInput holds constructor values for an override.
type OverrideInput struct {
	ID           string
	CampaignID   string
	Assessment   RiskAssessment
	ActualAction GateDecision
	Reason       string
}

// NewOverrideEvent snapshots the assessment the decision was taken against.
func NewOverrideEvent(in OverrideInput, now time.Time) (OverrideEvent, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.CampaignID = strings.TrimSpace(in.CampaignID)
	if in.ID == "" || in.CampaignID == "" {
		return OverrideEvent{}, ErrInvalidID
	}
	action := GateDecision(strings.TrimSpace(strings.ToLower(string(in.ActualAction))))
	if !IsValidGateDecision(action) || !IsValidGateDecision(in.Assessment.GateRecommendation) {
		return OverrideEvent{}, ErrInvalidGateDecision
	}
	return OverrideEvent{
		ID:                     in.ID,
		CampaignID:             in.CampaignID,
		AssessmentID:           in.Assessment.ID,
		OriginalRecommendation: in.Assessment.GateRecommendation,
		ActualAction:           action,
		Reason:                 strings.TrimSpace(in.Reason),
		OverallScore:           in.Assessment.OverallScore,
		RiskLevel:              in.Assessment.RiskLevel,
		DecidedAt:              now.UTC(),
	}, nil
}

// Deviated reports whether the human acted against the recommendation.
func (o OverrideEvent) Deviated() bool {
	return o.ActualAction != o.OriginalRecommendation
}

// Reconcile records the observed outcome once. A deviation is justified only by success;
// following the recommendation is justified unless a proceed ended in failure.
func (o *OverrideEvent) Reconcile(outcome OverrideOutcome, notes string, now time.Time) error {
	if o.ReconciledAt != nil {
		return ErrOverrideAlreadyReconciled
	}
	outcome = OverrideOutcome(strings.TrimSpace(strings.ToLower(string(outcome))))
	if !slices.Contains(validOutcomes, outcome) {
		return ErrInvalidOutcome
	}
	var justified bool
	if o.Deviated() {
		justified = outcome == OutcomeSuccess
	} else {
		justified = !(outcome == OutcomeFailure && o.ActualAction == GateProceed)
	}
	now = now.UTC()
	o.Outcome = outcome
	o.OutcomeNotes = strings.TrimSpace(notes)
	o.ReconciledAt = &now
	o.Justified = &justified
	return nil
}
