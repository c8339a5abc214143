package app

import (
	"context"

	"github.com/evanschultz/cadence/internal/domain"
)

// DeterministicReasoner explains candidates locally from their metric changes. It never fails.
type DeterministicReasoner struct {
	Thresholds domain.CorrelationThresholds
}

// Explain returns the templated fallback insight for req.
func (d DeterministicReasoner) Explain(_ context.Context, req domain.ReasoningRequest) (domain.ReasoningResponse, error) {
	th := d.Thresholds
	if th == (domain.CorrelationThresholds{}) {
		th = domain.DefaultCorrelationThresholds()
	}
	candidate := domain.CorrelationCandidate{
		Event: domain.ExecutionEvent{
			Type:        req.EventType,
			Description: req.EventSummary,
			DriftDays:   req.DriftDays,
		},
		MetricChanges: req.MetricChanges,
		Strength:      req.Strength,
		Trend:         req.Trend,
	}
	return domain.FallbackResponse(candidate, th), nil
}
