package domain

import "errors"

var (
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidTitle       = errors.New("invalid title")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrInvalidStatus      = errors.New("invalid work item status")
	ErrInvalidPhaseStatus = errors.New("invalid phase status")
	ErrInvalidDuration    = errors.New("invalid planned duration")
	ErrInvalidBudget      = errors.New("invalid budget")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrInvalidReport      = errors.New("invalid performance report")
	ErrInvalidCategory    = errors.New("invalid campaign category")

	// ErrPhaseNotStarted rejects completing a phase that never recorded an actual start date.
	ErrPhaseNotStarted = errors.New("phase has no actual start date")
	// ErrPhaseCampaignMismatch rejects moving a work item into another campaign's phase.
	ErrPhaseCampaignMismatch = errors.New("phase belongs to a different campaign")
	// ErrPhaseAlreadyCompleted rejects completing a phase twice.
	ErrPhaseAlreadyCompleted = errors.New("phase already completed")

	ErrInvalidGateDecision       = errors.New("invalid gate decision")
	ErrInvalidOutcome            = errors.New("invalid override outcome")
	ErrOverrideAlreadyReconciled = errors.New("override already reconciled")

	// ErrInvalidReasoningResponse reports a reasoning-service payload that fails shape validation.
	ErrInvalidReasoningResponse = errors.New("invalid reasoning response")
)
