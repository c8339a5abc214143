package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound        = errors.New("not found")
	ErrNoAssessment    = errors.New("campaign has no risk assessment")
	ErrBelowConfidence = errors.New("reasoning confidence below configured minimum")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
