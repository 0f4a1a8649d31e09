package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUnsupportedPlan = errors.New("unsupported plan")
	ErrProviderFailure = errors.New("provider failure")
)

// ValidationError rejects a malformed generation request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// PlanLimitError rejects a feature the caller's plan does not include.
type PlanLimitError struct {
	Plan    PlanTier
	Feature string
	Reason  string
}

func (e *PlanLimitError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s is not available on the %s plan", e.Feature, e.Plan)
}

// InvalidTransitionError rejects a mutation the job state machine forbids.
type InvalidTransitionError struct {
	JobID  string
	From   JobStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s (%s): %s", e.JobID, e.From, e.Reason)
}

// StageFailure wraps the error of one pipeline stage.
type StageFailure struct {
	Stage string
	Label string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Message(), e.Err)
}

// Message is the caller-facing summary. It never carries the cause.
func (e *StageFailure) Message() string {
	label := e.Label
	if label == "" {
		label = e.Stage
	}
	return label + " failed"
}

func (e *StageFailure) Unwrap() error { return e.Err }
