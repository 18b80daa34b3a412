package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies a stage error for the retry policy.
type FailureKind string

const (
	// FailureTransient covers timeouts, throttling and collaborator 5xx
	// responses. Retried with backoff up to the stage attempt cap.
	FailureTransient FailureKind = "transient"
	// FailureValidation covers structurally invalid collaborator output,
	// e.g. a draft whose talking points fail fact checks. Retried with a
	// corrective hint, then treated like any other stage failure.
	FailureValidation FailureKind = "validation"
	// FailureTerminal covers errors retrying cannot fix: invalid input,
	// exhausted retries, cancelled campaigns.
	FailureTerminal FailureKind = "terminal"
)

// PipelineError wraps a stage error with its retry classification.
type PipelineError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// TransientErr marks err as retryable.
func TransientErr(op string, err error) error {
	return &PipelineError{Kind: FailureTransient, Op: op, Err: err}
}

// ValidationErr marks err as correctable collaborator output.
func ValidationErr(op string, err error) error {
	return &PipelineError{Kind: FailureValidation, Op: op, Err: err}
}

// TerminalErr marks err as not worth retrying.
func TerminalErr(op string, err error) error {
	return &PipelineError{Kind: FailureTerminal, Op: op, Err: err}
}

// KindOf returns the failure classification of err. Unclassified errors
// and deadline expiries count as transient, so unknown collaborator
// failures get the benefit of the retry budget.
func KindOf(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return FailureTerminal
	}
	return FailureTransient
}

// IsValidation reports whether err is classified as validation failure.
func IsValidation(err error) bool { return KindOf(err) == FailureValidation }

// IsTerminal reports whether err is classified as terminal.
func IsTerminal(err error) bool { return KindOf(err) == FailureTerminal }
