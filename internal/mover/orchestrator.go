// Package mover submits path changes to a service and verifies that the
// service's asynchronous move actually completed.
package mover

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/renamarr/renamarr/internal/arr"
)

// VerifyState is the verification state of one move operation.
type VerifyState string

const (
	// StatePending means the move was accepted but not yet confirmed.
	StatePending VerifyState = "pending"
	// StateConfirmed means the service completed the move.
	StateConfirmed VerifyState = "confirmed"
	// StateTimedOut means verification attempts were exhausted without
	// confirmation.
	StateTimedOut VerifyState = "timed-out"
)

// Operation is the transient record of one path change attempt. It lives
// only for the duration of a single reconciliation of one entry.
type Operation struct {
	EntryID     int64
	Title       string
	Year        int
	DesiredPath string
	Outcome     arr.UpdateOutcome
	State       VerifyState
}

// Orchestrator issues path updates to the service. It does not retry:
// retries belong to the Verifier, and only for accepted moves.
type Orchestrator struct {
	svc    arr.Service
	logger zerolog.Logger
}

// OrchestratorOption is a functional option for configuring an orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an orchestrator for one service.
func NewOrchestrator(svc arr.Service, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		svc:    svc,
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Submit requests that the service move the entry to newPath. The error
// return covers transport failures only; a rejection by the service is
// reported through the operation's Outcome.
func (o *Orchestrator) Submit(ctx context.Context, entry arr.Entry, newPath string) (*Operation, error) {
	op := &Operation{
		EntryID:     entry.ID,
		Title:       entry.Title,
		Year:        entry.Year,
		DesiredPath: newPath,
		State:       StatePending,
	}

	result, err := o.svc.UpdateEntryPath(ctx, entry.ID, newPath)
	if err != nil {
		return nil, err
	}

	op.Outcome = result.Outcome

	switch result.Outcome {
	case arr.UpdateRejected:
		o.logger.Error().
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Int("status", result.Status).
			Str("detail", result.Detail).
			Msg("update rejected")
	case arr.UpdateSynchronous:
		o.logger.Info().
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Str("path", newPath).
			Msg("update applied synchronously")
	case arr.UpdateAsyncAccepted:
		o.logger.Info().
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Str("path", newPath).
			Msg("update accepted, move running in background")
	}

	return op, nil
}
