package mover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/renamarr/renamarr/internal/arr"
	"github.com/renamarr/renamarr/internal/naming"
)

// Verification defaults.
const (
	DefaultLogWindow      = 12 * time.Hour
	DefaultLogPageSize    = 50
	DefaultMaxLogPages    = 3
	DefaultMatchThreshold = 0.85
)

// movedMarker is the phrase the services log when a background move
// finishes. Log scanning is best effort: the API exposes no synchronous
// operation status, so the entry's live path is always checked first.
const movedMarker = "moved successfully to"

// errNotMoved signals that a check found no evidence of completion yet.
var errNotMoved = errors.New("move not confirmed yet")

// Verifier confirms that an accepted move landed. Each operation runs
// through a Pending -> Confirmed or Pending -> TimedOut state machine,
// polling under the injected retry policy.
type Verifier struct {
	svc         arr.Service
	policy      RetryPolicy
	logWindow   time.Duration
	logPageSize int
	maxLogPages int
	threshold   float64
	logger      zerolog.Logger
}

// VerifierOption is a functional option for configuring a verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger zerolog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithLogWindow bounds how old a log record may be and still count as
// evidence of this run's move.
func WithLogWindow(window time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.logWindow = window
	}
}

// WithLogPaging sets how many log pages of which size are scanned per attempt.
func WithLogPaging(maxPages, pageSize int) VerifierOption {
	return func(v *Verifier) {
		v.maxLogPages = maxPages
		v.logPageSize = pageSize
	}
}

// WithMatchThreshold sets the minimum fuzzy title similarity, in [0, 1].
func WithMatchThreshold(threshold float64) VerifierOption {
	return func(v *Verifier) {
		v.threshold = threshold
	}
}

// NewVerifier creates a verifier for one service.
func NewVerifier(svc arr.Service, policy RetryPolicy, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		svc:         svc,
		policy:      policy,
		logWindow:   DefaultLogWindow,
		logPageSize: DefaultLogPageSize,
		maxLogPages: DefaultMaxLogPages,
		threshold:   DefaultMatchThreshold,
		logger:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify polls until the move is confirmed or the retry policy is
// exhausted. It never returns an error: a move that cannot be confirmed
// transitions to TimedOut and the caller decides what that means. On
// confirmation a rescan of the entry is triggered.
func (v *Verifier) Verify(ctx context.Context, op *Operation) VerifyState {
	check := func() error {
		ok, err := v.checkOnce(ctx, op)
		if err != nil {
			// Transient: retried under the policy like a pending move.
			v.logger.Debug().Err(err).Int64("id", op.EntryID).Msg("verification attempt failed")
			return err
		}
		if !ok {
			return errNotMoved
		}
		return nil
	}

	if err := backoff.Retry(check, v.policy.newBackOff(ctx)); err != nil {
		op.State = StateTimedOut
		v.logger.Warn().
			Int64("id", op.EntryID).
			Str("title", op.Title).
			Str("path", op.DesiredPath).
			Int("max_attempts", v.policy.MaxAttempts).
			Msg("move not confirmed before retries were exhausted")
		return StateTimedOut
	}

	op.State = StateConfirmed
	v.logger.Info().
		Int64("id", op.EntryID).
		Str("title", op.Title).
		Str("path", op.DesiredPath).
		Msg("move confirmed")

	v.rescan(ctx, op)
	return StateConfirmed
}

// ConfirmSync handles an update the service applied synchronously: one
// lightweight check for operator visibility, then a rescan. The operation
// is confirmed regardless since the service already reported success.
func (v *Verifier) ConfirmSync(ctx context.Context, op *Operation) {
	if ok, err := v.checkOnce(ctx, op); err != nil || !ok {
		v.logger.Warn().
			Int64("id", op.EntryID).
			Str("title", op.Title).
			Msg("synchronous update not yet visible on re-check")
	}

	op.State = StateConfirmed
	v.rescan(ctx, op)
}

// checkOnce looks for evidence that the move completed: first the entry's
// live path, then the service's recent operation log.
func (v *Verifier) checkOnce(ctx context.Context, op *Operation) (bool, error) {
	live, err := v.svc.GetEntry(ctx, op.EntryID)
	if err != nil {
		return false, err
	}
	if naming.PathsEqual(live.Path, op.DesiredPath) {
		return true, nil
	}

	return v.scanLog(ctx, op)
}

// scanLog searches recent log pages for a move-completed message whose
// subject fuzzily matches the entry's title. Only records within the
// recency window count, so an old move of a similarly named entry is not
// mistaken for this one.
func (v *Verifier) scanLog(ctx context.Context, op *Operation) (bool, error) {
	candidates := titleCandidates(op)
	if len(candidates) == 0 {
		return false, nil
	}

	cutoff := time.Now().Add(-v.logWindow)

	for page := 1; page <= v.maxLogPages; page++ {
		records, err := v.svc.RecentLog(ctx, page, v.logPageSize)
		if err != nil {
			return false, err
		}
		if len(records) == 0 {
			return false, nil
		}

		for _, rec := range records {
			if rec.Time.Before(cutoff) {
				continue
			}

			msg := strings.ToLower(rec.Message)
			idx := strings.Index(msg, movedMarker)
			if idx < 0 {
				continue
			}

			moved := naming.NormalizeTitle(msg[:idx])
			if moved == "" {
				continue
			}

			for _, want := range candidates {
				score := levenshtein.Similarity(moved, want, nil)
				if score >= v.threshold {
					v.logger.Debug().
						Int64("id", op.EntryID).
						Str("message", rec.Message).
						Float64("score", score).
						Msg("move confirmed from log")
					return true, nil
				}
			}
		}
	}

	return false, nil
}

// titleCandidates returns the normalized keys a log subject may match:
// the bare title and, when the year is known, "Title (Year)", the form
// the services usually log.
func titleCandidates(op *Operation) []string {
	var candidates []string
	if key := naming.NormalizeTitle(op.Title); key != "" {
		candidates = append(candidates, key)
	}
	if op.Year != 0 {
		withYear := naming.NormalizeTitle(fmt.Sprintf("%s (%d)", op.Title, op.Year))
		if len(candidates) == 0 || withYear != candidates[0] {
			candidates = append(candidates, withYear)
		}
	}
	return candidates
}

func (v *Verifier) rescan(ctx context.Context, op *Operation) {
	if err := v.svc.TriggerRescan(ctx, op.EntryID); err != nil {
		v.logger.Warn().Err(err).Int64("id", op.EntryID).Msg("rescan trigger failed")
	}
}
