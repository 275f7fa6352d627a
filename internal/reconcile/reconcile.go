// Package reconcile compares each entry's current path against the path
// its service's naming template says it should have, and drives updates
// for the ones that differ.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/renamarr/renamarr/internal/arr"
	"github.com/renamarr/renamarr/internal/cache"
	"github.com/renamarr/renamarr/internal/mover"
	"github.com/renamarr/renamarr/internal/naming"
)

// Summary aggregates the outcome of one service's run.
type Summary struct {
	Service        string
	Template       string
	Total          int // eligible entries seen
	AlreadyCorrect int
	Updated        int // updates submitted (or simulated in dry-run)
	Confirmed      int
	TimedOut       int
	Conflicts      int
	Rejected       int
	Failed         int
	CapReached     bool
}

// Reconciler runs the per-entry decision sequence for one service:
// generate the canonical path, skip entries that are already correct,
// surface conflicts, and hand the rest to the orchestrator and verifier.
// Entries are processed strictly in service order, one at a time.
type Reconciler struct {
	svc       arr.Service
	store     *cache.Cache
	orch      *mover.Orchestrator
	verifier  *mover.Verifier
	workLimit int
	dryRun    bool
	logger    zerolog.Logger
}

// Option is a functional option for configuring a reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithWorkLimit caps how many updates one run may attempt. Zero means no cap.
func WithWorkLimit(limit int) Option {
	return func(r *Reconciler) {
		r.workLimit = limit
	}
}

// WithDryRun makes the run report what it would do without calling any
// mutating endpoint.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

// New creates a reconciler for one service.
func New(svc arr.Service, store *cache.Cache, orch *mover.Orchestrator, verifier *mover.Verifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		svc:      svc,
		store:    store,
		orch:     orch,
		verifier: verifier,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run reconciles every eligible entry of the service, up to the work
// cap, and persists the cache before returning. Per-entry failures are
// counted and logged but never abort the run; only a failure to reach
// the service before any entry is processed returns an error. When Run
// returns, no move operation is left pending.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Service: r.svc.Name()}

	format, err := r.svc.NamingTemplate(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch naming template: %w", err)
	}
	summary.Template = format
	tmpl := naming.Parse(format)

	roots, err := r.svc.RootFolders(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch root folders: %w", err)
	}

	entries, err := r.svc.ListEntries(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list entries: %w", err)
	}

	r.logger.Info().
		Str("service", r.svc.Name()).
		Str("template", format).
		Int("entries", len(entries)).
		Int("cached", r.store.Len()).
		Bool("dry_run", r.dryRun).
		Msg("starting reconciliation")

	// Target paths claimed this run, to surface two entries resolving to
	// the same folder instead of letting the second move clobber the first.
	claimed := make(map[string]int64)
	attempted := 0

	for _, entry := range entries {
		if r.workLimit > 0 && attempted >= r.workLimit {
			summary.CapReached = true
			r.logger.Info().
				Int("limit", r.workLimit).
				Msg("work limit reached, remaining entries left for the next run")
			break
		}

		summary.Total++
		r.reconcileEntry(ctx, entry, tmpl, roots, claimed, &summary, &attempted)
	}

	if err := r.store.Flush(); err != nil {
		r.logger.Error().Err(err).Msg("failed to persist cache")
	}

	r.logger.Info().
		Str("service", r.svc.Name()).
		Int("seen", summary.Total).
		Int("already_correct", summary.AlreadyCorrect).
		Int("updated", summary.Updated).
		Int("confirmed", summary.Confirmed).
		Int("timed_out", summary.TimedOut).
		Int("conflicts", summary.Conflicts).
		Int("rejected", summary.Rejected).
		Int("failed", summary.Failed).
		Msg("reconciliation finished")

	return summary, nil
}

func (r *Reconciler) reconcileEntry(
	ctx context.Context,
	entry arr.Entry,
	tmpl naming.Template,
	roots []string,
	claimed map[string]int64,
	summary *Summary,
	attempted *int,
) {
	vals := naming.Resolve(tmpl, entry)
	want := naming.GeneratePath(entry.RootFolderPath, tmpl, vals)
	target := strings.TrimRight(want, "/")

	// The cache short-circuits entries a previous run already settled.
	// It is only trusted for skipping: completion was validated against
	// the live path when the cache entry was written, and a stale entry
	// self-corrects because the path is regenerated every run.
	if owner, taken := claimed[target]; taken {
		summary.Conflicts++
		r.logger.Error().
			Int64("id", entry.ID).
			Int64("conflicting_id", owner).
			Str("title", entry.Title).
			Str("path", want).
			Msg("two entries resolve to the same path, skipping entry")
		return
	}

	if cached, ok := r.store.Get(entry.ID); ok && naming.PathsEqual(cached, want) {
		summary.AlreadyCorrect++
		r.store.Put(entry.ID, want)
		claimed[target] = entry.ID
		r.logger.Debug().
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Msg("path already correct (cached)")
		return
	}

	if naming.PathsEqual(entry.Path, want) {
		summary.AlreadyCorrect++
		r.store.Put(entry.ID, want)
		claimed[target] = entry.ID
		r.logger.Debug().
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Str("path", entry.Path).
			Msg("path already correct")
		return
	}

	if !rootKnown(roots, entry.RootFolderPath) {
		summary.Conflicts++
		r.logger.Error().
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Str("root_folder", entry.RootFolderPath).
			Strs("known_roots", roots).
			Msg("root folder not configured on service, skipping entry")
		return
	}

	claimed[target] = entry.ID

	*attempted++

	if r.dryRun {
		summary.Updated++
		r.logger.Info().
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Str("current", entry.Path).
			Str("desired", want).
			Msg("dry run: would request move")
		return
	}

	r.logger.Info().
		Int64("id", entry.ID).
		Str("title", entry.Title).
		Str("current", entry.Path).
		Str("desired", want).
		Msg("requesting move")

	op, err := r.orch.Submit(ctx, entry, want)
	if err != nil {
		summary.Failed++
		r.logger.Error().Err(err).
			Int64("id", entry.ID).
			Str("title", entry.Title).
			Msg("update request failed")
		return
	}

	switch op.Outcome {
	case arr.UpdateRejected:
		// Not cached: the next run retries a rejected entry from scratch.
		summary.Rejected++

	case arr.UpdateSynchronous:
		summary.Updated++
		summary.Confirmed++
		r.verifier.ConfirmSync(ctx, op)
		r.store.Put(entry.ID, want)

	case arr.UpdateAsyncAccepted:
		summary.Updated++
		switch r.verifier.Verify(ctx, op) {
		case mover.StateConfirmed:
			summary.Confirmed++
		case mover.StateTimedOut, mover.StatePending:
			summary.TimedOut++
		}
		// The cache records what was requested. A timed-out move is
		// re-validated against the live path on the next run.
		r.store.Put(entry.ID, want)
	}
}

func rootKnown(roots []string, rootFolder string) bool {
	want := strings.TrimRight(rootFolder, "/")
	for _, root := range roots {
		if strings.TrimRight(root, "/") == want {
			return true
		}
	}
	return false
}
