// Package runner wires configuration into reconciliation pipelines and
// executes a single run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/renamarr/renamarr/internal/arr"
	"github.com/renamarr/renamarr/internal/cache"
	"github.com/renamarr/renamarr/internal/config"
	"github.com/renamarr/renamarr/internal/mover"
	"github.com/renamarr/renamarr/internal/naming"
	"github.com/renamarr/renamarr/internal/plexrefresh"
	"github.com/renamarr/renamarr/internal/reconcile"
)

// Runner executes one reconciliation run across all enabled services.
type Runner struct {
	cfg    config.Config
	logger zerolog.Logger
}

// Option is a functional option for configuring a runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a runner from validated configuration.
func New(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// pipeline is one service's reconciliation unit.
type pipeline struct {
	svc       arr.Service
	cacheFile string
}

// Run reconciles all enabled services and, when every pipeline finishes
// cleanly and this is not a dry run, refreshes the Plex library. Only
// one run may execute at a time; a second invocation fails fast on the
// run lock instead of queueing.
func (r *Runner) Run(ctx context.Context) error {
	lock := flock.New(r.cfg.Reconcile.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another run is in progress (lock %s held)", lock.Path())
	}
	defer func() {
		_ = lock.Unlock()
	}()

	pipelines := r.buildPipelines()
	if len(pipelines) == 0 {
		return errors.New("no services enabled")
	}

	// Fail before touching anything if any service is unreachable.
	for _, p := range pipelines {
		if err := p.svc.TestConnection(ctx); err != nil {
			return err
		}
	}

	summaries := make([]reconcile.Summary, len(pipelines))
	errs := make([]error, len(pipelines))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pipelines {
		g.Go(func() error {
			summaries[i], errs[i] = r.runPipeline(gctx, p)
			// Pipeline failures are collected, not propagated, so one
			// service's outage does not cancel the other's run.
			return nil
		})
	}
	_ = g.Wait()

	runErr := errors.Join(errs...)

	total := reconcile.Summary{Service: "all"}
	for _, s := range summaries {
		total.Total += s.Total
		total.AlreadyCorrect += s.AlreadyCorrect
		total.Updated += s.Updated
		total.Confirmed += s.Confirmed
		total.TimedOut += s.TimedOut
		total.Conflicts += s.Conflicts
		total.Rejected += s.Rejected
		total.Failed += s.Failed
	}

	r.logger.Info().
		Int("entries", total.Total).
		Int("already_correct", total.AlreadyCorrect).
		Int("updated", total.Updated).
		Int("confirmed", total.Confirmed).
		Int("timed_out", total.TimedOut).
		Int("conflicts", total.Conflicts).
		Int("rejected", total.Rejected).
		Int("failed", total.Failed).
		Bool("dry_run", r.cfg.Reconcile.DryRun).
		Msg("run complete")

	if runErr != nil {
		return runErr
	}

	if r.cfg.Plex.URL != "" && !r.cfg.Reconcile.DryRun {
		plex := plexrefresh.New(plexrefresh.Config{
			URL:         r.cfg.Plex.URL,
			Token:       r.cfg.Plex.Token,
			HTTPTimeout: r.cfg.Plex.HTTPTimeout,
		}, plexrefresh.WithLogger(r.logger.With().Str("component", "plex").Logger()))

		if err := plex.RefreshLibrary(ctx); err != nil {
			return fmt.Errorf("library refresh failed: %w", err)
		}
	}

	return nil
}

// Unmonitor turns off monitoring for every entry whose folder already
// matches its generated path, for all enabled services.
func (r *Runner) Unmonitor(ctx context.Context) error {
	pipelines := r.buildPipelines()
	if len(pipelines) == 0 {
		return errors.New("no services enabled")
	}

	var errs []error
	for _, p := range pipelines {
		if err := r.unmonitorService(ctx, p.svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) buildPipelines() []pipeline {
	var pipelines []pipeline

	if svcCfg := r.cfg.Services.Radarr; svcCfg.Enabled {
		svc := arr.NewRadarr("radarr", arr.Config{
			URL:         svcCfg.URL,
			APIKey:      svcCfg.APIKey,
			HTTPTimeout: svcCfg.HTTPTimeout,
		}, arr.WithLogger(r.logger.With().Str("component", "radarr").Logger()))
		pipelines = append(pipelines, pipeline{svc: svc, cacheFile: "cache_radarr_paths.json"})
	}

	if svcCfg := r.cfg.Services.Sonarr; svcCfg.Enabled {
		svc := arr.NewSonarr("sonarr", arr.Config{
			URL:         svcCfg.URL,
			APIKey:      svcCfg.APIKey,
			HTTPTimeout: svcCfg.HTTPTimeout,
		}, arr.WithLogger(r.logger.With().Str("component", "sonarr").Logger()))
		pipelines = append(pipelines, pipeline{svc: svc, cacheFile: "cache_sonarr_paths.json"})
	}

	return pipelines
}

func (r *Runner) runPipeline(ctx context.Context, p pipeline) (reconcile.Summary, error) {
	logger := r.logger.With().Str("service", p.svc.Name()).Logger()

	store := cache.Open(
		filepath.Join(r.cfg.Reconcile.CacheDir, p.cacheFile),
		cache.WithLogger(logger.With().Str("component", "cache").Logger()),
	)

	orch := mover.NewOrchestrator(p.svc,
		mover.WithOrchestratorLogger(logger.With().Str("component", "mover").Logger()))

	verifier := mover.NewVerifier(p.svc,
		mover.RetryPolicy{
			MaxAttempts:  r.cfg.Verify.MaxAttempts,
			InitialDelay: r.cfg.Verify.InitialDelay,
			MaxDelay:     r.cfg.Verify.MaxDelay,
		},
		mover.WithVerifierLogger(logger.With().Str("component", "verifier").Logger()),
		mover.WithLogWindow(r.cfg.Verify.LogWindow),
		mover.WithLogPaging(r.cfg.Verify.MaxLogPages, r.cfg.Verify.LogPageSize),
		mover.WithMatchThreshold(r.cfg.Verify.MatchThreshold),
	)

	rec := reconcile.New(p.svc, store, orch, verifier,
		reconcile.WithLogger(logger),
		reconcile.WithWorkLimit(r.cfg.Reconcile.WorkLimit),
		reconcile.WithDryRun(r.cfg.Reconcile.DryRun),
	)

	summary, err := rec.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("%s: %w", p.svc.Name(), err)
	}
	return summary, nil
}

func (r *Runner) unmonitorService(ctx context.Context, svc arr.Service) error {
	logger := r.logger.With().Str("service", svc.Name()).Logger()

	if err := svc.TestConnection(ctx); err != nil {
		return err
	}

	format, err := svc.NamingTemplate(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", svc.Name(), err)
	}
	tmpl := naming.Parse(format)

	entries, err := svc.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", svc.Name(), err)
	}

	var done int
	for _, entry := range entries {
		if !entry.Monitored {
			continue
		}

		desired := naming.GeneratePath(entry.RootFolderPath, tmpl, naming.Resolve(tmpl, entry))
		if !naming.PathsEqual(entry.Path, desired) {
			continue
		}

		if r.cfg.Reconcile.DryRun {
			logger.Info().Int64("id", entry.ID).Str("title", entry.Title).
				Msg("would unmonitor")
			done++
			continue
		}

		if err := svc.Unmonitor(ctx, entry.ID); err != nil {
			logger.Error().Err(err).Int64("id", entry.ID).Str("title", entry.Title).
				Msg("failed to unmonitor")
			continue
		}

		logger.Info().Int64("id", entry.ID).Str("title", entry.Title).Msg("unmonitored")
		done++
	}

	logger.Info().Int("unmonitored", done).Int("entries", len(entries)).
		Msg("unmonitor pass complete")

	return nil
}

// EnsureCacheDir creates the cache directory if needed so the run lock
// and cache files have somewhere to live.
func (r *Runner) EnsureCacheDir() error {
	if r.cfg.Reconcile.CacheDir == "" || r.cfg.Reconcile.CacheDir == "." {
		return nil
	}
	return os.MkdirAll(r.cfg.Reconcile.CacheDir, 0o750)
}
