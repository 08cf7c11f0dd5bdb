// Package sweeper runs the periodic auth maintenance jobs.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dinehub.org/internal/obs"
)

// AssignmentSweeper deactivates expired role assignments.
type AssignmentSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// TokenCleaner deletes token records that can no longer authenticate anything.
type TokenCleaner interface {
	CleanExpired(ctx context.Context, olderThan time.Time) (int64, error)
	CleanRevoked(ctx context.Context, olderThanDays int) (int64, error)
}

// Config controls the loop. Interval must be positive.
type Config struct {
	Interval     time.Duration
	ExpiredGrace time.Duration
	RevokedDays  int
}

type job struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// Result is the outcome of one job in a pass.
type Result struct {
	Job   string
	Count int64
	Err   error
}

// Runner executes every job on each tick. A failing job does not stop the others.
type Runner struct {
	cfg  Config
	jobs []job
	log  zerolog.Logger
	now  func() time.Time
}

// Option configures Runner.
type Option func(*Runner)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

func WithClock(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// New builds a Runner over the assignment store and token service.
func New(assignments AssignmentSweeper, tokens TokenCleaner, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg: cfg,
		log: obs.Logger(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.jobs = []job{
		{name: "assignments_expired", run: func(ctx context.Context) (int64, error) {
			n, err := assignments.SweepExpired(ctx)
			if err == nil {
				obs.MaintenanceDeleted("assignments_expired", n)
			}
			return n, err
		}},
		{name: "tokens_expired", run: func(ctx context.Context) (int64, error) {
			return tokens.CleanExpired(ctx, r.now().UTC().Add(-r.cfg.ExpiredGrace))
		}},
		{name: "tokens_revoked", run: func(ctx context.Context) (int64, error) {
			return tokens.CleanRevoked(ctx, r.cfg.RevokedDays)
		}},
	}
	return r
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		return errors.New("sweeper: interval must be positive")
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.cfg.Interval).Msg("sweeper started")
	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes each job in order and reports every outcome.
func (r *Runner) RunOnce(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.jobs))
	for _, j := range r.jobs {
		if ctx.Err() != nil {
			break
		}
		start := r.now()
		n, err := j.run(ctx)
		results = append(results, Result{Job: j.name, Count: n, Err: err})
		if err != nil {
			r.log.Error().Err(err).Str("job", j.name).Msg("sweep job failed")
			continue
		}
		r.log.Debug().Str("job", j.name).Int64("count", n).
			Dur("took", r.now().Sub(start)).Msg("sweep job complete")
	}
	return results
}
