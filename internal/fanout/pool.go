// Package fanout runs independent calls or waits concurrently.
package fanout

import (
	"context"
	"fmt"
	"time"

	"apiflow/pkg/logger"
	"apiflow/pkg/ratelimit"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result reports how a job finished.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Pool runs jobs with bounded concurrency.
type Pool struct {
	workers int
	// FailFast cancels the remaining jobs after the first failure.
	FailFast bool

	limiter ratelimit.Limiter
	logger  logger.Logger
}

// NewPool creates a pool running at most workers jobs at once. A nil
// limiter disables pacing.
func NewPool(workers int, limiter ratelimit.Limiter, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{workers: workers, limiter: limiter, logger: log}
}

// Run executes jobs and returns one Result per job, in input order. The
// returned error is the first job failure when FailFast is set, or the
// context's error if ctx ended.
func (p *Pool) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))

	var g *errgroup.Group
	gctx := ctx
	if p.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(p.workers)

	p.logger.DebugWithFields("starting fan-out", map[string]interface{}{
		"jobs":    len(jobs),
		"workers": p.workers,
	})

	for i, job := range jobs {
		if gctx.Err() != nil {
			results[i] = Result{Name: job.Name, Err: gctx.Err()}
			continue
		}
		g.Go(func() error {
			results[i] = p.run(gctx, job)
			if p.FailFast {
				return results[i].Err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return results, err
}

func (p *Pool) run(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{Name: job.Name}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			res.Err = fmt.Errorf("%s: %w", job.Name, err)
			return res
		}
	}

	res.Err = job.Run(ctx)
	res.Duration = time.Since(start)

	fields := map[string]interface{}{
		"job":      job.Name,
		"duration": res.Duration,
	}
	if res.Err != nil {
		p.logger.WithError(res.Err).WarnWithFields("job failed", fields)
	} else {
		p.logger.DebugWithFields("job completed", fields)
	}
	return res
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
