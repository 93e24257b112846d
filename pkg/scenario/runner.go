package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/bridge-harness/pkg/circuitbreaker"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/metrics"
	"github.com/speedrun-hq/bridge-harness/pkg/results"
)

// DefaultWorkers bounds how many scenarios run at once.
const DefaultWorkers = 4

// RunError reports the scenarios that did not pass.
type RunError struct {
	Total  int
	Failed []string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%d of %d scenarios did not pass: %v", len(e.Failed), e.Total, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner executes scenarios concurrently and records every outcome.
type Runner struct {
	env      *Env
	sink     results.Sink
	breakers *circuitbreaker.Set
	workers  int
	runID    string
	log      logger.Logger
	now      func() time.Time

	exclusive keyedLocks
}

// NewRunner creates a runner. breakers may be nil.
func NewRunner(env *Env, sink results.Sink, breakers *circuitbreaker.Set, workers int, runID string) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{
		env:      env,
		sink:     sink,
		breakers: breakers,
		workers:  workers,
		runID:    runID,
		log:      env.Logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for result timestamps.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run executes the scenarios stage by stage. A failing scenario does not stop
// its siblings; all results are returned, and the error is a *RunError when
// anything failed or was skipped.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) ([]results.Result, error) {
	stages := make(map[int][]Scenario)
	var order []int
	for _, s := range scenarios {
		if _, ok := stages[s.Stage]; !ok {
			order = append(order, s.Stage)
		}
		stages[s.Stage] = append(stages[s.Stage], s)
	}
	sort.Ints(order)

	var (
		mu  sync.Mutex
		out []results.Result
	)
	for _, stage := range order {
		r.log.Notice("stage %d: %d scenarios, %d workers", stage, len(stages[stage]), r.workers)

		var g errgroup.Group
		g.SetLimit(r.workers)
		for _, s := range stages[stage] {
			s := s
			g.Go(func() error {
				res := r.runOne(ctx, s)
				mu.Lock()
				out = append(out, res)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	var (
		failed []string
		errs   []error
	)
	for _, res := range out {
		if res.Outcome == results.Passed {
			continue
		}
		failed = append(failed, res.Scenario)
		errs = append(errs, fmt.Errorf("%s: %s", res.Scenario, res.Error))
	}
	if len(failed) > 0 {
		return out, &RunError{Total: len(out), Failed: failed, Err: errors.Join(errs...)}
	}
	return out, nil
}

func (r *Runner) runOne(ctx context.Context, s Scenario) results.Result {
	res := results.Result{
		RunID:      r.runID,
		Scenario:   s.Name,
		SrcChainID: s.SrcChainID,
		DstChainID: s.DstChainID,
		StartedAt:  r.now(),
	}

	if chainID, open := r.anyOpen(s.Chains()); open {
		res.Outcome = results.Skipped
		res.Error = fmt.Sprintf("circuit open for chain %d", chainID)
		r.log.NoticeWithChain(chainID, "skipping %s: circuit open", s.Name)
	} else {
		unlock := r.exclusive.lock(s.Exclusive...)
		report := &Report{}
		r.log.InfoWithChain(s.SrcChainID, "running %s", s.Name)
		err := s.Run(ctx, r.env, report)
		unlock()

		res.Retry = report.Retry()
		res.Details = report.Details()
		if err != nil {
			res.Outcome = results.Failed
			res.Error = err.Error()
			r.log.ErrorWithChain(s.SrcChainID, "%s failed: %v", s.Name, err)
		} else {
			res.Outcome = results.Passed
			r.log.InfoWithChain(s.SrcChainID, "%s passed", s.Name)
		}
		r.recordHealth(s, err)
	}
	res.FinishedAt = r.now()

	metrics.ScenarioOutcomes.WithLabelValues(s.Name, string(res.Outcome)).Inc()
	metrics.ScenarioDuration.WithLabelValues(s.Name).Observe(res.Duration().Seconds())

	if r.sink != nil {
		// recording must outlive a cancelled run
		if err := r.sink.Record(context.WithoutCancel(ctx), res); err != nil {
			r.log.Error("record %s: %v", s.Name, err)
		}
	}
	return res
}

func (r *Runner) anyOpen(chains []int) (int, bool) {
	if r.breakers == nil {
		return 0, false
	}
	return r.breakers.AnyOpen(chains...)
}

// recordHealth feeds RPC failures to the breaker of the failing chain. Any
// other outcome counts as a healthy round trip for every chain involved.
func (r *Runner) recordHealth(s Scenario, err error) {
	if r.breakers == nil {
		return
	}
	var rce *ledger.RemoteCallError
	if errors.As(err, &rce) {
		r.breakers.For(rce.ChainID).RecordFailure()
		return
	}
	for _, id := range s.Chains() {
		r.breakers.For(id).RecordSuccess()
	}
}
