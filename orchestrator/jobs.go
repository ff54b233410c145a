package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/insight"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/planning"
)

type jobKind string

const (
	jobPlan          jobKind = "plan"
	jobReflection    jobKind = "reflection"
	jobMetacognition jobKind = "metacognition"
)

// job is one prepared generation call waiting to run off the tick loop.
// Exactly one of the request fields is set, matching kind.
type job struct {
	kind    jobKind
	agentID string
	prompt  string

	// planDay is the simulated day a plan job was prepared for; results
	// arriving on a later day are stale and dropped.
	planDay time.Time

	planning      planning.Request
	reflection    insight.ReflectionRequest
	metacognition insight.MetacognitionRequest
}

// jobResult pairs a finished job with its output or final error.
type jobResult struct {
	job  job
	text string
	err  error
}

// runner executes generation jobs concurrently, bounded by a semaphore, with
// a per-attempt timeout and bounded exponential-backoff retries. Results are
// delivered on a channel the tick loop drains.
type runner struct {
	*core.LoggerAdapter

	gen     core.GenerationService
	sem     *semaphore.Weighted
	timeout time.Duration
	retries uint64
	results chan jobResult
	wg      sync.WaitGroup
}

func newRunner(gen core.GenerationService, maxConcurrent int64, timeout time.Duration, retries uint64, logger logging.Logger) *runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &runner{
		LoggerAdapter: core.NewLoggerAdapter(logger),
		gen:           gen,
		sem:           semaphore.NewWeighted(maxConcurrent),
		timeout:       timeout,
		retries:       retries,
		results:       make(chan jobResult, 256),
	}
}

// submit schedules the job; it runs as soon as a semaphore slot frees up.
func (r *runner) submit(ctx context.Context, j job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, j)
	}()
}

func (r *runner) run(ctx context.Context, j job) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.results <- jobResult{job: j, err: err}
		return
	}
	defer r.sem.Release(1)

	started := time.Now()
	var text string
	op := func() error {
		attempt, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		out, err := r.gen.Generate(attempt, j.prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.retries), ctx)
	err := backoff.Retry(op, policy)
	if err != nil {
		r.LogWarn("generation job failed",
			"kind", string(j.kind),
			"agent_id", j.agentID,
			"elapsed", time.Since(started).String(),
			"error", err.Error())
	}
	if gl, ok := r.Logger().(generationLogger); ok {
		gl.LogGenerationCall(string(j.kind), time.Since(started), err == nil, err)
	}
	r.results <- jobResult{job: j, text: text, err: err}
}

// generationLogger is the optional call-latency surface of logging.SimLogger.
type generationLogger interface {
	LogGenerationCall(kind string, dur time.Duration, success bool, err error)
}

// wait blocks until every submitted job has delivered its result.
func (r *runner) wait() { r.wg.Wait() }
