// Package worker consumes analysis jobs from a redis list, runs them
// through the engine and pushes results back. It owns the retry policy the
// engine deliberately does not have: exponential backoff with jitter for
// transient failures, immediate dead-lettering for configuration errors,
// and a capped attempt count for everything else.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vk/drivergrid/internal/ctxlog"
	"github.com/vk/drivergrid/internal/graph"
	"github.com/vk/drivergrid/internal/metrics"
	"github.com/vk/drivergrid/internal/schema"
)

// Config tunes the queue keys and the retry policy.
type Config struct {
	QueueKey      string
	ResultsKey    string
	DeadLetterKey string

	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	PopTimeout  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueKey:      "drivergrid:jobs",
		ResultsKey:    "drivergrid:results",
		DeadLetterKey: "drivergrid:dead",
		MaxAttempts:   5,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		PopTimeout:    5 * time.Second,
	}
}

// errBadJob marks a structurally invalid job payload. Like graph
// configuration errors it is deterministic, so it is never retried.
var errBadJob = errors.New("invalid job")

// Worker is a single queue consumer. Run multiple Worker instances for
// parallelism; each job gets its own graph, so workers share nothing.
type Worker struct {
	client redis.UniversalClient
	cfg    Config
	jobs   *metrics.Job
}

// New returns a Worker consuming with the given client and policy.
func New(client redis.UniversalClient, cfg Config, jobs *metrics.Job) *Worker {
	return &Worker{client: client, cfg: cfg, jobs: jobs}
}

// Enqueue pushes a job onto the queue, assigning an id when absent.
func Enqueue(ctx context.Context, client redis.UniversalClient, cfg Config, job *schema.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := client.RPush(ctx, cfg.QueueKey, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Run consumes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Worker started.", "queue", w.cfg.QueueKey)
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("Worker stopping.", "reason", err)
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			logger.Error("Queue read failed.", "error", err)
			if serr := w.sleep(ctx, w.cfg.BaseBackoff); serr != nil {
				return nil
			}
		}
	}
}

// ProcessNext blocks for up to the pop timeout, processes one job if
// available and handles its outcome. A timeout with an empty queue is not
// an error.
func (w *Worker) ProcessNext(ctx context.Context) error {
	popped, err := w.client.BLPop(ctx, w.cfg.PopTimeout, w.cfg.QueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pop from %s: %w", w.cfg.QueueKey, err)
	}
	payload := popped[1]

	var job schema.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Not even parseable: straight to the dead letter list.
		w.jobs.DeadLetters.Inc()
		return w.client.RPush(ctx, w.cfg.DeadLetterKey, payload).Err()
	}

	logger := ctxlog.FromContext(ctx).With("job_id", job.ID, "kind", string(job.Kind), "attempt", job.Attempt)
	w.jobs.Received.WithLabelValues(string(job.Kind)).Inc()
	w.jobs.Running.Inc()
	started := time.Now()

	output, procErr := process(ctx, &job)

	w.jobs.Running.Dec()
	w.jobs.Duration.Observe(time.Since(started).Seconds())

	if procErr == nil {
		logger.Debug("Job completed.")
		w.jobs.Completed.WithLabelValues(string(job.Kind)).Inc()
		return w.pushResult(ctx, schema.JobResult{
			JobID:  job.ID,
			Kind:   job.Kind,
			Status: "completed",
			Output: output,
		})
	}
	return w.handleFailure(ctx, &job, procErr)
}

// handleFailure applies the retry policy to a failed job.
func (w *Worker) handleFailure(ctx context.Context, job *schema.Job, procErr error) error {
	logger := ctxlog.FromContext(ctx).With("job_id", job.ID, "kind", string(job.Kind))

	if nonRetryable(procErr) {
		logger.Warn("Job failed with a configuration error, dead-lettering.", "error", procErr)
		w.jobs.Failed.WithLabelValues(string(job.Kind), "config").Inc()
		return w.deadLetter(ctx, job, procErr)
	}

	if job.Attempt+1 >= w.cfg.MaxAttempts {
		logger.Error("Job exhausted retry budget, dead-lettering.", "error", procErr, "attempts", job.Attempt+1)
		w.jobs.Failed.WithLabelValues(string(job.Kind), "exhausted").Inc()
		return w.deadLetter(ctx, job, procErr)
	}

	job.Attempt++
	logger.Warn("Job failed, re-queueing with backoff.", "error", procErr, "next_attempt", job.Attempt)
	w.jobs.Retried.Inc()
	if err := w.sleep(ctx, w.backoff(job.Attempt)); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("re-marshal job %s: %w", job.ID, err)
	}
	return w.client.RPush(ctx, w.cfg.QueueKey, payload).Err()
}

func (w *Worker) deadLetter(ctx context.Context, job *schema.Job, procErr error) error {
	w.jobs.DeadLetters.Inc()
	if err := w.pushResult(ctx, schema.JobResult{
		JobID:  job.ID,
		Kind:   job.Kind,
		Status: "failed",
		Error:  procErr.Error(),
	}); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dead letter %s: %w", job.ID, err)
	}
	return w.client.RPush(ctx, w.cfg.DeadLetterKey, payload).Err()
}

func (w *Worker) pushResult(ctx context.Context, result schema.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for job %s: %w", result.JobID, err)
	}
	return w.client.RPush(ctx, w.cfg.ResultsKey, payload).Err()
}

// nonRetryable reports whether the failure is deterministic: a malformed
// job or an invalid model will fail identically on every attempt.
func nonRetryable(err error) bool {
	return graph.IsConfigError(err) || errors.Is(err, errBadJob)
}

// backoff computes the capped exponential delay with full jitter for the
// given attempt number (1-based).
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff << (attempt - 1)
	if d > w.cfg.MaxBackoff || d <= 0 {
		d = w.cfg.MaxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
