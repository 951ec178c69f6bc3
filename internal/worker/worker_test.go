package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/drivergrid/internal/causal"
	"github.com/vk/drivergrid/internal/metrics"
	"github.com/vk/drivergrid/internal/schema"
)

func testWorker(t *testing.T) (*Worker, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultConfig()
	cfg.PopTimeout = 100 * time.Millisecond
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 4 * time.Millisecond
	cfg.MaxAttempts = 3

	jobs := metrics.NewJob(prometheus.NewRegistry())
	return New(client, cfg, jobs), client
}

func burnJob(kind schema.JobKind, params schema.Params) *schema.Job {
	return &schema.Job{
		Kind: kind,
		Model: &schema.Model{
			Nodes: []schema.NodeSpec{
				{ID: "pricing", Name: "Pricing"},
				{ID: "volume", Name: "Volume"},
				{ID: "revenue", Name: "Revenue", Formula: "pricing * volume", Dependencies: []string{"pricing", "volume"}},
			},
			Data: map[string]schema.SeriesInput{
				"pricing": schema.Scalar(50),
				"volume":  schema.ByPeriod(map[string]float64{"2025-01": 1000, "2025-02": 1100}),
			},
		},
		Params: params,
	}
}

func popResult(t *testing.T, client redis.UniversalClient, cfg Config) schema.JobResult {
	t.Helper()
	payload, err := client.LPop(context.Background(), cfg.ResultsKey).Result()
	require.NoError(t, err)
	var result schema.JobResult
	require.NoError(t, json.Unmarshal([]byte(payload), &result))
	return result
}

func TestProcessNextCompute(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	id, err := Enqueue(ctx, client, w.cfg, burnJob(schema.JobCompute, schema.Params{}))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, w.ProcessNext(ctx))

	result := popResult(t, client, w.cfg)
	assert.Equal(t, id, result.JobID)
	assert.Equal(t, "completed", result.Status)

	var output computeOutput
	require.NoError(t, json.Unmarshal(result.Output, &output))
	assert.Equal(t, []float64{50000, 55000}, output.Values["revenue"])
	assert.Equal(t, []string{"2025-01", "2025-02"}, output.Periods)

	assert.Equal(t, float64(1), testutil.ToFloat64(w.jobs.Completed.WithLabelValues("compute")))
}

func TestProcessNextAnalyzeDrivers(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	_, err := Enqueue(ctx, client, w.cfg, burnJob(schema.JobAnalyzeDrivers, schema.Params{MetricID: "revenue"}))
	require.NoError(t, err)
	require.NoError(t, w.ProcessNext(ctx))

	result := popResult(t, client, w.cfg)
	require.Equal(t, "completed", result.Status)

	var output causal.DriversResult
	require.NoError(t, json.Unmarshal(result.Output, &output))
	require.Len(t, output.Drivers, 2)
	for _, d := range output.Drivers {
		assert.InDelta(t, 0.10, d.Sensitivity, 1e-9)
	}
}

func TestProcessNextForecast(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	_, err := Enqueue(ctx, client, w.cfg, &schema.Job{
		Kind:   schema.JobForecast,
		Params: schema.Params{History: []float64{100, 100, 100, 100}, Steps: 3, Method: "trend"},
	})
	require.NoError(t, err)
	require.NoError(t, w.ProcessNext(ctx))

	result := popResult(t, client, w.cfg)
	require.Equal(t, "completed", result.Status)

	var output struct {
		Mean []float64 `json:"mean"`
	}
	require.NoError(t, json.Unmarshal(result.Output, &output))
	require.Len(t, output.Mean, 3)
	assert.InDelta(t, 100, output.Mean[0], 1e-9)
}

func TestInvalidJobDeadLettersImmediately(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	// Missing metric id: deterministic, must not burn retries.
	_, err := Enqueue(ctx, client, w.cfg, burnJob(schema.JobAnalyzeDrivers, schema.Params{}))
	require.NoError(t, err)
	require.NoError(t, w.ProcessNext(ctx))

	result := popResult(t, client, w.cfg)
	assert.Equal(t, "failed", result.Status)
	assert.Contains(t, result.Error, "metric id")

	deadLetters, err := client.LLen(ctx, w.cfg.DeadLetterKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deadLetters)

	queued, err := client.LLen(ctx, w.cfg.QueueKey).Result()
	require.NoError(t, err)
	assert.Zero(t, queued)

	assert.Equal(t, float64(1), testutil.ToFloat64(w.jobs.Failed.WithLabelValues("analyze_drivers", "config")))
}

func TestConfigErrorDeadLettersImmediately(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	job := burnJob(schema.JobCompute, schema.Params{})
	job.Model.Nodes = append(job.Model.Nodes, schema.NodeSpec{ID: "pricing", Name: "Duplicate"})

	_, err := Enqueue(ctx, client, w.cfg, job)
	require.NoError(t, err)
	require.NoError(t, w.ProcessNext(ctx))

	result := popResult(t, client, w.cfg)
	assert.Equal(t, "failed", result.Status)

	queued, err := client.LLen(ctx, w.cfg.QueueKey).Result()
	require.NoError(t, err)
	assert.Zero(t, queued, "configuration errors must not be re-queued")
}

func TestUnparseablePayloadDeadLetters(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, w.cfg.QueueKey, "not json").Err())
	require.NoError(t, w.ProcessNext(ctx))

	payload, err := client.LPop(ctx, w.cfg.DeadLetterKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "not json", payload)
}

func TestHandleFailureRetriesWithBackoff(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	job := &schema.Job{ID: "job-1", Kind: schema.JobCompute}
	require.NoError(t, w.handleFailure(ctx, job, errors.New("transient outage")))

	payload, err := client.LPop(ctx, w.cfg.QueueKey).Result()
	require.NoError(t, err)

	var requeued schema.Job
	require.NoError(t, json.Unmarshal([]byte(payload), &requeued))
	assert.Equal(t, "job-1", requeued.ID)
	assert.Equal(t, 1, requeued.Attempt)

	assert.Equal(t, float64(1), testutil.ToFloat64(w.jobs.Retried))
}

func TestHandleFailureExhaustsAttempts(t *testing.T) {
	w, client := testWorker(t)
	ctx := context.Background()

	job := &schema.Job{ID: "job-2", Kind: schema.JobCompute, Attempt: w.cfg.MaxAttempts - 1}
	require.NoError(t, w.handleFailure(ctx, job, errors.New("transient outage")))

	queued, err := client.LLen(ctx, w.cfg.QueueKey).Result()
	require.NoError(t, err)
	assert.Zero(t, queued)

	deadLetters, err := client.LLen(ctx, w.cfg.DeadLetterKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deadLetters)

	result := popResult(t, client, w.cfg)
	assert.Equal(t, "failed", result.Status)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	w, _ := testWorker(t)
	assert.NoError(t, w.ProcessNext(context.Background()))
}

func TestBackoffCappedAndJittered(t *testing.T) {
	w, _ := testWorker(t)
	for attempt := 1; attempt <= 10; attempt++ {
		d := w.backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, w.cfg.MaxBackoff)
	}
}
