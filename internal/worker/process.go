package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vk/drivergrid/internal/causal"
	"github.com/vk/drivergrid/internal/forecast"
	"github.com/vk/drivergrid/internal/schema"
)

// computeOutput is the payload for plain compute jobs: every series plus
// the structural metadata the callers render graphs from.
type computeOutput struct {
	Values   map[string][]float64 `json:"values"`
	Periods  []string             `json:"periods"`
	Metadata any                  `json:"metadata"`
}

type logicOutput struct {
	Equations []string `json:"equations"`
}

// process runs a single job and marshals its output. Every kind except
// forecast hydrates a fresh analyzer from the job's model, so failed jobs
// leave no state behind.
func process(ctx context.Context, job *schema.Job) (json.RawMessage, error) {
	if job.Kind == schema.JobForecast {
		return processForecast(job)
	}

	if job.Model == nil {
		return nil, fmt.Errorf("%w: kind %q requires a model", errBadJob, job.Kind)
	}
	analyzer, err := causal.Hydrate(ctx, job.Model)
	if err != nil {
		return nil, err
	}

	switch job.Kind {
	case schema.JobCompute:
		values, err := analyzer.Graph().Compute()
		if err != nil {
			return nil, err
		}
		return marshalOutput(computeOutput{
			Values:   values,
			Periods:  analyzer.Periods(),
			Metadata: analyzer.Graph().Metadata(),
		})

	case schema.JobAnalyzeDrivers:
		metric, err := requireMetric(job)
		if err != nil {
			return nil, err
		}
		result, err := analyzer.AnalyzeDrivers(ctx, metric)
		if err != nil {
			return nil, err
		}
		return marshalOutput(result)

	case schema.JobSimulateScenario:
		metric, err := requireMetric(job)
		if err != nil {
			return nil, err
		}
		result, err := analyzer.SimulateScenario(ctx, metric, job.Params.Changes)
		if err != nil {
			return nil, err
		}
		return marshalOutput(result)

	case schema.JobExplainVariance:
		metric, err := requireMetric(job)
		if err != nil {
			return nil, err
		}
		result, err := analyzer.ExplainVariance(ctx, metric, job.Params.PeriodA, job.Params.PeriodB)
		if err != nil {
			return nil, err
		}
		return marshalOutput(result)

	case schema.JobWeakAssumptions:
		result, err := analyzer.DetectWeakAssumptions(ctx)
		if err != nil {
			return nil, err
		}
		return marshalOutput(result)

	case schema.JobExplainLogic:
		metric, err := requireMetric(job)
		if err != nil {
			return nil, err
		}
		equations, err := analyzer.ExplainMetricLogic(ctx, metric)
		if err != nil {
			return nil, err
		}
		return marshalOutput(logicOutput{Equations: equations})

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", errBadJob, job.Kind)
	}
}

func processForecast(job *schema.Job) (json.RawMessage, error) {
	if len(job.Params.History) == 0 {
		return nil, fmt.Errorf("%w: forecast requires a history series", errBadJob)
	}
	if job.Params.Steps <= 0 {
		return nil, fmt.Errorf("%w: forecast requires a positive step count", errBadJob)
	}

	var result forecast.Result
	switch job.Params.Method {
	case "", "arima":
		result = forecast.ARIMA(job.Params.History, job.Params.Steps)
	case "trend":
		result = forecast.Trend(job.Params.History, job.Params.Steps)
	default:
		return nil, fmt.Errorf("%w: unknown forecast method %q", errBadJob, job.Params.Method)
	}
	return marshalOutput(result)
}

func requireMetric(job *schema.Job) (string, error) {
	if job.Params.MetricID == "" {
		return "", fmt.Errorf("%w: kind %q requires a metric id", errBadJob, job.Kind)
	}
	return job.Params.MetricID, nil
}

func marshalOutput(v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal job output: %w", err)
	}
	return payload, nil
}
