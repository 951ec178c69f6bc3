package schema

import "encoding/json"

// JobKind enumerates the analysis operations a queued job may request.
type JobKind string

const (
	JobCompute          JobKind = "compute"
	JobAnalyzeDrivers   JobKind = "analyze_drivers"
	JobSimulateScenario JobKind = "simulate_scenario"
	JobExplainVariance  JobKind = "explain_variance"
	JobWeakAssumptions  JobKind = "detect_weak_assumptions"
	JobExplainLogic     JobKind = "explain_metric_logic"
	JobForecast         JobKind = "forecast"
)

// Job is one unit of queued analysis work: a model to hydrate plus the
// operation to run against it.
type Job struct {
	ID      string  `json:"id"`
	Kind    JobKind `json:"kind"`
	Model   *Model  `json:"model,omitempty"`
	Params  Params  `json:"params,omitempty"`
	Attempt int     `json:"attempt,omitempty"`
}

// Params carries the per-operation arguments. Unused fields stay at their
// zero value for kinds that do not need them.
type Params struct {
	MetricID string             `json:"metric_id,omitempty"`
	Changes  map[string]float64 `json:"changes,omitempty"`
	PeriodA  int                `json:"period_a,omitempty"`
	PeriodB  int                `json:"period_b,omitempty"`
	History  []float64          `json:"history,omitempty"`
	Steps    int                `json:"steps,omitempty"`
	Method   string             `json:"method,omitempty"`
}

// JobResult is the envelope pushed to the results list after processing.
type JobResult struct {
	JobID  string          `json:"job_id"`
	Kind   JobKind         `json:"kind"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}
