package causal

import (
	"context"

	"github.com/vk/drivergrid/internal/ctxlog"
	"github.com/vk/drivergrid/internal/formula"
	"github.com/vk/drivergrid/internal/graph"
	"github.com/vk/drivergrid/internal/schema"
)

// bumpFactor is the fixed relative perturbation applied per driver during
// sensitivity analysis.
const bumpFactor = 1.10

// DriverSensitivity is one leaf driver's effect on a metric: the relative
// change in the metric's total caused by a 10% bump of the driver. Sign is
// preserved, so cost-side drivers naturally come out negative.
type DriverSensitivity struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Sensitivity float64 `json:"sensitivity"`
}

// DriversResult lists the discovered leaf drivers of a metric.
type DriversResult struct {
	Drivers []DriverSensitivity `json:"drivers"`
}

// AnalyzeDrivers discovers the leaf ancestors of metricID and measures each
// one's sensitivity. Every perturbation is fully restored before the next
// driver is evaluated; calling this twice in a row yields identical results.
func (a *Analyzer) AnalyzeDrivers(ctx context.Context, metricID string) (*DriversResult, error) {
	logger := ctxlog.FromContext(ctx)

	leaves, err := a.g.LeafAncestors(metricID)
	if err != nil {
		return nil, err
	}
	baseline, err := a.metricTotal(metricID)
	if err != nil {
		return nil, err
	}
	logger.Debug("Analyzing drivers.", "metric", metricID, "leaf_count", len(leaves))

	result := &DriversResult{Drivers: make([]DriverSensitivity, 0, len(leaves))}
	for _, leafID := range leaves {
		orig, err := a.g.Values(leafID)
		if err != nil {
			return nil, err
		}
		bumped := make([]float64, len(orig))
		for i, v := range orig {
			bumped[i] = v * bumpFactor
		}

		var after float64
		err = a.withOverrides(map[string][]float64{leafID: bumped}, func() error {
			var serr error
			after, serr = a.metricTotal(metricID)
			return serr
		})
		if err != nil {
			return nil, err
		}

		name, _ := a.g.Name(leafID)
		result.Drivers = append(result.Drivers, DriverSensitivity{
			ID:          leafID,
			Name:        name,
			Sensitivity: ratioOrZero(after-baseline, baseline),
		})
	}
	return result, nil
}

// WeakAssumption flags a leaf driver whose series is constant across all
// periods, meaning no real forecast or driver logic sits behind it.
type WeakAssumption struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// DetectWeakAssumptions scans every leaf driver for zero variance.
func (a *Analyzer) DetectWeakAssumptions(ctx context.Context) ([]WeakAssumption, error) {
	var weak []WeakAssumption
	for _, id := range a.g.IDs() {
		isLeaf, err := a.g.IsLeaf(id)
		if err != nil {
			return nil, err
		}
		if !isLeaf {
			continue
		}
		series, err := a.g.Values(id)
		if err != nil {
			return nil, err
		}
		if !isConstant(series) {
			continue
		}
		name, _ := a.g.Name(id)
		weak = append(weak, WeakAssumption{
			ID:     id,
			Name:   name,
			Reason: "value is constant across all periods; no driver logic or forecast behind it",
		})
	}
	ctxlog.FromContext(ctx).Debug("Weak assumption scan complete.", "flagged", len(weak))
	return weak, nil
}

func isConstant(series []float64) bool {
	if len(series) == 0 {
		return false
	}
	for _, v := range series[1:] {
		if v != series[0] {
			return false
		}
	}
	return true
}

// ScenarioResult compares a metric's total before and after a set of driver
// changes.
type ScenarioResult struct {
	Baseline        float64 `json:"baseline"`
	Scenario        float64 `json:"scenario"`
	VariancePercent float64 `json:"variance_percent"`
}

// SimulateScenario applies a relative change to each named leaf driver
// (0.2 means +20%), measures the metric's total under the combined change
// and restores the graph exactly.
func (a *Analyzer) SimulateScenario(ctx context.Context, metricID string, changes map[string]float64) (*ScenarioResult, error) {
	logger := ctxlog.FromContext(ctx)

	baseline, err := a.metricTotal(metricID)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string][]float64, len(changes))
	for driverID, pctDelta := range changes {
		orig, err := a.g.Values(driverID)
		if err != nil {
			return nil, err
		}
		scaled := make([]float64, len(orig))
		for i, v := range orig {
			scaled[i] = v * (1 + pctDelta)
		}
		overrides[driverID] = scaled
	}

	var scenario float64
	err = a.withOverrides(overrides, func() error {
		var serr error
		scenario, serr = a.metricTotal(metricID)
		return serr
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Scenario simulated.", "metric", metricID, "changed_drivers", len(changes))
	return &ScenarioResult{
		Baseline:        baseline,
		Scenario:        scenario,
		VariancePercent: ratioOrZero(scenario-baseline, baseline),
	}, nil
}

// VarianceDriver is one leaf driver's contribution to a metric's change
// between two periods.
type VarianceDriver struct {
	Driver              string  `json:"driver"`
	Delta               float64 `json:"delta"`
	ContributionPercent float64 `json:"contribution_percent"`
}

// VarianceResult is a one-factor-at-a-time waterfall decomposition of a
// metric's change between two periods.
//
// Because formulas may be non-linear, the individual driver deltas are not
// guaranteed to sum exactly to the total variance. That is an accepted
// property of one-factor-at-a-time attribution, not an error.
type VarianceResult struct {
	Baseline float64          `json:"baseline"`
	Current  float64          `json:"current"`
	Variance float64          `json:"variance"`
	Drivers  []VarianceDriver `json:"drivers"`
}

// ExplainVariance attributes the change in metricID between period indices
// a and b to its leaf drivers. Each driver is evaluated in isolation: its
// value at period a is temporarily replaced with its value at period b while
// every other driver keeps its period-a value.
func (a *Analyzer) ExplainVariance(ctx context.Context, metricID string, periodA, periodB int) (*VarianceResult, error) {
	if err := a.validatePeriodIndex("explain variance", periodA); err != nil {
		return nil, err
	}
	if err := a.validatePeriodIndex("explain variance", periodB); err != nil {
		return nil, err
	}

	metric, err := a.g.Values(metricID)
	if err != nil {
		return nil, err
	}
	baseline := metric[periodA]
	current := metric[periodB]
	total := current - baseline

	leaves, err := a.g.LeafAncestors(metricID)
	if err != nil {
		return nil, err
	}

	result := &VarianceResult{
		Baseline: baseline,
		Current:  current,
		Variance: total,
		Drivers:  make([]VarianceDriver, 0, len(leaves)),
	}
	for _, leafID := range leaves {
		orig, err := a.g.Values(leafID)
		if err != nil {
			return nil, err
		}
		substituted := append([]float64(nil), orig...)
		substituted[periodA] = orig[periodB]

		var delta float64
		err = a.withOverrides(map[string][]float64{leafID: substituted}, func() error {
			perturbed, verr := a.g.Values(metricID)
			if verr != nil {
				return verr
			}
			delta = perturbed[periodA] - baseline
			return nil
		})
		if err != nil {
			return nil, err
		}

		result.Drivers = append(result.Drivers, VarianceDriver{
			Driver:              leafID,
			Delta:               delta,
			ContributionPercent: ratioOrZero(delta, total),
		})
	}
	ctxlog.FromContext(ctx).Debug("Variance explained.", "metric", metricID, "total_variance", total)
	return result, nil
}

// ExplainMetricLogic returns human-readable equations for every formula in
// the transitive dependency closure of metricID, ordered so each equation's
// inputs appear before the equation itself. No numeric evaluation happens.
func (a *Analyzer) ExplainMetricLogic(ctx context.Context, metricID string) ([]string, error) {
	if !a.g.Contains(metricID) {
		return nil, &graph.ConfigError{Op: "explain metric logic", Driver: metricID, Err: graph.ErrUnknownNode}
	}

	var equations []string
	visited := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		visited[id] = true

		isLeaf, err := a.g.IsLeaf(id)
		if err != nil {
			return err
		}
		if isLeaf {
			return nil
		}
		deps, err := a.g.Dependencies(id)
		if err != nil {
			return err
		}
		for _, depID := range deps {
			if err := visit(depID); err != nil {
				return err
			}
		}
		src, err := a.g.Formula(id)
		if err != nil {
			return err
		}
		name, _ := a.g.Name(id)
		equations = append(equations, name+" = "+src)
		return nil
	}
	if err := visit(metricID); err != nil {
		return nil, err
	}
	return equations, nil
}

// parseTokens extracts the driver tokens referenced by a formula without
// attaching it to a graph.
func parseTokens(src string) ([]string, error) {
	expr, err := formula.Parse(src)
	if err != nil {
		return nil, err
	}
	return expr.Tokens(), nil
}

// resolveToken matches a formula token against the declared node specs,
// by id verbatim or by normalized name.
func resolveToken(token string, nodes []schema.NodeSpec) (string, bool) {
	for _, spec := range nodes {
		if token == spec.ID || token == graph.NormalizeName(spec.Name) {
			return spec.ID, true
		}
	}
	return "", false
}
