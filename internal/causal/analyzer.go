// Package causal is the reasoning layer on top of a driver graph. It answers
// "what moves this metric" style questions by running controlled perturb ->
// recompute -> read -> restore cycles against the graph: sensitivity
// analysis, scenario simulation, variance attribution and weak-assumption
// detection.
//
// Every analysis brackets its mutations so the graph's stored series are
// bit-for-bit identical before and after the call, on every exit path
// including evaluation failures. One Analyzer owns one graph; instances must
// not be shared across concurrent analyses.
package causal

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vk/drivergrid/internal/ctxlog"
	"github.com/vk/drivergrid/internal/graph"
	"github.com/vk/drivergrid/internal/schema"
)

// fallbackPeriod labels the axis when neither explicit months nor per-period
// data keys are supplied.
const fallbackPeriod = "t0"

// Analyzer wraps one driver graph together with its period axis.
type Analyzer struct {
	g       *graph.Graph
	periods []string
}

// Graph exposes the underlying graph for introspection (metadata, values).
func (a *Analyzer) Graph() *graph.Graph {
	return a.g
}

// Periods returns the ordered period labels of the analysis axis.
func (a *Analyzer) Periods() []string {
	return append([]string(nil), a.periods...)
}

// Hydrate builds an Analyzer from a flat model specification. The period
// axis is taken from model.Months when present, otherwise inferred as the
// sorted union of period keys appearing in the data mapping. Scalar data is
// broadcast across the whole axis. Hydration finishes with a full recompute
// so derived series are immediately readable.
func Hydrate(ctx context.Context, model *schema.Model) (*Analyzer, error) {
	logger := ctxlog.FromContext(ctx)

	periods := append([]string(nil), model.Months...)
	if len(periods) == 0 {
		periods = inferPeriods(model.Data)
	}
	logger.Debug("Hydrating driver graph.", "nodes", len(model.Nodes), "periods", len(periods))

	g := graph.New()
	for _, spec := range model.Nodes {
		if err := g.AddDriver(spec.ID, spec.Name, spec.Category, spec.Subcategory); err != nil {
			return nil, err
		}
	}

	// Formulas attach in a second pass so declaration order inside the model
	// list never matters.
	for _, spec := range model.Nodes {
		if spec.Formula == "" {
			continue
		}
		deps := spec.Dependencies
		if len(deps) == 0 {
			inferred, err := inferDependencies(spec, model.Nodes)
			if err != nil {
				return nil, err
			}
			deps = inferred
		}
		if err := g.AddFormula(spec.ID, spec.Formula, deps); err != nil {
			return nil, err
		}
	}

	for _, spec := range model.Nodes {
		if spec.Formula != "" {
			continue
		}
		input, ok := model.Data[spec.ID]
		if !ok {
			// Leaves with no initial data stay at zero across the axis.
			if err := g.SetDriverValues(spec.ID, make([]float64, len(periods))); err != nil {
				return nil, err
			}
			continue
		}
		if err := g.SetDriverValues(spec.ID, materialize(input, periods)); err != nil {
			return nil, err
		}
	}

	if err := g.FullRecompute(); err != nil {
		return nil, err
	}
	logger.Debug("Hydration complete.", "drivers", len(g.IDs()))
	return &Analyzer{g: g, periods: periods}, nil
}

// inferPeriods collects the sorted union of period keys present in the data
// mapping. Month keys like "2025-01" sort correctly lexicographically.
func inferPeriods(data map[string]schema.SeriesInput) []string {
	seen := make(map[string]struct{})
	for _, input := range data {
		for period := range input.ByPeriod {
			seen[period] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return []string{fallbackPeriod}
	}
	periods := make([]string, 0, len(seen))
	for period := range seen {
		periods = append(periods, period)
	}
	sort.Strings(periods)
	return periods
}

// inferDependencies resolves a formula's tokens against all declared node
// specs when the spec does not list dependencies explicitly. Tokens match a
// node's id verbatim or the normalized form of its name; the graph rechecks
// ambiguity on attach.
func inferDependencies(spec schema.NodeSpec, nodes []schema.NodeSpec) ([]string, error) {
	parsed, err := parseTokens(spec.Formula)
	if err != nil {
		return nil, &graph.ConfigError{Op: "hydrate", Driver: spec.ID, Err: err}
	}
	var deps []string
	for _, token := range parsed {
		depID, ok := resolveToken(token, nodes)
		if !ok {
			return nil, &graph.ConfigError{Op: "hydrate", Driver: spec.ID, Err: graph.ErrUnresolvedToken}
		}
		deps = append(deps, depID)
	}
	return deps, nil
}

func materialize(input schema.SeriesInput, periods []string) []float64 {
	values := make([]float64, len(periods))
	if input.Scalar != nil {
		for i := range values {
			values[i] = *input.Scalar
		}
		return values
	}
	for i, period := range periods {
		values[i] = input.ByPeriod[period]
	}
	return values
}

// metricTotal sums a driver's series across the whole axis.
func (a *Analyzer) metricTotal(id string) (float64, error) {
	series, err := a.g.Values(id)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, v := range series {
		total += v
	}
	return total, nil
}

// withOverrides runs fn with the given leaf series temporarily in place.
// Originals are captured before any mutation and restoration plus a final
// recompute are guaranteed on every exit path, so a failed analysis never
// leaves the graph perturbed.
func (a *Analyzer) withOverrides(overrides map[string][]float64, fn func() error) (err error) {
	originals := make(map[string][]float64, len(overrides))
	for id := range overrides {
		orig, verr := a.g.Values(id)
		if verr != nil {
			return verr
		}
		originals[id] = orig
	}

	defer func() {
		for id, orig := range originals {
			if rerr := a.g.SetDriverValues(id, orig); rerr != nil && err == nil {
				err = rerr
			}
		}
		if rerr := a.g.FullRecompute(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	for id, series := range overrides {
		if err = a.g.SetDriverValues(id, series); err != nil {
			return err
		}
	}
	if err = a.g.FullRecompute(); err != nil {
		return err
	}
	return fn()
}

// ratioOrZero divides delta by base, reporting 0 for a zero base instead of
// blowing up on degenerate models.
func ratioOrZero(delta, base float64) float64 {
	if base == 0 {
		return 0
	}
	return delta / base
}

func (a *Analyzer) validatePeriodIndex(op string, idx int) error {
	if idx < 0 || idx >= a.g.NumPeriods() {
		return &graph.ConfigError{Op: op, Err: fmt.Errorf("period index %d outside axis of length %d: %w", idx, a.g.NumPeriods(), errInvalidPeriod)}
	}
	return nil
}

// errInvalidPeriod marks an out-of-range period index in a variance request.
var errInvalidPeriod = errors.New("period index out of range")
