// Package graph implements the driver dependency graph: named financial
// drivers connected by formulas, each carrying a per-period numeric series.
//
// Drivers are either leaves (series assigned directly) or derived (series
// produced only by evaluating a formula over dependency values). The
// dependency relation must stay acyclic; every structural mistake (duplicate
// id, unknown id, unresolved token, cycle) is caught while the graph is being
// built and never surfaces mid-computation.
//
// Nodes hold no references to each other, only ids resolved through the
// graph's lookup maps, so cycle detection and topological ordering stay pure
// graph algorithms and the structure remains trivially serializable.
package graph

import (
	"strings"

	"github.com/vk/drivergrid/internal/formula"
)

// driver is a single vertex. It is un-exported to force interaction through
// the Graph API using string ids, never direct struct manipulation.
type driver struct {
	id          string
	name        string
	category    string
	subcategory string

	// expr is nil for leaf drivers.
	expr       *formula.Expression
	formulaSrc string
	// bindings maps formula tokens to resolved dependency ids.
	bindings map[string]string

	// deps are dependency ids in declaration order; dependents is kept as a
	// set for traversal in the opposite direction.
	deps       []string
	dependents map[string]struct{}

	series []float64
}

func (d *driver) isLeaf() bool {
	return d.expr == nil
}

// Graph holds all drivers keyed by id. It is owned by a single analysis
// session and is not safe for concurrent mutation.
type Graph struct {
	nodes map[string]*driver
	// order records insertion order for deterministic iteration and
	// topological tie-breaking.
	order []string

	numPeriods int
}

// New returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*driver)}
}

// AddDriver registers a new driver node with no formula and no values.
func (g *Graph) AddDriver(id, name, category, subcategory string) error {
	if _, exists := g.nodes[id]; exists {
		return configErr("add driver", id, ErrDuplicateNode)
	}
	g.nodes[id] = &driver{
		id:          id,
		name:        name,
		category:    category,
		subcategory: subcategory,
		dependents:  make(map[string]struct{}),
	}
	g.order = append(g.order, id)
	return nil
}

// SetDriverValues assigns a leaf driver's series. The first assignment on an
// empty graph fixes the period axis length; later assignments must match it.
// Derived drivers cannot be assigned.
func (g *Graph) SetDriverValues(id string, values []float64) error {
	node, ok := g.nodes[id]
	if !ok {
		return configErr("set driver values", id, ErrUnknownNode)
	}
	if !node.isLeaf() {
		return configErr("set driver values", id, ErrDerivedAssignment)
	}
	if g.numPeriods == 0 {
		g.numPeriods = len(values)
	} else if len(values) != g.numPeriods {
		return configErr("set driver values", id, ErrSeriesLength)
	}
	node.series = append([]float64(nil), values...)
	return nil
}

// AddFormula attaches a formula to an existing driver, turning it into a
// derived node. Each token in the expression must resolve to exactly one of
// the declared dependencies, either by the dependency's id verbatim or by
// the lower-cased, underscore-joined form of its name. Edges implied by the
// dependencies must not create a cycle.
func (g *Graph) AddFormula(id, expression string, dependencyIDs []string) error {
	node, ok := g.nodes[id]
	if !ok {
		return configErr("add formula", id, ErrUnknownNode)
	}
	if node.expr != nil {
		return configErr("add formula", id, ErrFormulaExists)
	}

	expr, err := formula.Parse(expression)
	if err != nil {
		return configErr("add formula", id, err)
	}

	// Build the token resolution table for the declared dependencies. A
	// token matching two different dependencies is a fatal ambiguity, never
	// resolved by precedence.
	resolution := make(map[string]string, len(dependencyIDs)*2)
	for _, depID := range dependencyIDs {
		dep, ok := g.nodes[depID]
		if !ok {
			return configErr("add formula", depID, ErrUnknownNode)
		}
		for _, token := range []string{depID, NormalizeName(dep.name)} {
			if prev, clash := resolution[token]; clash && prev != depID {
				return configErr("add formula", id, ErrAmbiguousToken)
			}
			resolution[token] = depID
		}
	}

	bindings := make(map[string]string)
	for _, token := range expr.Tokens() {
		depID, ok := resolution[token]
		if !ok {
			return configErr("add formula", id, ErrUnresolvedToken)
		}
		bindings[token] = depID
	}

	// Attach tentatively, then verify acyclicity. Roll everything back if
	// the new edges close a loop.
	node.expr = expr
	node.formulaSrc = expression
	node.bindings = bindings
	node.deps = append([]string(nil), dependencyIDs...)
	node.series = nil
	for _, depID := range dependencyIDs {
		g.nodes[depID].dependents[id] = struct{}{}
	}

	if err := g.detectCycles(); err != nil {
		for _, depID := range dependencyIDs {
			delete(g.nodes[depID].dependents, id)
		}
		node.expr = nil
		node.formulaSrc = ""
		node.bindings = nil
		node.deps = nil
		return configErr("add formula", id, err)
	}
	return nil
}

// detectCycles runs a classic three-state depth-first search over the
// dependent edges and fails on the first back edge.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(d *driver) error
	visit = func(d *driver) error {
		if permanent[d.id] {
			return nil
		}
		if temporary[d.id] {
			return ErrCycle
		}
		temporary[d.id] = true
		for dependentID := range d.dependents {
			if err := visit(g.nodes[dependentID]); err != nil {
				return err
			}
		}
		delete(temporary, d.id)
		permanent[d.id] = true
		return nil
	}

	for _, id := range g.order {
		if !permanent[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

// NormalizeName lowers a human driver name into its formula token form,
// e.g. "Total Customers" -> "total_customers".
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

// NumPeriods returns the length of the shared period axis.
func (g *Graph) NumPeriods() int {
	return g.numPeriods
}

// IDs returns all driver ids in insertion order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Contains reports whether a driver id is registered.
func (g *Graph) Contains(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Name returns the human label of a driver.
func (g *Graph) Name(id string) (string, error) {
	node, ok := g.nodes[id]
	if !ok {
		return "", configErr("name", id, ErrUnknownNode)
	}
	return node.name, nil
}

// IsLeaf reports whether the driver has no formula.
func (g *Graph) IsLeaf(id string) (bool, error) {
	node, ok := g.nodes[id]
	if !ok {
		return false, configErr("is leaf", id, ErrUnknownNode)
	}
	return node.isLeaf(), nil
}

// Formula returns the formula source of a derived driver, or "" for a leaf.
func (g *Graph) Formula(id string) (string, error) {
	node, ok := g.nodes[id]
	if !ok {
		return "", configErr("formula", id, ErrUnknownNode)
	}
	return node.formulaSrc, nil
}

// Dependencies returns a driver's dependency ids in declaration order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	node, ok := g.nodes[id]
	if !ok {
		return nil, configErr("dependencies", id, ErrUnknownNode)
	}
	return append([]string(nil), node.deps...), nil
}

// Values returns a copy of the driver's stored series. Leaf drivers that
// were never assigned report a zero series along the period axis.
func (g *Graph) Values(id string) ([]float64, error) {
	node, ok := g.nodes[id]
	if !ok {
		return nil, configErr("values", id, ErrUnknownNode)
	}
	if node.series == nil {
		return make([]float64, g.numPeriods), nil
	}
	return append([]float64(nil), node.series...), nil
}

// LeafAncestors returns the leaf drivers in the transitive dependency
// closure of id, in graph insertion order. Derived intermediates are
// traversed but excluded from the result.
func (g *Graph) LeafAncestors(id string) ([]string, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, configErr("leaf ancestors", id, ErrUnknownNode)
	}
	found := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(d *driver)
	visit = func(d *driver) {
		if visited[d.id] {
			return
		}
		visited[d.id] = true
		if d.isLeaf() {
			found[d.id] = true
			return
		}
		for _, depID := range d.deps {
			visit(g.nodes[depID])
		}
	}
	visit(g.nodes[id])

	leaves := make([]string, 0, len(found))
	for _, candidate := range g.order {
		if found[candidate] {
			leaves = append(leaves, candidate)
		}
	}
	return leaves, nil
}
