package graph

// topoOrder returns every driver id in dependency-first order using Kahn's
// algorithm. Ties between drivers that are ready at the same time are broken
// by insertion order, so the result is fully deterministic.
func (g *Graph) topoOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = len(g.nodes[id].deps)
	}

	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, id)

		// Collect newly-ready dependents, then append them in insertion
		// order to keep the traversal stable.
		unlocked := make(map[string]bool)
		for dependentID := range g.nodes[id].dependents {
			indegree[dependentID]--
			if indegree[dependentID] == 0 {
				unlocked[dependentID] = true
			}
		}
		for _, candidate := range g.order {
			if unlocked[candidate] {
				ready = append(ready, candidate)
			}
		}
	}
	return ordered
}

// FullRecompute re-evaluates every derived driver's stored series in place,
// in topological order, from the current leaf series. Each period is
// evaluated independently; dependency values never leak across periods.
func (g *Graph) FullRecompute() error {
	for _, id := range g.topoOrder() {
		node := g.nodes[id]
		if node.isLeaf() {
			continue
		}

		series := make([]float64, g.numPeriods)
		vars := make(map[string]float64, len(node.bindings))
		for p := 0; p < g.numPeriods; p++ {
			for token, depID := range node.bindings {
				dep := g.nodes[depID]
				if dep.series == nil {
					vars[token] = 0
				} else {
					vars[token] = dep.series[p]
				}
			}
			v, err := node.expr.Eval(vars)
			if err != nil {
				return &EvalError{Driver: id, Period: p, Err: err}
			}
			series[p] = v
		}
		node.series = series
	}
	return nil
}

// Compute runs a full recompute and returns a snapshot of every driver's
// series keyed by driver id.
func (g *Graph) Compute() (map[string][]float64, error) {
	if err := g.FullRecompute(); err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(g.nodes))
	for _, id := range g.order {
		series, _ := g.Values(id)
		out[id] = series
	}
	return out, nil
}

// NodeInfo describes one driver for introspection and visualization.
type NodeInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
	Formula     string `json:"formula,omitempty"`
	IsLeaf      bool   `json:"is_leaf"`
}

// Edge is a single (dependency -> dependent) pair.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Metadata describes the whole graph structure.
type Metadata struct {
	Nodes []NodeInfo `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Metadata returns the node list and the edge list, nodes in insertion order
// and edges grouped by dependent in its declaration order.
func (g *Graph) Metadata() Metadata {
	md := Metadata{}
	for _, id := range g.order {
		node := g.nodes[id]
		md.Nodes = append(md.Nodes, NodeInfo{
			ID:          node.id,
			Name:        node.name,
			Category:    node.category,
			Subcategory: node.subcategory,
			Formula:     node.formulaSrc,
			IsLeaf:      node.isLeaf(),
		})
		for _, depID := range node.deps {
			md.Edges = append(md.Edges, Edge{From: depID, To: id})
		}
	}
	return md
}
