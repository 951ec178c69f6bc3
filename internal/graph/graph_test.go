package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Empty(t, g.IDs())
	assert.Zero(t, g.NumPeriods())
}

func TestAddDriver(t *testing.T) {
	g := New()

	require.NoError(t, g.AddDriver("pricing", "Unit Pricing", "revenue", ""))
	assert.True(t, g.Contains("pricing"))

	err := g.AddDriver("pricing", "Other", "revenue", "")
	assert.ErrorIs(t, err, ErrDuplicateNode)
	assert.True(t, IsConfigError(err))
}

func TestSetDriverValues(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		g := New()
		err := g.SetDriverValues("dne", []float64{1})
		assert.ErrorIs(t, err, ErrUnknownNode)
	})

	t.Run("derived drivers cannot be assigned", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("a", "A", "", ""))
		require.NoError(t, g.AddDriver("b", "B", "", ""))
		require.NoError(t, g.AddFormula("b", "a * 2", []string{"a"}))

		err := g.SetDriverValues("b", []float64{1})
		assert.ErrorIs(t, err, ErrDerivedAssignment)
	})

	t.Run("series length fixed by first assignment", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("a", "A", "", ""))
		require.NoError(t, g.AddDriver("b", "B", "", ""))
		require.NoError(t, g.SetDriverValues("a", []float64{1, 2, 3}))

		err := g.SetDriverValues("b", []float64{1, 2})
		assert.ErrorIs(t, err, ErrSeriesLength)
	})
}

func TestAddFormulaTokenResolution(t *testing.T) {
	t.Run("resolves by dependency id", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("arpu", "ARPU", "revenue", ""))
		require.NoError(t, g.AddDriver("customers", "Total Customers", "revenue", ""))
		require.NoError(t, g.AddDriver("revenue", "Revenue", "revenue", ""))

		err := g.AddFormula("revenue", "customers * arpu", []string{"customers", "arpu"})
		assert.NoError(t, err)
	})

	t.Run("resolves by normalized dependency name", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("d1", "Total Customers", "revenue", ""))
		require.NoError(t, g.AddDriver("d2", "ARPU", "revenue", ""))
		require.NoError(t, g.AddDriver("d3", "Revenue", "revenue", ""))

		err := g.AddFormula("d3", "total_customers * arpu", []string{"d1", "d2"})
		assert.NoError(t, err)
	})

	t.Run("unresolved token is fatal", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("a", "A", "", ""))
		require.NoError(t, g.AddDriver("b", "B", "", ""))

		err := g.AddFormula("b", "a * typo", []string{"a"})
		assert.ErrorIs(t, err, ErrUnresolvedToken)
	})

	t.Run("token matching two dependencies is fatal", func(t *testing.T) {
		g := New()
		// "volume" resolves to d1 by id and to d2 by normalized name.
		require.NoError(t, g.AddDriver("volume", "Old Volume", "", ""))
		require.NoError(t, g.AddDriver("d2", "Volume", "", ""))
		require.NoError(t, g.AddDriver("out", "Out", "", ""))

		err := g.AddFormula("out", "volume * 2", []string{"volume", "d2"})
		assert.ErrorIs(t, err, ErrAmbiguousToken)
	})

	t.Run("unknown dependency id", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("a", "A", "", ""))

		err := g.AddFormula("a", "dne * 2", []string{"dne"})
		assert.ErrorIs(t, err, ErrUnknownNode)
	})
}

func TestCycleDetection(t *testing.T) {
	t.Run("direct cycle rejected and rolled back", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("a", "A", "", ""))
		require.NoError(t, g.AddDriver("b", "B", "", ""))
		require.NoError(t, g.AddFormula("a", "b * 2", []string{"b"}))

		err := g.AddFormula("b", "a * 2", []string{"a"})
		assert.ErrorIs(t, err, ErrCycle)

		// The failed attach must not leave b derived.
		isLeaf, lerr := g.IsLeaf("b")
		require.NoError(t, lerr)
		assert.True(t, isLeaf)
		assert.NoError(t, g.SetDriverValues("b", []float64{1, 2}))
	})

	t.Run("longer cycle rejected", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, g.AddDriver(id, id, "", ""))
		}
		require.NoError(t, g.AddFormula("b", "a + 1", []string{"a"}))
		require.NoError(t, g.AddFormula("c", "b + 1", []string{"b"}))

		err := g.AddFormula("a", "c + 1", []string{"c"})
		assert.ErrorIs(t, err, ErrCycle)
	})

	t.Run("self reference rejected", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddDriver("a", "A", "", ""))

		err := g.AddFormula("a", "a + 1", []string{"a"})
		assert.ErrorIs(t, err, ErrCycle)
	})
}

// buildBurnModel is the three-period reference model: revenue from price and
// volume, burn as fixed costs minus revenue.
func buildBurnModel(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.AddDriver("pricing", "Unit Pricing", "revenue", ""))
	require.NoError(t, g.AddDriver("volume", "Sales Volume", "revenue", ""))
	require.NoError(t, g.AddDriver("fixed_costs", "Fixed Costs", "cost", ""))
	require.NoError(t, g.AddDriver("total_revenue", "Total Revenue", "revenue", ""))
	require.NoError(t, g.AddDriver("monthly_burn", "Monthly Burn", "cost", ""))

	require.NoError(t, g.SetDriverValues("pricing", []float64{100, 100, 110}))
	require.NoError(t, g.SetDriverValues("volume", []float64{500, 550, 600}))
	require.NoError(t, g.SetDriverValues("fixed_costs", []float64{20000, 20000, 21000}))

	require.NoError(t, g.AddFormula("total_revenue", "pricing * volume", []string{"pricing", "volume"}))
	require.NoError(t, g.AddFormula("monthly_burn", "fixed_costs - total_revenue", []string{"fixed_costs", "total_revenue"}))
	return g
}

func TestCompute(t *testing.T) {
	g := buildBurnModel(t)

	values, err := g.Compute()
	require.NoError(t, err)

	assert.Equal(t, []float64{50000, 55000, 66000}, values["total_revenue"])
	assert.Equal(t, []float64{-30000, -35000, -45000}, values["monthly_burn"])
}

func TestComputeNoCrossPeriodLeakage(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDriver("a", "A", "", ""))
	require.NoError(t, g.AddDriver("b", "B", "", ""))
	require.NoError(t, g.SetDriverValues("a", []float64{1, 10, 100}))
	require.NoError(t, g.AddFormula("b", "a * a", []string{"a"}))

	values, err := g.Compute()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 100, 10000}, values["b"])
}

func TestComputeDivisionByZero(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDriver("revenue", "Revenue", "", ""))
	require.NoError(t, g.AddDriver("customers", "Customers", "", ""))
	require.NoError(t, g.AddDriver("arpu", "ARPU", "", ""))
	require.NoError(t, g.SetDriverValues("revenue", []float64{100, 200}))
	require.NoError(t, g.SetDriverValues("customers", []float64{10, 0}))
	require.NoError(t, g.AddFormula("arpu", "revenue / customers", []string{"revenue", "customers"}))

	values, err := g.Compute()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 0}, values["arpu"])
}

func TestTopoOrderDeterminism(t *testing.T) {
	g := buildBurnModel(t)

	first := g.topoOrder()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.topoOrder())
	}
	// Independent leaves keep insertion order.
	assert.Equal(t, []string{"pricing", "volume", "fixed_costs", "total_revenue", "monthly_burn"}, first)
}

func TestMetadata(t *testing.T) {
	g := buildBurnModel(t)

	md := g.Metadata()
	assert.Len(t, md.Nodes, 5)
	assert.Len(t, md.Edges, 4)
	assert.Contains(t, md.Edges, Edge{From: "pricing", To: "total_revenue"})
	assert.Contains(t, md.Edges, Edge{From: "total_revenue", To: "monthly_burn"})
}

func TestLeafAncestors(t *testing.T) {
	g := buildBurnModel(t)

	leaves, err := g.LeafAncestors("monthly_burn")
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "volume", "fixed_costs"}, leaves)

	leaves, err = g.LeafAncestors("total_revenue")
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "volume"}, leaves)

	// A leaf is its own (only) leaf ancestor.
	leaves, err = g.LeafAncestors("pricing")
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing"}, leaves)
}
