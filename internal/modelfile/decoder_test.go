package modelfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/drivergrid/internal/causal"
)

func writeModel(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.hcl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const burnModel = `
periods = ["2025-01", "2025-02", "2025-03"]
metrics = ["monthly_burn"]

driver "pricing" {
  name     = "Unit Pricing"
  category = "revenue"
  values   = [100, 100, 110]
}

driver "volume" {
  name     = "Sales Volume"
  category = "revenue"
  values   = [500, 550, 600]
}

driver "fixed_costs" {
  name     = "Fixed Costs"
  category = "cost"
  values   = [20000, 20000, 21000]
}

driver "total_revenue" {
  name       = "Total Revenue"
  category   = "revenue"
  formula    = "pricing * volume"
  depends_on = ["pricing", "volume"]
}

driver "monthly_burn" {
  name       = "Monthly Burn"
  category   = "cost"
  formula    = "fixed_costs - total_revenue"
  depends_on = ["fixed_costs", "total_revenue"]
}

scenario "price_hike" {
  metric  = "monthly_burn"
  changes = { pricing = 0.1 }
}

variance {
  metric = "monthly_burn"
  from   = 0
  to     = 2
}
`

func TestDecode(t *testing.T) {
	path := writeModel(t, burnModel)

	file, err := Decode(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-01", "2025-02", "2025-03"}, file.Periods)
	assert.Equal(t, []string{"monthly_burn"}, file.Metrics)
	require.Len(t, file.Drivers, 5)
	require.Len(t, file.Scenarios, 1)
	assert.Equal(t, "price_hike", file.Scenarios[0].Name)
	assert.Equal(t, map[string]float64{"pricing": 0.1}, file.Scenarios[0].Changes)
	require.Len(t, file.Variances, 1)
	assert.Equal(t, 2, file.Variances[0].To)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("malformed syntax", func(t *testing.T) {
		path := writeModel(t, `driver "a" {`)
		_, err := Decode(context.Background(), path)
		assert.ErrorContains(t, err, "failed to parse")
	})

	t.Run("no drivers", func(t *testing.T) {
		path := writeModel(t, `periods = ["2025-01"]`)
		_, err := Decode(context.Background(), path)
		assert.ErrorContains(t, err, "declares no drivers")
	})

	t.Run("formula and values on one driver", func(t *testing.T) {
		path := writeModel(t, `
driver "a" {
  name    = "A"
  formula = "b * 2"
  values  = [1]
}
`)
		_, err := Decode(context.Background(), path)
		assert.ErrorContains(t, err, "both a formula and values")
	})

	t.Run("value count mismatch", func(t *testing.T) {
		path := writeModel(t, `
periods = ["2025-01", "2025-02"]
driver "a" {
  name   = "A"
  values = [1, 2, 3]
}
`)
		_, err := Decode(context.Background(), path)
		assert.ErrorContains(t, err, "3 values for 2 periods")
	})
}

func TestToModelHydrates(t *testing.T) {
	path := writeModel(t, burnModel)
	file, err := Decode(context.Background(), path)
	require.NoError(t, err)

	analyzer, err := causal.Hydrate(context.Background(), file.ToModel())
	require.NoError(t, err)

	revenue, err := analyzer.Graph().Values("total_revenue")
	require.NoError(t, err)
	assert.Equal(t, []float64{50000, 55000, 66000}, revenue)

	md := analyzer.Graph().Metadata()
	assert.Len(t, md.Nodes, 5)
	assert.Len(t, md.Edges, 4)
}

func TestToModelSyntheticPeriods(t *testing.T) {
	path := writeModel(t, `
driver "a" {
  name   = "A"
  values = [1, 2, 3, 4]
}
driver "b" {
  name  = "B"
  value = 7
}
`)
	file, err := Decode(context.Background(), path)
	require.NoError(t, err)

	model := file.ToModel()
	assert.Equal(t, []string{"t0", "t1", "t2", "t3"}, model.Months)
	assert.NotNil(t, model.Data["b"].Scalar)
}
