// Package modelfile loads driver models from HCL files on disk. A model
// file declares the period axis, the drivers (leaves with values, derived
// drivers with formulas) and the analyses to run against them.
package modelfile

import "fmt"

// Driver is one `driver "<id>" { ... }` block. A block with a formula is a
// derived driver; otherwise it is a leaf holding either a scalar value or
// one value per period.
type Driver struct {
	ID          string   `hcl:"id,label"`
	Name        string   `hcl:"name"`
	Category    string   `hcl:"category,optional"`
	Subcategory string   `hcl:"subcategory,optional"`
	Formula     string   `hcl:"formula,optional"`
	DependsOn   []string `hcl:"depends_on,optional"`
	Value       *float64 `hcl:"value,optional"`
	Values      []float64 `hcl:"values,optional"`
}

// Scenario is one `scenario "<name>" { ... }` block: a set of relative
// driver changes to simulate against a metric.
type Scenario struct {
	Name    string             `hcl:"name,label"`
	Metric  string             `hcl:"metric"`
	Changes map[string]float64 `hcl:"changes"`
}

// Variance is a `variance { ... }` block: a waterfall request between two
// period indices.
type Variance struct {
	Metric string `hcl:"metric"`
	From   int    `hcl:"from"`
	To     int    `hcl:"to"`
}

// File is the top-level structure of one model file.
type File struct {
	Periods   []string    `hcl:"periods,optional"`
	Metrics   []string    `hcl:"metrics,optional"`
	Drivers   []*Driver   `hcl:"driver,block"`
	Scenarios []*Scenario `hcl:"scenario,block"`
	Variances []*Variance `hcl:"variance,block"`
}

// validate catches the structural mistakes that HCL decoding cannot.
func (f *File) validate(path string) error {
	if len(f.Drivers) == 0 {
		return fmt.Errorf("model file %s declares no drivers", path)
	}
	for _, d := range f.Drivers {
		if d.Formula != "" && (d.Value != nil || len(d.Values) > 0) {
			return fmt.Errorf("model file %s: driver %q has both a formula and values", path, d.ID)
		}
		if len(d.Values) > 0 && len(f.Periods) > 0 && len(d.Values) != len(f.Periods) {
			return fmt.Errorf("model file %s: driver %q has %d values for %d periods", path, d.ID, len(d.Values), len(f.Periods))
		}
	}
	return nil
}
