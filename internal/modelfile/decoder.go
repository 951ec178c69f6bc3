package modelfile

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/drivergrid/internal/ctxlog"
	"github.com/vk/drivergrid/internal/schema"
)

// Decode parses and decodes a single HCL model file.
func Decode(ctx context.Context, filePath string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding model file.", "path", filePath)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse model file %s: %s", filePath, diags.Error())
	}

	var model File
	diags = gohcl.DecodeBody(file.Body, nil, &model)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode model file %s: %s", filePath, diags.Error())
	}
	if err := model.validate(filePath); err != nil {
		return nil, err
	}

	logger.Debug("Model file decoded.", "path", filePath, "drivers", len(model.Drivers), "scenarios", len(model.Scenarios))
	return &model, nil
}

// ToModel lowers the decoded file into the engine's hydration payload. When
// the file omits the period axis, synthetic labels t0..tN-1 are generated
// from the longest value list.
func (f *File) ToModel() *schema.Model {
	periods := append([]string(nil), f.Periods...)
	if len(periods) == 0 {
		longest := 1
		for _, d := range f.Drivers {
			if len(d.Values) > longest {
				longest = len(d.Values)
			}
		}
		for i := 0; i < longest; i++ {
			periods = append(periods, fmt.Sprintf("t%d", i))
		}
	}

	model := &schema.Model{
		Months: periods,
		Data:   make(map[string]schema.SeriesInput),
	}
	for _, d := range f.Drivers {
		model.Nodes = append(model.Nodes, schema.NodeSpec{
			ID:           d.ID,
			Name:         d.Name,
			Category:     d.Category,
			Subcategory:  d.Subcategory,
			Formula:      d.Formula,
			Dependencies: d.DependsOn,
		})
		if d.Formula != "" {
			continue
		}
		if len(d.Values) > 0 {
			byPeriod := make(map[string]float64, len(d.Values))
			for i, v := range d.Values {
				if i < len(periods) {
					byPeriod[periods[i]] = v
				}
			}
			model.Data[d.ID] = schema.ByPeriod(byPeriod)
		} else if d.Value != nil {
			model.Data[d.ID] = schema.Scalar(*d.Value)
		}
	}
	return model
}
