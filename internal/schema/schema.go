// Package schema defines the JSON-facing types exchanged with the job layer:
// driver model specifications, initial data mappings and analysis job
// envelopes. The analysis engine itself works on plain Go values; these
// types exist only at the serialization boundary.
package schema

import (
	"encoding/json"
	"fmt"
)

// NodeSpec declares one driver in a flat model specification. A spec with a
// Formula is a derived driver; without one it is a leaf whose series comes
// from the data mapping.
type NodeSpec struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category,omitempty"`
	Subcategory  string   `json:"subcategory,omitempty"`
	Formula      string   `json:"formula,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// SeriesInput is the initial value of one leaf driver: either a scalar that
// is broadcast across the period axis, or an explicit period-to-value map.
type SeriesInput struct {
	Scalar   *float64
	ByPeriod map[string]float64
}

// UnmarshalJSON accepts either a bare number or an object keyed by period
// label.
func (s *SeriesInput) UnmarshalJSON(data []byte) error {
	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		s.Scalar = &scalar
		s.ByPeriod = nil
		return nil
	}
	var byPeriod map[string]float64
	if err := json.Unmarshal(data, &byPeriod); err == nil {
		s.Scalar = nil
		s.ByPeriod = byPeriod
		return nil
	}
	return fmt.Errorf("series input must be a number or a period-to-number map, got %s", data)
}

// MarshalJSON writes back the same shape that was read.
func (s SeriesInput) MarshalJSON() ([]byte, error) {
	if s.Scalar != nil {
		return json.Marshal(*s.Scalar)
	}
	return json.Marshal(s.ByPeriod)
}

// Scalar returns a SeriesInput holding a single broadcast value.
func Scalar(v float64) SeriesInput {
	return SeriesInput{Scalar: &v}
}

// ByPeriod returns a SeriesInput holding explicit per-period values.
func ByPeriod(values map[string]float64) SeriesInput {
	return SeriesInput{ByPeriod: values}
}

// Model is a complete hydration payload: node specs, initial data and an
// optional explicit period axis.
type Model struct {
	Nodes  []NodeSpec             `json:"nodes"`
	Data   map[string]SeriesInput `json:"data"`
	Months []string               `json:"months,omitempty"`
}
