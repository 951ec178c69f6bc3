// Package forecast projects raw driver series forward. It favors robustness
// over model sophistication: sparse, short or shock-distorted histories are
// common for low-volume financial metrics, so every path degrades to a
// simpler estimator instead of failing, and the mean projection is always
// finite.
package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Result is a projection with symmetric confidence bounds. All three series
// have the same length (the requested number of steps).
type Result struct {
	Mean   []float64 `json:"mean"`
	Lower  []float64 `json:"lower"`
	Upper  []float64 `json:"upper"`
	Method string    `json:"method"`
}

// Estimator method names reported in Result.Method.
const (
	methodAR       = "ar"
	methodMean     = "mean"
	methodLinear   = "trend_linear"
	methodGrowth   = "trend_growth"
	methodConstant = "constant"
)

// z is the critical value used for the confidence band.
const z = 1.96

// minHistoryForAR is the shortest history the autoregressive fit accepts;
// anything below falls back to the mean estimator.
const minHistoryForAR = 8

// maxZeroFraction is the sparsity threshold beyond which an AR fit is
// pointless (mostly-zero low-volume series).
const maxZeroFraction = 0.5

// sanitize copies history with non-finite entries replaced by zero.
func sanitize(history []float64) []float64 {
	clean := make([]float64, len(history))
	for i, v := range history {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		clean[i] = v
	}
	return clean
}

func zeroFraction(series []float64) float64 {
	if len(series) == 0 {
		return 1
	}
	zeros := 0
	for _, v := range series {
		if v == 0 {
			zeros++
		}
	}
	return float64(zeros) / float64(len(series))
}

func allEqual(series []float64) bool {
	for _, v := range series[1:] {
		if v != series[0] {
			return false
		}
	}
	return true
}

// spreadFloor keeps confidence bands strictly widening even when residuals
// are exactly zero (perfectly regular history).
func spreadFloor(s, scale float64) float64 {
	floor := 0.01 * math.Abs(scale)
	if floor == 0 {
		floor = 1e-9
	}
	return math.Max(s, floor)
}

// meanFallback projects the historical mean with a band derived from the
// historical spread, widening with horizon. This is the estimator of last
// resort: it produces finite output for any input, including all zeros.
func meanFallback(history []float64, steps int, method string) Result {
	var m, s float64
	if len(history) > 0 {
		m = stat.Mean(history, nil)
	}
	if len(history) > 1 {
		s = stat.StdDev(history, nil)
	}
	if math.IsNaN(m) || math.IsInf(m, 0) {
		m = 0
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		s = 0
	}

	r := newResult(steps, method)
	for h := 0; h < steps; h++ {
		band := z * spreadFloor(s, m) * math.Sqrt(float64(h+1))
		r.Mean[h] = m
		r.Lower[h] = m - band
		r.Upper[h] = m + band
	}
	return r
}

func newResult(steps int, method string) Result {
	return Result{
		Mean:   make([]float64, steps),
		Lower:  make([]float64, steps),
		Upper:  make([]float64, steps),
		Method: method,
	}
}

func finite(series []float64) bool {
	for _, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
