package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// recencyDecay weights recent observations more heavily so a transient shock
// deep in the history cannot permanently depress the fitted slope.
const recencyDecay = 0.9

// Trend extrapolates a robust trend from history. The fit is
// recency-weighted and outlier-damped, so a single-period crash followed by
// recovery does not drag the slope down, and when the history grows
// multiplicatively a log-space fit is preferred over the systematically
// underforecasting linear one. The confidence band widens with horizon.
func Trend(history []float64, steps int) Result {
	if steps <= 0 {
		return newResult(0, methodLinear)
	}
	clean := sanitize(history)
	n := len(clean)
	if n == 0 {
		return meanFallback(clean, steps, methodMean)
	}
	if n == 1 || allEqual(clean) {
		return constantProjection(clean[0], steps)
	}

	xs := make([]float64, n)
	weights := make([]float64, n)
	for i := range clean {
		xs[i] = float64(i)
		weights[i] = math.Pow(recencyDecay, float64(n-1-i))
	}

	alpha, beta, weights := dampedFit(xs, clean, weights)

	// Candidate 1: linear continuation.
	predict := func(x float64) float64 { return alpha + beta*x }
	method := methodLinear

	// Candidate 2: multiplicative growth, only meaningful for strictly
	// positive series. Chosen when it explains the observed values better
	// in the original space.
	if allPositive(clean) {
		logs := make([]float64, n)
		for i, v := range clean {
			logs[i] = math.Log(v)
		}
		logAlpha, logBeta, _ := dampedFit(xs, logs, weights)
		growthPredict := func(x float64) float64 { return math.Exp(logAlpha + logBeta*x) }

		if weightedSSE(xs, clean, weights, growthPredict) < weightedSSE(xs, clean, weights, predict) {
			predict = growthPredict
			method = methodGrowth
		}
	}

	residSD := residualSD(xs, clean, weights, predict)

	r := newResult(steps, method)
	for h := 0; h < steps; h++ {
		m := predict(float64(n + h))
		band := z * spreadFloor(residSD, clean[n-1]) * math.Sqrt(float64(h+1))
		r.Mean[h] = m
		r.Lower[h] = m - band
		r.Upper[h] = m + band
	}

	if !finite(r.Mean) || !finite(r.Lower) || !finite(r.Upper) {
		return meanFallback(clean, steps, methodMean)
	}
	return r
}

// constantProjection handles flat input: the projection is the constant
// itself with a floor-width band that still widens with horizon.
func constantProjection(v float64, steps int) Result {
	r := newResult(steps, methodConstant)
	for h := 0; h < steps; h++ {
		band := z * spreadFloor(0, v) * math.Sqrt(float64(h+1))
		r.Mean[h] = v
		r.Lower[h] = v - band
		r.Upper[h] = v + band
	}
	return r
}

// dampedFit runs a weighted linear regression, then refits once with
// large-residual observations down-weighted. The second pass is what keeps a
// structural break from owning the slope.
func dampedFit(xs, ys, weights []float64) (alpha, beta float64, damped []float64) {
	alpha, beta = stat.LinearRegression(xs, ys, weights, false)

	sd := residualSD(xs, ys, weights, func(x float64) float64 { return alpha + beta*x })
	if sd == 0 {
		return alpha, beta, weights
	}

	damped = append([]float64(nil), weights...)
	adjusted := false
	for i := range ys {
		resid := math.Abs(ys[i] - (alpha + beta*xs[i]))
		if resid > 2*sd {
			damped[i] *= (2 * sd) / resid
			adjusted = true
		}
	}
	if !adjusted {
		return alpha, beta, weights
	}

	alpha, beta = stat.LinearRegression(xs, ys, damped, false)
	return alpha, beta, damped
}

func residualSD(xs, ys, weights []float64, predict func(float64) float64) float64 {
	var sse, wsum float64
	for i := range ys {
		resid := ys[i] - predict(xs[i])
		sse += weights[i] * resid * resid
		wsum += weights[i]
	}
	if wsum == 0 {
		return 0
	}
	return math.Sqrt(sse / wsum)
}

func weightedSSE(xs, ys, weights []float64, predict func(float64) float64) float64 {
	var sse float64
	for i := range ys {
		resid := ys[i] - predict(xs[i])
		sse += weights[i] * resid * resid
	}
	return sse
}

func allPositive(series []float64) bool {
	for _, v := range series {
		if v <= 0 {
			return false
		}
	}
	return true
}
