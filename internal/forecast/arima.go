package forecast

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ARIMA fits an autoregressive model to history and projects steps periods
// ahead. Short, sparse or constant histories fall back to the mean
// estimator, as does any fit whose projection goes non-finite, so the mean
// series never contains non-numeric values regardless of input shape.
func ARIMA(history []float64, steps int) Result {
	if steps <= 0 {
		return newResult(0, methodMean)
	}
	clean := sanitize(history)

	n := len(clean)
	if n < minHistoryForAR || zeroFraction(clean) > maxZeroFraction || allEqual(clean) {
		return meanFallback(clean, steps, methodMean)
	}

	order := 1
	if n >= 12 {
		order = 2
	}
	coefs, residSD, ok := fitAR(clean, order)
	if !ok {
		return meanFallback(clean, steps, methodMean)
	}

	// Roll the fitted recurrence forward, feeding forecasts back in as lags.
	lags := append([]float64(nil), clean[n-order:]...)
	r := newResult(steps, methodAR)
	for h := 0; h < steps; h++ {
		next := coefs[0]
		for j := 0; j < order; j++ {
			next += coefs[j+1] * lags[len(lags)-1-j]
		}
		band := z * spreadFloor(residSD, clean[n-1]) * math.Sqrt(float64(h+1))
		r.Mean[h] = next
		r.Lower[h] = next - band
		r.Upper[h] = next + band
		lags = append(lags, next)
	}

	if !finite(r.Mean) || !finite(r.Lower) || !finite(r.Upper) {
		return meanFallback(clean, steps, methodMean)
	}
	return r
}

// fitAR estimates intercept plus lag coefficients by least squares over the
// lagged design matrix. Returns ok=false when the system is singular (for
// example a perfectly collinear deterministic series).
func fitAR(series []float64, order int) (coefs []float64, residSD float64, ok bool) {
	n := len(series)
	rows := n - order
	if rows <= order+1 {
		return nil, 0, false
	}

	x := mat.NewDense(rows, order+1, nil)
	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		t := i + order
		x.Set(i, 0, 1)
		for j := 0; j < order; j++ {
			x.Set(i, j+1, series[t-1-j])
		}
		y.SetVec(i, series[t])
	}

	var solved mat.VecDense
	if err := solved.SolveVec(x, y); err != nil {
		return nil, 0, false
	}

	coefs = make([]float64, order+1)
	for i := range coefs {
		coefs[i] = solved.AtVec(i)
		if math.IsNaN(coefs[i]) || math.IsInf(coefs[i], 0) {
			return nil, 0, false
		}
	}

	var sse float64
	for i := 0; i < rows; i++ {
		t := i + order
		pred := coefs[0]
		for j := 0; j < order; j++ {
			pred += coefs[j+1] * series[t-1-j]
		}
		resid := series[t] - pred
		sse += resid * resid
	}
	residSD = math.Sqrt(sse / float64(rows))
	return coefs, residSD, true
}
