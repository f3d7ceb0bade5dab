// Package stats implements the statistical machinery behind experiment
// results: a two-proportion z-test for comparing conversion rates and Wilson
// score intervals for per-arm confidence bounds.
package stats

import "math"

// Comparison holds the result of a two-proportion z-test between a challenger
// arm and the control arm.
type Comparison struct {
	PValue        float64
	ZScore        float64
	UpliftPercent float64
}

// TwoProportionTest runs a two-sided two-proportion z-test of the challenger
// conversion rate against control. Callers are expected to have checked
// sample sizes beforehand; with an empty arm the p-value degrades to 1.
func TwoProportionTest(challengerConv, challengerCalls, controlConv, controlCalls int64) Comparison {
	if challengerCalls == 0 || controlCalls == 0 {
		return Comparison{PValue: 1}
	}

	pC := float64(challengerConv) / float64(challengerCalls)
	pK := float64(controlConv) / float64(controlCalls)

	// Pooled proportion under the null hypothesis pC == pK.
	pooled := float64(challengerConv+controlConv) / float64(challengerCalls+controlCalls)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(challengerCalls) + 1/float64(controlCalls)))

	cmp := Comparison{}
	if pK > 0 {
		cmp.UpliftPercent = (pC - pK) / pK * 100
	}

	if se == 0 {
		if pC == pK {
			cmp.PValue = 1
		}
		return cmp
	}

	z := (pC - pK) / se
	cmp.ZScore = z
	cmp.PValue = 2 * (1 - NormalCDF(math.Abs(z)))
	return cmp
}

// NormalCDF approximates the standard normal cumulative distribution function
// using Abramowitz and Stegun formula 7.1.26.
func NormalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
