package stats

import (
	"math"
	"testing"
)

func TestTwoProportionTestClearWinner(t *testing.T) {
	// 70% vs 60% on 500 calls each: z ≈ 3.31, p well below 0.05.
	cmp := TwoProportionTest(350, 500, 300, 500)

	if cmp.PValue >= 0.05 {
		t.Fatalf("expected significant p-value, got %f", cmp.PValue)
	}
	if cmp.ZScore < 3.0 || cmp.ZScore > 3.7 {
		t.Errorf("z-score out of expected range: %f", cmp.ZScore)
	}
	if math.Abs(cmp.UpliftPercent-16.666) > 0.1 {
		t.Errorf("uplift = %f, want ~16.67", cmp.UpliftPercent)
	}
}

func TestTwoProportionTestNoDifference(t *testing.T) {
	cmp := TwoProportionTest(100, 400, 100, 400)
	if cmp.PValue < 0.99 {
		t.Errorf("identical arms should yield p ~1, got %f", cmp.PValue)
	}
	if cmp.UpliftPercent != 0 {
		t.Errorf("identical arms should yield zero uplift, got %f", cmp.UpliftPercent)
	}
}

func TestTwoProportionTestEmptyArm(t *testing.T) {
	cmp := TwoProportionTest(0, 0, 100, 400)
	if cmp.PValue != 1 {
		t.Errorf("empty arm should degrade to p=1, got %f", cmp.PValue)
	}
}

func TestNormalCDF(t *testing.T) {
	cases := []struct {
		x, want float64
	}{
		{0, 0.5},
		{1.96, 0.975},
		{-1.96, 0.025},
		{2.576, 0.995},
	}
	for _, tc := range cases {
		if got := NormalCDF(tc.x); math.Abs(got-tc.want) > 0.001 {
			t.Errorf("NormalCDF(%f) = %f, want %f", tc.x, got, tc.want)
		}
	}
}

func TestWilsonIntervalBounds(t *testing.T) {
	lower, upper := WilsonInterval(300, 500, 0.95)
	if lower >= upper {
		t.Fatalf("degenerate interval [%f, %f]", lower, upper)
	}
	rate := 0.6
	if rate < lower || rate > upper {
		t.Errorf("point estimate %f outside interval [%f, %f]", rate, lower, upper)
	}

	lower, upper = WilsonInterval(0, 0, 0.95)
	if lower != 0 || upper != 0 {
		t.Errorf("no trials should yield [0, 0], got [%f, %f]", lower, upper)
	}
}

func TestZScoreCommonLevels(t *testing.T) {
	if z := ZScore(0.95); z != 1.96 {
		t.Errorf("ZScore(0.95) = %f", z)
	}
	if z := ZScore(0.99); z != 2.576 {
		t.Errorf("ZScore(0.99) = %f", z)
	}
	// Below the lookup table the rational approximation takes over.
	if z := ZScore(0.5); math.Abs(z-0.6745) > 0.01 {
		t.Errorf("ZScore(0.5) = %f, want ~0.6745", z)
	}
}
