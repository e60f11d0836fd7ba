package workload

import (
	"math"
	"math/rand"
	"testing"
)

func arrivalSampler(t *testing.T, process string, params map[string]float64) DurationSampler {
	t.Helper()
	s, err := NewDurationSampler(DistSpec{Type: process, Params: params})
	if err != nil {
		t.Fatalf("NewDurationSampler(%s): %v", process, err)
	}
	return s
}

func sampleSeconds(rng *rand.Rand, s DurationSampler, n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = s.Sample(rng).Seconds()
	}
	return vals
}

func TestPoissonSampler_MeanGap_MatchesRate(t *testing.T) {
	// GIVEN a Poisson process at 10 orders/sec
	rng := rand.New(rand.NewSource(42))
	sampler := arrivalSampler(t, "poisson", map[string]float64{"rate": 10})

	// WHEN 10000 gaps are sampled
	mean, _ := meanAndVariance(sampleSeconds(rng, sampler, 10000))

	// THEN mean gap ≈ 1/rate = 0.1s (within 5%)
	if math.Abs(mean-0.1)/0.1 > 0.05 {
		t.Errorf("mean gap = %.4fs, want ≈ 0.1s (within 5%%)", mean)
	}
}

func TestGammaSampler_HighCV_ProducesBurstierArrivals(t *testing.T) {
	// GIVEN a Gamma process with CV=3.5 and a Poisson process at the same rate
	rng1 := rand.New(rand.NewSource(42))
	rng2 := rand.New(rand.NewSource(42))
	gamma := arrivalSampler(t, "gamma", map[string]float64{"rate": 10, "cv": 3.5})
	poisson := arrivalSampler(t, "poisson", map[string]float64{"rate": 10})

	// WHEN 10000 gaps are sampled from each
	gammaCV := coefficientOfVariation(sampleSeconds(rng1, gamma, 10000))
	poissonCV := coefficientOfVariation(sampleSeconds(rng2, poisson, 10000))

	// THEN Gamma CV > 2.0 and Poisson CV ≈ 1.0
	if gammaCV < 2.0 {
		t.Errorf("gamma CV = %.2f, want > 2.0", gammaCV)
	}
	if poissonCV < 0.8 || poissonCV > 1.2 {
		t.Errorf("poisson CV = %.2f, want ≈ 1.0", poissonCV)
	}
}

func TestGammaSampler_MeanAndVariance_MatchTheoretical(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cv := 2.0
	sampler := arrivalSampler(t, "gamma", map[string]float64{"rate": 10, "cv": cv})

	// Theoretical: mean = 1/rate = 0.1s, variance = mean² * CV²
	mean, variance := meanAndVariance(sampleSeconds(rng, sampler, 50000))
	expectedMean := 0.1
	expectedVar := expectedMean * expectedMean * cv * cv
	if math.Abs(mean-expectedMean)/expectedMean > 0.05 {
		t.Errorf("gamma mean = %.4f, want ≈ %.4f (within 5%%)", mean, expectedMean)
	}
	if math.Abs(variance-expectedVar)/expectedVar > 0.15 {
		t.Errorf("gamma variance = %.5f, want ≈ %.5f (within 15%%)", variance, expectedVar)
	}
}

func TestWeibullSampler_MeanGap_MatchesRate(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sampler := arrivalSampler(t, "weibull", map[string]float64{"rate": 10, "cv": 1.5})

	mean, _ := meanAndVariance(sampleSeconds(rng, sampler, 10000))

	// Weibull mean should match target within 10%
	if math.Abs(mean-0.1)/0.1 > 0.10 {
		t.Errorf("weibull mean gap = %.4fs, want ≈ 0.1s (within 10%%)", mean)
	}
}

func TestArrivalSampler_NeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, process := range []string{"poisson", "gamma", "weibull"} {
		sampler := arrivalSampler(t, process, map[string]float64{"rate": 1000, "cv": 0.5})
		for i := 0; i < 10000; i++ {
			if d := sampler.Sample(rng); d < 0 {
				t.Fatalf("%s: negative gap %v at iteration %d", process, d, i)
			}
		}
	}
}

func TestArrivalSampler_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		spec DistSpec
	}{
		{"missing rate", DistSpec{Type: "poisson"}},
		{"zero rate", DistSpec{Type: "gamma", Params: map[string]float64{"rate": 0}}},
		{"negative cv", DistSpec{Type: "weibull", Params: map[string]float64{"rate": 1, "cv": -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDurationSampler(tt.spec); err == nil {
				t.Errorf("NewDurationSampler(%v) succeeded, want error", tt.spec)
			}
		})
	}
}

// coefficientOfVariation computes std_dev / mean.
func coefficientOfVariation(vals []float64) float64 {
	mean, variance := meanAndVariance(vals)
	return math.Sqrt(variance) / mean
}

func meanAndVariance(vals []float64) (float64, float64) {
	n := float64(len(vals))
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / n
	sumSq := 0.0
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return mean, sumSq / n
}

// TestWeibullSampler_ZeroUniform_NoOverflow checks that clamping u=0 to
// SmallestNonzeroFloat64 produces a finite result.
func TestWeibullSampler_ZeroUniform_NoOverflow(t *testing.T) {
	s := &WeibullSampler{shape: 1.0, scale: 1.0}
	u := math.SmallestNonzeroFloat64
	sample := s.scale * math.Pow(-math.Log(u), 1.0/s.shape)
	if math.IsInf(sample, 0) {
		t.Error("sample should not be +Inf for SmallestNonzeroFloat64")
	}
	if sample <= 0 {
		t.Error("sample should be positive")
	}
}
