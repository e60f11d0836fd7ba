package workload

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Arrival processes parameterized by a rate in orders per second and, for the
// bursty ones, the coefficient of variation of the interarrival time.
//
//	poisson: {rate}      exponential gaps, CV = 1
//	gamma:   {rate, cv}  CV > 1 gives bursts of orders separated by lulls
//	weibull: {rate, cv}

// PoissonSampler generates exponentially-distributed interarrival times (CV=1).
type PoissonSampler struct {
	rate float64 // orders per second
}

func (s *PoissonSampler) Sample(rng *rand.Rand) time.Duration {
	return seconds(rng.ExpFloat64() / s.rate)
}

// GammaSampler generates Gamma-distributed interarrival times.
// Implemented using Marsaglia-Tsang's method for shape >= 1,
// with transformation for shape < 1.
type GammaSampler struct {
	shape float64 // 1/CV² (alpha parameter)
	scale float64 // CV²/rate in seconds (beta parameter)
}

func (s *GammaSampler) Sample(rng *rand.Rand) time.Duration {
	return seconds(gammaRand(rng, s.shape, s.scale))
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape >= 1: direct method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)

	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()

		// Squeeze test
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// WeibullSampler generates Weibull-distributed interarrival times.
type WeibullSampler struct {
	shape float64 // Weibull k parameter
	scale float64 // Weibull λ parameter, in seconds
}

func (s *WeibullSampler) Sample(rng *rand.Rand) time.Duration {
	// Inverse CDF: scale * (-ln(U))^(1/shape)
	u := rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64 // -ln(0) = +Inf
	}
	return seconds(s.scale * math.Pow(-math.Log(u), 1.0/s.shape))
}

// newArrivalSampler builds one of the rate-based processes above.
func newArrivalSampler(spec DistSpec) (DurationSampler, error) {
	if err := requireParam(spec.Params, "rate"); err != nil {
		return nil, err
	}
	rate := spec.Params["rate"]
	if rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return nil, fmt.Errorf("%s arrival rate must be > 0, got %g", spec.Type, rate)
	}
	cv := 1.0
	if v, ok := spec.Params["cv"]; ok {
		if v <= 0 {
			return nil, fmt.Errorf("%s arrival cv must be > 0, got %g", spec.Type, v)
		}
		cv = v
	}
	mean := 1.0 / rate

	switch spec.Type {
	case "poisson":
		return &PoissonSampler{rate: rate}, nil

	case "gamma":
		// shape = 1/CV², scale = mean * CV²
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonSampler{rate: rate}, nil
		}
		return &GammaSampler{shape: shape, scale: mean * cv * cv}, nil

	case "weibull":
		k := weibullShapeFromCV(cv)
		// scale = mean / Γ(1 + 1/k)
		return &WeibullSampler{shape: k, scale: mean / math.Gamma(1.0+1.0/k)}, nil

	default:
		return nil, fmt.Errorf("unknown arrival process %q", spec.Type)
	}
}

// weibullShapeFromCV finds Weibull shape parameter k such that
// CV² = Γ(1+2/k)/Γ(1+1/k)² - 1, using bisection.
// Range: k ∈ [0.1, 100], tolerance: |CV_computed - CV_target| < 0.001.
// Max 100 iterations; logs warning if convergence fails.
func weibullShapeFromCV(targetCV float64) float64 {
	lo, hi := 0.1, 100.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2.0
		cv := weibullCV(mid)
		if math.Abs(cv-targetCV) < 0.001 {
			return mid
		}
		// CV is monotonically decreasing in k
		if cv > targetCV {
			lo = mid
		} else {
			hi = mid
		}
	}
	logrus.Warnf("weibullShapeFromCV: bisection did not converge for CV=%.3f after 100 iterations; using k=%.3f", targetCV, (lo+hi)/2.0)
	return (lo + hi) / 2.0
}

// weibullCV computes the coefficient of variation for Weibull(k).
func weibullCV(k float64) float64 {
	g1 := math.Gamma(1.0 + 1.0/k)
	g2 := math.Gamma(1.0 + 2.0/k)
	return math.Sqrt(g2/(g1*g1) - 1.0)
}
