package workload

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestUniformSampler_StaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s, err := NewDurationSampler(Uniform(500*time.Millisecond, 3*time.Second))
	require.NoError(t, err)
	for i := 0; i < 10000; i++ {
		d := s.Sample(rng)
		if d < 500*time.Millisecond || d > 3*time.Second {
			t.Fatalf("sample %d: %v outside [0.5s, 3s]", i, d)
		}
	}
}

func TestUniformSampler_MeanIsMidpoint(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s, err := NewDurationSampler(Uniform(time.Second, 3*time.Second))
	require.NoError(t, err)
	n := 10000
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += s.Sample(rng)
	}
	mean := sum.Seconds() / float64(n)
	if math.Abs(mean-2)/2 > 0.05 {
		t.Errorf("uniform mean = %.3fs, want ≈ 2s (within 5%%)", mean)
	}
}

func TestExponentialSampler_MeanMatchesParam(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s, err := NewDurationSampler(DistSpec{Type: "exponential", Params: map[string]float64{"mean": 5}})
	require.NoError(t, err)
	n := 20000
	var sum float64
	for i := 0; i < n; i++ {
		sum += s.Sample(rng).Seconds()
	}
	mean := sum / float64(n)
	if math.Abs(mean-5)/5 > 0.05 {
		t.Errorf("exponential mean = %.3fs, want ≈ 5s (within 5%%)", mean)
	}
}

func TestGaussianSampler_ClampedToRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s, err := NewDurationSampler(DistSpec{
		Type:   "gaussian",
		Params: map[string]float64{"mean": 2, "std_dev": 10, "min": 1, "max": 3},
	})
	require.NoError(t, err)
	for i := 0; i < 10000; i++ {
		d := s.Sample(rng)
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("sample %d: %v outside [1s, 3s]", i, d)
		}
	}
}

func TestConstantSampler_ZeroVariance(t *testing.T) {
	s, err := NewDurationSampler(Constant(250 * time.Millisecond))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		assert.Equal(t, 250*time.Millisecond, s.Sample(rng))
	}
}

func TestConstantSampler_NegativeClampsToZero(t *testing.T) {
	s, err := NewDurationSampler(DistSpec{Type: "constant", Params: map[string]float64{"value": -4}})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), s.Sample(nil))
}

func TestNewDurationSampler_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec DistSpec
	}{
		{"unknown type", DistSpec{Type: "zipf"}},
		{"uniform missing max", DistSpec{Type: "uniform", Params: map[string]float64{"min": 1}}},
		{"uniform inverted", DistSpec{Type: "uniform", Params: map[string]float64{"min": 3, "max": 1}}},
		{"exponential negative", DistSpec{Type: "exponential", Params: map[string]float64{"mean": -1}}},
		{"gaussian missing std_dev", DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 1, "min": 0, "max": 2}}},
		{"constant missing value", DistSpec{Type: "constant"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDurationSampler(tc.spec)
			assert.Error(t, err)
		})
	}
}

func TestDistSpec_String_IsStable(t *testing.T) {
	assert.Equal(t, "uniform(max=3,min=0.5)", Uniform(500*time.Millisecond, 3*time.Second).String())
}

func TestDistSpec_UnmarshalYAML_ReplacesParams(t *testing.T) {
	// GIVEN a uniform spec that a file overrides with a poisson process
	spec := Uniform(time.Second, 2*time.Second)

	err := yaml.Unmarshal([]byte("type: poisson\nparams:\n  rate: 4\n"), &spec)

	// THEN none of the uniform parameters survive
	require.NoError(t, err)
	assert.Equal(t, DistSpec{Type: "poisson", Params: map[string]float64{"rate": 4}}, spec)
}

func TestDistSpec_UnmarshalYAML_UnknownField(t *testing.T) {
	var spec DistSpec
	err := yaml.Unmarshal([]byte("type: uniform\nparam:\n  min: 1\n"), &spec)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "param")
}
