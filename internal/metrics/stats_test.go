package metrics

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestMean(t *testing.T) {
	tests := []struct {
		name   string
		input  []float64
		expect float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5.0}, 5.0},
		{"multiple", []float64{1, 2, 3, 4, 5}, 3.0},
		{"all_same", []float64{7, 7, 7}, 7.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mean(tt.input)
			if !approxEqual(got, tt.expect) {
				t.Errorf("Mean(%v) = %f, want %f", tt.input, got, tt.expect)
			}
		})
	}
}

func TestStdDev(t *testing.T) {
	tests := []struct {
		name   string
		input  []float64
		expect float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5.0}, 0},
		{"uniform", []float64{3, 3, 3}, 0},
		{"simple", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StdDev(tt.input)
			if !approxEqual(got, tt.expect) {
				t.Errorf("StdDev(%v) = %f, want %f", tt.input, got, tt.expect)
			}
		})
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		input  []float64
		expect float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 42},
		{"odd", []float64{10, 20, 30}, 20},
		{"even", []float64{10, 20, 30, 40}, 25},
		{"unsorted_odd", []float64{30, 10, 20}, 20},
		{"unsorted_even", []float64{40, 10, 30, 20}, 25},
		{"two", []float64{1, 2}, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Median(tt.input)
			if !approxEqual(got, tt.expect) {
				t.Errorf("Median(%v) = %f, want %f", tt.input, got, tt.expect)
			}
		})
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	input := []float64{3, 1, 2}
	_ = Median(input)
	if input[0] != 3 || input[1] != 1 || input[2] != 2 {
		t.Errorf("Median mutated its input: %v", input)
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	tests := []struct {
		name   string
		input  []float64
		expect float64
	}{
		{"empty", nil, 0},
		{"uniform", []float64{100, 100, 100}, 0},
		{"zero_mean", []float64{0, 0}, 0},
		// stddev of {90,110} is 10, mean 100 -> 10%
		{"simple", []float64{90, 110}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoefficientOfVariation(tt.input)
			if !approxEqual(got, tt.expect) {
				t.Errorf("CoefficientOfVariation(%v) = %f, want %f", tt.input, got, tt.expect)
			}
		})
	}
}

func TestCPUPerKiloRPS(t *testing.T) {
	tests := []struct {
		name   string
		cpu    float64
		rps    float64
		expect float64
	}{
		{"typical", 40, 10000, 4},
		{"zero_rps", 40, 0, 0},
		{"negative_rps", 40, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CPUPerKiloRPS(tt.cpu, tt.rps)
			if !approxEqual(got, tt.expect) {
				t.Errorf("CPUPerKiloRPS(%f, %f) = %f, want %f", tt.cpu, tt.rps, got, tt.expect)
			}
		})
	}
}

func TestCPUPerKiloRPSScaleConsistency(t *testing.T) {
	base := CPUPerKiloRPS(38.5, 12100)
	doubled := CPUPerKiloRPS(77.0, 24200)
	if !approxEqual(base, doubled) {
		t.Errorf("scaling both inputs changed the derived metric: %f vs %f", base, doubled)
	}
}

func TestPercentDelta(t *testing.T) {
	tests := []struct {
		name    string
		base    float64
		current float64
		expect  float64
	}{
		{"increase", 100, 110, 10},
		{"decrease", 100, 95, -5},
		{"zero_base", 0, 50, 0},
		{"unchanged", 12.5, 12.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentDelta(tt.base, tt.current)
			if !approxEqual(got, tt.expect) {
				t.Errorf("PercentDelta(%f, %f) = %f, want %f", tt.base, tt.current, got, tt.expect)
			}
		})
	}
}
