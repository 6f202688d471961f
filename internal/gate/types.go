// Package gate implements the regression decision engine: per-round scoring
// against a recorded baseline, quorum accounting, jitter-driven round
// extension, and the final verdict.
package gate

import (
	"fmt"

	"github.com/toolify/perfgate/internal/baseline"
)

// Scenario names one reproducible workload shape. The scenario set is fixed
// per invocation and its order is preserved in every report.
type Scenario struct {
	// Name is the scenario identity used in baselines, logs, and reports.
	Name string `yaml:"name"`
	// Path is the request path driven on the subject service.
	Path string `yaml:"path"`
	// Mode selects the upstream simulator behavior: "nonstream" or "stream".
	Mode string `yaml:"mode"`
	// Body is the JSON request body posted by the load generator.
	Body string `yaml:"body"`
	// RequirePurity enables the upstream transport assertion for this
	// scenario; measurements taken over a fallback transport are discarded.
	RequirePurity bool `yaml:"require_purity"`
	// Group is "core" or "fc"; the fc group is included only when the
	// invocation enables it.
	Group string `yaml:"group"`
}

// MetricSample is one observation for a (scenario, round) pair, produced
// exactly once per executed round.
type MetricSample struct {
	Scenario      string
	Round         int
	RPS           float64
	P99Micros     float64
	AvgMicros     float64
	AvgKnown      bool
	TotalRequests int64
	CPUPercent    float64
	PeakRSSKB     int64
}

// RoundOutcome records whether one (scenario, round) observation passed the
// per-round comparison.
type RoundOutcome struct {
	Scenario string
	Round    int
	Pass     bool
}

// Config holds the decision parameters of a gate run. Immutable once built.
type Config struct {
	PlannedRounds int
	MinPassRatio  float64
	// MinPassRounds optionally raises the quorum above the ratio-derived
	// ceiling; zero means unset.
	MinPassRounds  int
	MaxCVPercent   float64
	MaxExtraRounds int
	MemoryLimitKB  int64
}

// History is the explicit per-scenario, per-round metric accumulation passed
// through the round loop. Samples are appended and never mutated.
type History struct {
	scenarios []string
	samples   map[string][]MetricSample
}

// NewHistory creates a History for a fixed scenario set.
func NewHistory(scenarios []string) *History {
	h := &History{samples: map[string][]MetricSample{}}
	h.scenarios = append(h.scenarios, scenarios...)
	for _, s := range scenarios {
		h.samples[s] = nil
	}
	return h
}

// Add appends a sample. Samples for an unknown scenario or a duplicate
// (scenario, round) pair indicate a harness bug and are rejected.
func (h *History) Add(sample MetricSample) error {
	existing, ok := h.samples[sample.Scenario]
	if !ok {
		return fmt.Errorf("sample for unconfigured scenario %q", sample.Scenario)
	}
	for _, s := range existing {
		if s.Round == sample.Round {
			return fmt.Errorf("duplicate sample for scenario %q round %d", sample.Scenario, sample.Round)
		}
	}
	h.samples[sample.Scenario] = append(existing, sample)
	return nil
}

// Scenarios returns the fixed scenario names in insertion order.
func (h *History) Scenarios() []string {
	out := make([]string, len(h.scenarios))
	copy(out, h.scenarios)
	return out
}

// Samples returns the ordered samples observed for a scenario.
func (h *History) Samples(scenario string) []MetricSample {
	return h.samples[scenario]
}

// RPSValues returns the requests-per-second series for a scenario in round
// order.
func (h *History) RPSValues(scenario string) []float64 {
	samples := h.samples[scenario]
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.RPS)
	}
	return out
}

// VerifyRound checks the completeness invariant: every configured scenario
// has exactly one sample for the given round. A missing sample is a fatal
// run error, never a silent skip.
func (h *History) VerifyRound(round int) error {
	for _, name := range h.scenarios {
		found := false
		for _, s := range h.samples[name] {
			if s.Round == round {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("round %d produced no metric sample for scenario %q", round, name)
		}
	}
	return nil
}

// ScenarioVerdict summarizes one scenario after all rounds complete.
type ScenarioVerdict struct {
	Scenario           string
	Baseline           baseline.Entry
	MedianRPS          float64
	MedianP99Micros    float64
	MedianCPUPercent   float64
	MedianRSSKB        float64
	CPUPerKiloRPS      float64
	RPSCVPercent       float64
	PassRounds         int
	RequiredPassRounds int
	RoundsExecuted     int
	Pass               bool
}

// Verdict is the gate result: ordered scenario verdicts plus their logical
// AND. A single failing scenario fails the whole gate.
type Verdict struct {
	Scenarios []ScenarioVerdict
	Pass      bool
}
