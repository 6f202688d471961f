package gate

import (
	"fmt"
	"math"

	"github.com/toolify/perfgate/internal/baseline"
	"github.com/toolify/perfgate/internal/metrics"
)

// Engine accumulates round results for a fixed scenario set and renders the
// final verdict. It owns no processes and performs no I/O; the round
// executor feeds it samples.
type Engine struct {
	cfg      Config
	base     *baseline.Snapshot
	history  *History
	outcomes map[string][]RoundOutcome
	executed int
}

// NewEngine builds an engine for the given scenario names. The baseline must
// already cover every scenario; that is validated before any round runs.
func NewEngine(cfg Config, base *baseline.Snapshot, scenarios []string) (*Engine, error) {
	if cfg.PlannedRounds < 1 {
		return nil, fmt.Errorf("planned rounds must be >= 1, got %d", cfg.PlannedRounds)
	}
	if cfg.MinPassRatio <= 0 || cfg.MinPassRatio > 1 {
		return nil, fmt.Errorf("min pass ratio must be in (0, 1], got %g", cfg.MinPassRatio)
	}
	if err := base.Require(scenarios); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		base:     base,
		history:  NewHistory(scenarios),
		outcomes: map[string][]RoundOutcome{},
	}, nil
}

// RoundsExecuted returns the number of completed rounds.
func (e *Engine) RoundsExecuted() int {
	return e.executed
}

// PlannedRounds returns the round count before any adaptive extension.
func (e *Engine) PlannedRounds() int {
	return e.cfg.PlannedRounds
}

// MaxRounds returns the hard cap on rounds including adaptive extension.
func (e *Engine) MaxRounds() int {
	return e.cfg.PlannedRounds + e.cfg.MaxExtraRounds
}

// History exposes the accumulated samples for reporting.
func (e *Engine) History() *History {
	return e.history
}

// ScoreRound reports whether a single observation passes against its
// baseline entry. All four comparisons must hold simultaneously; memory is
// checked against the absolute hard limit, not the baseline.
func ScoreRound(s MetricSample, base baseline.Entry, memoryLimitKB int64) bool {
	if s.RPS < base.RPS {
		return false
	}
	if s.P99Micros > base.P99Micros {
		return false
	}
	if metrics.CPUPerKiloRPS(s.CPUPercent, s.RPS) > base.CPUPerKiloRPS() {
		return false
	}
	if s.PeakRSSKB > memoryLimitKB {
		return false
	}
	return true
}

// RecordRound ingests the samples of one completed round. Every configured
// scenario must be represented; a missing sample aborts the invocation.
func (e *Engine) RecordRound(round int, samples []MetricSample) error {
	for _, s := range samples {
		if s.Round != round {
			return fmt.Errorf("sample for scenario %q carries round %d, expected %d", s.Scenario, s.Round, round)
		}
		if err := e.history.Add(s); err != nil {
			return err
		}
	}
	if err := e.history.VerifyRound(round); err != nil {
		return err
	}

	for _, s := range samples {
		entry, _ := e.base.Get(s.Scenario)
		e.outcomes[s.Scenario] = append(e.outcomes[s.Scenario], RoundOutcome{
			Scenario: s.Scenario,
			Round:    round,
			Pass:     ScoreRound(s, entry, e.cfg.MemoryLimitKB),
		})
	}
	e.executed++
	return nil
}

// NeedsExtension reports whether another adaptive round should run: some
// scenario's RPS jitter (CV%) strictly exceeds the threshold and the
// round cap has not been reached. The returned name is the first jittery
// scenario in set order, for logging. Jitter is re-evaluated once per loop
// iteration at the current round count; that cadence matches the recorded
// historical behavior.
func (e *Engine) NeedsExtension() (string, bool) {
	if e.executed >= e.MaxRounds() {
		return "", false
	}
	for _, name := range e.history.Scenarios() {
		cv := metrics.CoefficientOfVariation(e.history.RPSValues(name))
		if cv > e.cfg.MaxCVPercent {
			return name, true
		}
	}
	return "", false
}

// RequiredPassRounds computes the quorum: the ceiling of executed*ratio,
// raised to the explicit override only when the override exceeds it. The
// guard below the ceiling absorbs the slack of a decimal-rounded ratio, so
// the documented 0.7778 and the exact 7/9 both require 7 of 9 rounds.
func RequiredPassRounds(executed int, ratio float64, override int) int {
	required := int(math.Ceil(float64(executed)*ratio - 1e-3))
	if override > required {
		required = override
	}
	return required
}

// Verdict computes the final per-scenario and overall result. Medians of
// CPU percent and RPS are taken independently before deriving the cost
// metric, matching the historical contract.
func (e *Engine) Verdict() *Verdict {
	verdict := &Verdict{Pass: true}

	for _, name := range e.history.Scenarios() {
		samples := e.history.Samples(name)
		entry, _ := e.base.Get(name)

		var rps, p99, cpu, rss []float64
		for _, s := range samples {
			rps = append(rps, s.RPS)
			p99 = append(p99, s.P99Micros)
			cpu = append(cpu, s.CPUPercent)
			rss = append(rss, float64(s.PeakRSSKB))
		}

		passRounds := 0
		for _, o := range e.outcomes[name] {
			if o.Pass {
				passRounds++
			}
		}

		sv := ScenarioVerdict{
			Scenario:           name,
			Baseline:           entry,
			MedianRPS:          metrics.Median(rps),
			MedianP99Micros:    metrics.Median(p99),
			MedianCPUPercent:   metrics.Median(cpu),
			MedianRSSKB:        metrics.Median(rss),
			RPSCVPercent:       metrics.CoefficientOfVariation(rps),
			PassRounds:         passRounds,
			RoundsExecuted:     e.executed,
			RequiredPassRounds: RequiredPassRounds(e.executed, e.cfg.MinPassRatio, e.cfg.MinPassRounds),
		}
		sv.CPUPerKiloRPS = metrics.CPUPerKiloRPS(sv.MedianCPUPercent, sv.MedianRPS)

		sv.Pass = sv.MedianRPS >= entry.RPS &&
			sv.MedianP99Micros <= entry.P99Micros &&
			sv.CPUPerKiloRPS <= entry.CPUPerKiloRPS() &&
			sv.MedianRSSKB <= float64(e.cfg.MemoryLimitKB) &&
			sv.PassRounds >= sv.RequiredPassRounds

		if !sv.Pass {
			verdict.Pass = false
		}
		verdict.Scenarios = append(verdict.Scenarios, sv)
	}

	return verdict
}
