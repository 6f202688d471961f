package orchestration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/toolify/perfgate/internal/baseline"
	"github.com/toolify/perfgate/internal/gate"
)

// MeasureFunc produces one MetricSample for a (scenario, round) pair.
type MeasureFunc func(ctx context.Context, scenario gate.Scenario, round int) (gate.MetricSample, error)

// Runner drives one gate: the planned rounds, then jitter-triggered
// extension rounds up to the cap, then the verdict.
type Runner struct {
	engine    *gate.Engine
	scenarios []gate.Scenario
	measure   MeasureFunc
	logger    *slog.Logger
}

// NewRunner builds a runner. The baseline must cover every scenario or this
// fails before any round executes.
func NewRunner(cfg gate.Config, base *baseline.Snapshot, scenarios []gate.Scenario, measure MeasureFunc, logger *slog.Logger) (*Runner, error) {
	names := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	engine, err := gate.NewEngine(cfg, base, names)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: engine, scenarios: scenarios, measure: measure, logger: logger}, nil
}

// Run executes rounds sequentially and returns the verdict. Any measurement
// error aborts the whole gate; partial-round data never reaches a verdict.
func (r *Runner) Run(ctx context.Context) (*gate.Verdict, error) {
	round := 1
	for ; round <= r.engine.PlannedRounds(); round++ {
		if err := r.runRound(ctx, round); err != nil {
			return nil, err
		}
	}

	for {
		scenario, extend := r.engine.NeedsExtension()
		if !extend {
			break
		}
		r.logger.Info("extending run: rps jitter above threshold",
			"scenario", scenario, "rounds_executed", r.engine.RoundsExecuted(),
			"max_rounds", r.engine.MaxRounds())
		if err := r.runRound(ctx, round); err != nil {
			return nil, err
		}
		round++
	}

	return r.engine.Verdict(), nil
}

func (r *Runner) runRound(ctx context.Context, round int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("round %d: %w", round, err)
	}
	r.logger.Info("round starting", "round", round, "scenarios", len(r.scenarios))

	samples := make([]gate.MetricSample, 0, len(r.scenarios))
	for _, scenario := range r.scenarios {
		sample, err := r.measure(ctx, scenario, round)
		if err != nil {
			return err
		}
		samples = append(samples, sample)
	}
	return r.engine.RecordRound(round, samples)
}
