// Package orchestration sequences measurement rounds: it brings the stack up
// for each (scenario, round) pair, drives load while sampling the subject,
// feeds the decision engine, and coordinates the pinned and unpinned gates.
package orchestration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/toolify/perfgate/internal/config"
	"github.com/toolify/perfgate/internal/gate"
	"github.com/toolify/perfgate/internal/lifecycle"
	"github.com/toolify/perfgate/internal/loadgen"
	"github.com/toolify/perfgate/internal/procwatch"
)

// Executor performs one complete measurement: fresh stack, warm-up, load
// phase with resource sampling, purity check, teardown. Restarting the stack
// each round keeps peak-RSS and transport counters scoped to that round.
type Executor struct {
	Project *config.Project
	Env     *config.Env

	Driver   *loadgen.Driver
	Resolver *procwatch.Resolver
	Sampler  *procwatch.Sampler

	// PinnedCores is non-empty for the pinned gate only.
	PinnedCores string

	Client *http.Client
	Logger *slog.Logger

	// Out receives the two machine-parsed round-log lines per measurement.
	Out io.Writer
}

// Measure runs the full measurement sequence for one (scenario, round) pair
// and returns its sample. Any failure is fatal to the invocation.
func (x *Executor) Measure(ctx context.Context, scenario gate.Scenario, round int) (gate.MetricSample, error) {
	sup, err := lifecycle.NewSupervisor(lifecycle.Options{
		SubjectBin:     x.Project.Paths.SubjectBin,
		UpstreamBin:    x.Project.Paths.UpstreamBin,
		SubjectConfig:  x.Project.Paths.SubjectConfig,
		SubjectPort:    x.Project.Ports.Subject,
		UpstreamPort:   x.Project.Ports.Upstream,
		Mode:           scenario.Mode,
		H2C:            scenario.RequirePurity,
		PinnedCores:    x.PinnedCores,
		WarmupRequests: x.Env.WarmupRequests,
		WarmupPath:     scenario.Path,
		WarmupBody:     scenario.Body,
		Logger:         x.Logger,
	})
	if err != nil {
		return gate.MetricSample{}, err
	}

	if err := sup.Start(ctx); err != nil {
		return gate.MetricSample{}, fmt.Errorf("scenario %s round %d: %w", scenario.Name, round, err)
	}
	defer sup.Stop()

	// Warm-up traffic already hit the upstream; zero the counters so the
	// purity check below judges only the measured phase.
	if err := sup.ResetUpstreamStats(ctx); err != nil {
		return gate.MetricSample{}, fmt.Errorf("scenario %s round %d: %w", scenario.Name, round, err)
	}

	subjectComm := filepath.Base(x.Project.Paths.SubjectBin)
	pid := x.Resolver.Resolve(sup.SubjectPID(), subjectComm)
	x.Logger.Debug("subject resolved", "scenario", scenario.Name, "round", round,
		"launcher_pid", sup.SubjectPID(), "subject_pid", pid)

	session, err := x.Sampler.Begin(pid)
	if err != nil {
		return gate.MetricSample{}, fmt.Errorf("scenario %s round %d: sampling pid %d: %w",
			scenario.Name, round, pid, err)
	}

	spec := loadgen.RunSpec{
		URL:    sup.SubjectURL(scenario.Path),
		Method: http.MethodPost,
		Body:   scenario.Body,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + lifecycle.PerfAPIKey,
		},
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var summary loadgen.Summary
	g, gctx := errgroup.WithContext(loadCtx)
	g.Go(func() error {
		return session.Poll(gctx)
	})
	g.Go(func() error {
		defer cancel() // load phase over, stop sampling
		var runErr error
		summary, runErr = x.Driver.Run(gctx, spec)
		return runErr
	})
	if err := g.Wait(); err != nil {
		return gate.MetricSample{}, fmt.Errorf("scenario %s round %d: %w", scenario.Name, round, err)
	}
	usage := session.Finish()

	if scenario.RequirePurity {
		stats, err := loadgen.FetchTransportStats(ctx, x.Client, sup.StatsURL())
		if err != nil {
			return gate.MetricSample{}, fmt.Errorf("scenario %s round %d: %w", scenario.Name, round, err)
		}
		if err := stats.AssertPure("h2"); err != nil {
			return gate.MetricSample{}, fmt.Errorf("scenario %s round %d: %w", scenario.Name, round, err)
		}
	}

	fmt.Fprintln(x.Out, loadgen.FormatWrkLogLine(scenario.Name, summary))
	fmt.Fprintln(x.Out, loadgen.FormatResourceLogLine(scenario.Name, usage.CPUPercent, usage.PeakRSSKB))

	return gate.MetricSample{
		Scenario:      scenario.Name,
		Round:         round,
		RPS:           summary.RPS,
		P99Micros:     summary.P99Micros,
		AvgMicros:     summary.AvgMicros,
		AvgKnown:      summary.AvgKnown,
		TotalRequests: summary.TotalRequests,
		CPUPercent:    usage.CPUPercent,
		PeakRSSKB:     usage.PeakRSSKB,
	}, nil
}

