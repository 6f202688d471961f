package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
	"github.com/spf13/cobra"

	"github.com/toolify/perfgate/internal/baseline"
	"github.com/toolify/perfgate/internal/config"
	"github.com/toolify/perfgate/internal/gate"
	"github.com/toolify/perfgate/internal/lifecycle"
	"github.com/toolify/perfgate/internal/loadgen"
	"github.com/toolify/perfgate/internal/metrics"
	"github.com/toolify/perfgate/internal/orchestration"
	"github.com/toolify/perfgate/internal/procwatch"
)

func newBaselineCommand() *cobra.Command {
	var projectPath string

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Record a fresh performance baseline",
		Long: `Measure every scenario for the configured number of rounds under the pinned
profile and write the per-scenario medians as the new baseline snapshot.

Record baselines on the same machine and core set the gate will run on;
a baseline taken elsewhere makes every later comparison meaningless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return baselineCommandE(cmd, projectPath)
		},
	}

	cmd.Flags().StringVar(&projectPath, "config", "perfgate.yaml", "Project configuration file")

	return cmd
}

func baselineCommandE(cmd *cobra.Command, projectPath string) error {
	project, env, err := loadConfiguration(projectPath)
	if err != nil {
		return err
	}
	scenarios := config.Scenarios(env.IncludeFC, project.Load.H2C())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Baseline recording owns the machine the same way a gate run does.
	lock, err := lifecycle.AcquireLock(project.Paths.SubjectConfig + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return fmt.Errorf("mounting procfs: %w", err)
	}

	executor := &orchestration.Executor{
		Project: project,
		Env:     env,
		Driver: &loadgen.Driver{
			BinPath:     project.Paths.WrkBin,
			Threads:     project.Load.Threads,
			Connections: project.Load.Connections,
			Duration:    time.Duration(env.DurationSecs) * time.Second,
		},
		Resolver:    procwatch.NewResolver(fs),
		Sampler:     procwatch.NewSampler(fs),
		PinnedCores: env.PinnedCores,
		Client:      &http.Client{Timeout: 10 * time.Second},
		Logger:      slog.Default(),
		Out:         cmd.OutOrStdout(),
	}

	names := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	history := gate.NewHistory(names)

	for round := 1; round <= env.Rounds; round++ {
		fmt.Fprintf(cmd.OutOrStdout(), "=== baseline round %d/%d ===\n", round, env.Rounds)
		for _, scenario := range scenarios {
			sample, err := executor.Measure(ctx, scenario, round)
			if err != nil {
				return err
			}
			if err := history.Add(sample); err != nil {
				return err
			}
		}
		if err := history.VerifyRound(round); err != nil {
			return err
		}
	}

	snap := medianSnapshot(history, env.Rounds)

	if err := os.MkdirAll(filepath.Dir(env.BaselineFile), 0o755); err != nil {
		return fmt.Errorf("creating baseline directory: %w", err)
	}
	if err := snap.Save(env.BaselineFile, "perfgate baseline"); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "baseline written to %s\n", env.BaselineFile)
	return nil
}

// medianSnapshot reduces the recorded rounds to a baseline: median of each
// headline metric per scenario.
func medianSnapshot(history *gate.History, rounds int) *baseline.Snapshot {
	snap := baseline.NewSnapshot()
	for _, name := range history.Scenarios() {
		samples := history.Samples(name)
		var rps, p99, cpu, rss []float64
		for _, s := range samples {
			rps = append(rps, s.RPS)
			p99 = append(p99, s.P99Micros)
			cpu = append(cpu, s.CPUPercent)
			rss = append(rss, float64(s.PeakRSSKB))
		}
		snap.Set(name, baseline.Entry{
			RPS:        metrics.Median(rps),
			P99Micros:  metrics.Median(p99),
			CPUPercent: metrics.Median(cpu),
			PeakRSSKB:  int64(metrics.Median(rss)),
			Notes:      fmt.Sprintf("median of %d rounds, %s", rounds, time.Now().Format("2006-01-02")),
		})
	}
	return snap
}
