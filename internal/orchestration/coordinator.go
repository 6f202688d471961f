package orchestration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/procfs"

	"github.com/toolify/perfgate/internal/baseline"
	"github.com/toolify/perfgate/internal/config"
	"github.com/toolify/perfgate/internal/gate"
	"github.com/toolify/perfgate/internal/lifecycle"
	"github.com/toolify/perfgate/internal/loadgen"
	"github.com/toolify/perfgate/internal/procwatch"
	"github.com/toolify/perfgate/internal/report"
)

// Gate labels. The pinned gate runs the subject under a fixed core set and
// is the one whose verdict blocks; the unpinned gate is observational.
const (
	LabelPinned   = "pinned"
	LabelUnpinned = "unpinned"
)

// Outcome is the combined result of one invocation.
type Outcome struct {
	InvocationID string

	// Pinned and Unpinned are nil when the corresponding gate was disabled.
	Pinned   *gate.Verdict
	Unpinned *gate.Verdict

	PinnedReport   string
	UnpinnedReport string

	// Pass is the authoritative result: the pinned verdict when that gate
	// ran, otherwise the unpinned one.
	Pass bool
}

// Coordinator runs the enabled gates in order and persists their reports
// plus a combined summary.
type Coordinator struct {
	Project   *config.Project
	Env       *config.Env
	Base      *baseline.Snapshot
	Scenarios []gate.Scenario

	Logger *slog.Logger
	// Out receives round-log lines and gate banners.
	Out io.Writer
}

// Run executes the pinned gate then the unpinned gate. A fatal error in
// either aborts the invocation; a FAIL verdict does not stop the second
// gate from running. The invocation lock is held for the whole run, across
// both gates, so a concurrent invocation fails fast instead of interleaving
// measurements with this one.
func (c *Coordinator) Run(ctx context.Context) (*Outcome, error) {
	lock, err := lifecycle.AcquireLock(c.Project.Paths.SubjectConfig + ".lock")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return nil, fmt.Errorf("mounting procfs: %w", err)
	}

	outcome := &Outcome{InvocationID: uuid.NewString()}
	c.Logger.Info("gate invocation starting",
		"invocation", outcome.InvocationID,
		"scenarios", len(c.Scenarios),
		"planned_rounds", c.Env.Rounds)

	if c.Env.Pinned {
		verdict, path, err := c.runGate(ctx, fs, LabelPinned, c.Env.PinnedCores, outcome.InvocationID)
		if err != nil {
			return nil, err
		}
		outcome.Pinned = verdict
		outcome.PinnedReport = path
	}
	if c.Env.Unpinned {
		verdict, path, err := c.runGate(ctx, fs, LabelUnpinned, "", outcome.InvocationID)
		if err != nil {
			return nil, err
		}
		outcome.Unpinned = verdict
		outcome.UnpinnedReport = path
	}

	if outcome.Pinned != nil {
		outcome.Pass = outcome.Pinned.Pass
	} else {
		outcome.Pass = outcome.Unpinned.Pass
	}

	if err := c.writeSummary(outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (c *Coordinator) runGate(ctx context.Context, fs procfs.FS, label, cores, invocationID string) (*gate.Verdict, string, error) {
	fmt.Fprintf(c.Out, "=== gate %s ===\n", label)
	start := time.Now()

	executor := &Executor{
		Project:     c.Project,
		Env:         c.Env,
		Driver:      c.driver(),
		Resolver:    procwatch.NewResolver(fs),
		Sampler:     procwatch.NewSampler(fs),
		PinnedCores: cores,
		Client:      &http.Client{Timeout: 10 * time.Second},
		Logger:      c.Logger.With("gate", label),
		Out:         c.Out,
	}

	runner, err := NewRunner(c.Env.GateConfig(), c.Base, c.Scenarios, executor.Measure, executor.Logger)
	if err != nil {
		return nil, "", err
	}
	verdict, err := runner.Run(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("gate %s: %w", label, err)
	}

	writer := &report.Writer{OutputDir: c.Env.OutputDir, Retention: c.Project.Report.Retention}
	path, err := writer.Write(c.meta(label, cores, invocationID, verdict), verdict)
	if err != nil {
		return nil, "", fmt.Errorf("gate %s: %w", label, err)
	}

	c.Logger.Info("gate complete", "gate", label, "pass", verdict.Pass,
		"elapsed", time.Since(start).Round(time.Second), "report", path)
	return verdict, path, nil
}

func (c *Coordinator) driver() *loadgen.Driver {
	return &loadgen.Driver{
		BinPath:     c.Project.Paths.WrkBin,
		Threads:     c.Project.Load.Threads,
		Connections: c.Project.Load.Connections,
		Duration:    time.Duration(c.Env.DurationSecs) * time.Second,
	}
}

func (c *Coordinator) meta(label, cores, invocationID string, verdict *gate.Verdict) report.Meta {
	executed := 0
	if len(verdict.Scenarios) > 0 {
		executed = verdict.Scenarios[0].RoundsExecuted
	}
	return report.Meta{
		InvocationID:   invocationID,
		Label:          label,
		Timestamp:      time.Now(),
		PlannedRounds:  c.Env.Rounds,
		RoundsExecuted: executed,
		MinPassRatio:   c.Env.MinPassRatio,
		MinPassRounds:  c.Env.MinPassRounds,
		MaxCVPercent:   c.Env.MaxCVPercent,
		MaxExtraRounds: c.Env.MaxExtraRounds,
		DurationSecs:   c.Env.DurationSecs,
		RSSLimitKB:     int64(c.Env.RSSLimitKB),
		PinnedCores:    cores,
		WrkThreads:     c.Project.Load.Threads,
		WrkConnections: c.Project.Load.Connections,
	}
}

// writeSummary persists the combined two-gate summary next to the reports.
func (c *Coordinator) writeSummary(o *Outcome) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# perfgate summary\n\n")
	fmt.Fprintf(&b, "- invocation: %s\n", o.InvocationID)
	b.WriteString(summaryLine(LabelPinned, o.Pinned, o.PinnedReport, true))
	b.WriteString(summaryLine(LabelUnpinned, o.Unpinned, o.UnpinnedReport, false))
	b.WriteString("\nThe pinned gate is authoritative; the unpinned gate is observational.\n")
	if o.Pass {
		b.WriteString("\nVERDICT: PASS\n")
	} else {
		b.WriteString("\nVERDICT: FAIL\n")
	}

	if err := os.MkdirAll(c.Env.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	path := filepath.Join(c.Env.OutputDir, "latest_summary.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

func summaryLine(label string, v *gate.Verdict, reportPath string, authoritative bool) string {
	if v == nil {
		return fmt.Sprintf("- %s: skipped\n", label)
	}
	status := "FAIL"
	if v.Pass {
		status = "PASS"
	}
	suffix := ""
	if authoritative {
		suffix = " (authoritative)"
	}
	return fmt.Sprintf("- %s: %s%s (report: %s)\n", label, status, suffix, reportPath)
}
