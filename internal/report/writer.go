// Package report renders gate verdicts into durable human-readable files:
// one timestamped report per invocation plus an overwritten "latest" pointer,
// with older reports gzipped in place instead of deleted.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mattn/go-runewidth"

	"github.com/toolify/perfgate/internal/baseline"
	"github.com/toolify/perfgate/internal/gate"
	"github.com/toolify/perfgate/internal/metrics"
)

// Meta is the configuration summary printed at the top of every report.
type Meta struct {
	InvocationID string
	Label        string
	Timestamp    time.Time

	PlannedRounds  int
	RoundsExecuted int
	MinPassRatio   float64
	MinPassRounds  int
	MaxCVPercent   float64
	MaxExtraRounds int
	DurationSecs   int
	RSSLimitKB     int64
	PinnedCores    string

	WrkThreads     int
	WrkConnections int
}

// Writer persists reports under OutputDir. Retention bounds how many
// uncompressed timestamped reports are kept per label; zero keeps all.
type Writer struct {
	OutputDir string
	Retention int
}

// Write renders the verdict and stores it as both the timestamped report and
// the label's "latest" pointer, then compresses reports beyond the retention
// count. It returns the timestamped path.
func (w *Writer) Write(meta Meta, verdict *gate.Verdict) (string, error) {
	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	content := Render(meta, verdict)

	stamped := filepath.Join(w.OutputDir,
		fmt.Sprintf("perfgate_%s_%s.md", meta.Label, meta.Timestamp.Format("20060102_150405")))
	if err := os.WriteFile(stamped, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	latest := filepath.Join(w.OutputDir, fmt.Sprintf("latest_%s.md", meta.Label))
	if err := os.WriteFile(latest, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing latest report: %w", err)
	}

	if err := w.compressOld(meta.Label); err != nil {
		return "", err
	}
	return stamped, nil
}

// Render produces the report body.
func Render(meta Meta, verdict *gate.Verdict) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# perfgate report (%s)\n\n", meta.Label)
	fmt.Fprintf(&b, "- invocation: %s\n", meta.InvocationID)
	fmt.Fprintf(&b, "- recorded: %s\n", meta.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "- rounds: %d executed (%d planned, up to %d extra on jitter)\n",
		meta.RoundsExecuted, meta.PlannedRounds, meta.MaxExtraRounds)
	quorum := fmt.Sprintf("ratio %.4f", meta.MinPassRatio)
	if meta.MinPassRounds > 0 {
		quorum += fmt.Sprintf(", floor %d rounds", meta.MinPassRounds)
	}
	fmt.Fprintf(&b, "- quorum: %s; jitter bound %.1f%% CV\n", quorum, meta.MaxCVPercent)
	fmt.Fprintf(&b, "- load: %ds per round, wrk -t%d -c%d\n",
		meta.DurationSecs, meta.WrkThreads, meta.WrkConnections)
	fmt.Fprintf(&b, "- memory limit: %dkb", meta.RSSLimitKB)
	if meta.PinnedCores != "" {
		fmt.Fprintf(&b, "; subject pinned to cores %s", meta.PinnedCores)
	}
	b.WriteString("\n\n")

	for _, sv := range verdict.Scenarios {
		writeScenario(&b, sv)
	}

	// Median snapshot in baseline shape, so a passing report can be promoted
	// to the new baseline with a copy.
	b.WriteString(renderSnapshot(meta, verdict))
	b.WriteString("\n")

	if verdict.Pass {
		b.WriteString("VERDICT: PASS\n")
	} else {
		b.WriteString("VERDICT: FAIL\n")
	}
	return b.String()
}

func writeScenario(b *strings.Builder, sv gate.ScenarioVerdict) {
	fmt.Fprintf(b, "## %s\n\n", sv.Scenario)

	baseCPKR := sv.Baseline.CPUPerKiloRPS()
	rows := [][3]string{
		{"metric", "baseline", "median"},
		{"rps",
			fmt.Sprintf("%.2f", sv.Baseline.RPS),
			fmt.Sprintf("%.2f (%s)", sv.MedianRPS, deltaStr(sv.Baseline.RPS, sv.MedianRPS))},
		{"p99",
			baseline.FormatLatency(sv.Baseline.P99Micros),
			fmt.Sprintf("%s (%s)", baseline.FormatLatency(sv.MedianP99Micros), deltaStr(sv.Baseline.P99Micros, sv.MedianP99Micros))},
		{"cpu_per_kilo_rps",
			fmt.Sprintf("%.3f", baseCPKR),
			fmt.Sprintf("%.3f (%s)", sv.CPUPerKiloRPS, deltaStr(baseCPKR, sv.CPUPerKiloRPS))},
		{"peak_rss",
			fmt.Sprintf("%dkb", sv.Baseline.PeakRSSKB),
			fmt.Sprintf("%.0fkb (%s)", sv.MedianRSSKB, deltaStr(float64(sv.Baseline.PeakRSSKB), sv.MedianRSSKB))},
	}

	var w0, w1 int
	for _, r := range rows {
		if n := runewidth.StringWidth(r[0]); n > w0 {
			w0 = n
		}
		if n := runewidth.StringWidth(r[1]); n > w1 {
			w1 = n
		}
	}
	for _, r := range rows {
		fmt.Fprintf(b, "  %s  %s  %s\n", padRight(r[0], w0), padRight(r[1], w1), r[2])
	}

	status := "PASS"
	if !sv.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(b, "\n  rps jitter: %.1f%% CV; rounds passed: %d/%d (need %d) -> %s\n\n",
		sv.RPSCVPercent, sv.PassRounds, sv.RoundsExecuted, sv.RequiredPassRounds, status)
}

func renderSnapshot(meta Meta, verdict *gate.Verdict) string {
	snap := baseline.NewSnapshot()
	for _, sv := range verdict.Scenarios {
		snap.Set(sv.Scenario, baseline.Entry{
			RPS:        sv.MedianRPS,
			P99Micros:  sv.MedianP99Micros,
			CPUPercent: sv.MedianCPUPercent,
			PeakRSSKB:  int64(sv.MedianRSSKB),
			Notes: fmt.Sprintf("median of %d rounds, %s",
				sv.RoundsExecuted, meta.Timestamp.Format("2006-01-02")),
		})
	}
	var b strings.Builder
	_ = snap.RenderTable(&b)
	return b.String()
}

func deltaStr(base, current float64) string {
	return fmt.Sprintf("%+.1f%%", metrics.PercentDelta(base, current))
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

// compressOld gzips timestamped reports for label beyond the retention
// count, oldest first. Reports are never deleted.
func (w *Writer) compressOld(label string) error {
	if w.Retention <= 0 {
		return nil
	}
	pattern := filepath.Join(w.OutputDir, fmt.Sprintf("perfgate_%s_*.md", label))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	if len(files) <= w.Retention {
		return nil
	}
	sort.Strings(files) // timestamp format sorts lexicographically

	for _, path := range files[:len(files)-w.Retention] {
		if err := gzipFile(path); err != nil {
			return fmt.Errorf("compressing old report %s: %w", path, err)
		}
	}
	return nil
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
