// Package loadgen drives the external wrk load generator for one measurement
// phase and parses its textual summary into structured metrics. Parsing is
// strict: a missing or ambiguous field aborts the round instead of producing
// an estimate.
package loadgen

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/toolify/perfgate/internal/baseline"
)

// Summary holds the metrics extracted from one wrk run.
type Summary struct {
	RPS           float64
	P99Micros     float64
	AvgMicros     float64
	AvgKnown      bool
	TotalRequests int64
}

// RunSpec describes one load phase.
type RunSpec struct {
	URL     string
	Method  string
	Body    string
	Headers map[string]string
}

// Driver shells out to wrk with fixed thread/connection counts from the
// active profile.
type Driver struct {
	BinPath     string
	Threads     int
	Connections int
	Duration    time.Duration
}

// Run executes one wrk phase and returns its parsed summary. The request
// shape is injected through a generated Lua script so POST bodies and
// headers reach wrk without shell quoting.
func (d *Driver) Run(ctx context.Context, spec RunSpec) (Summary, error) {
	script, err := writeScript(spec)
	if err != nil {
		return Summary{}, err
	}
	defer os.Remove(script)

	args := []string{
		"-t", strconv.Itoa(d.Threads),
		"-c", strconv.Itoa(d.Connections),
		"-d", fmt.Sprintf("%ds", int(d.Duration.Seconds())),
		"--latency",
		"-s", script,
		spec.URL,
	}
	cmd := exec.CommandContext(ctx, d.BinPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Summary{}, fmt.Errorf("wrk failed: %w\n%s", err, tail(string(output), 20))
	}

	summary, err := ParseSummary(string(output))
	if err != nil {
		return Summary{}, fmt.Errorf("parsing wrk output: %w\n%s", err, tail(string(output), 20))
	}
	return summary, nil
}

// writeScript renders the wrk Lua request script to a temp file. The body is
// embedded in a Lua long-bracket string so JSON quoting survives verbatim.
func writeScript(spec RunSpec) (string, error) {
	method := spec.Method
	if method == "" {
		method = "POST"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "wrk.method = %q\n", method)
	if spec.Body != "" {
		fmt.Fprintf(&b, "wrk.body = [==[%s]==]\n", spec.Body)
	}
	for k, v := range spec.Headers {
		fmt.Fprintf(&b, "wrk.headers[%q] = %q\n", k, v)
	}

	f, err := os.CreateTemp("", "perfgate-wrk-*.lua")
	if err != nil {
		return "", fmt.Errorf("creating wrk script: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing wrk script: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

var (
	rpsRe      = regexp.MustCompile(`(?m)^Requests/sec:\s+([0-9.]+)\s*$`)
	p99Re      = regexp.MustCompile(`(?m)^\s*99%\s+([0-9.]+[a-zµ]+)\s*$`)
	requestsRe = regexp.MustCompile(`(?m)^\s*([0-9]+)\s+requests in\s`)
	avgRe      = regexp.MustCompile(`(?m)^\s*Latency\s+([0-9.]+[a-zµ]+)\s`)
)

// ParseSummary extracts RPS, tail latency, total requests, and (when
// present) average latency from wrk's summary text. Each required field must
// match exactly once.
func ParseSummary(output string) (Summary, error) {
	var s Summary

	rps, err := matchOne(rpsRe, output, "Requests/sec")
	if err != nil {
		return Summary{}, err
	}
	s.RPS, err = strconv.ParseFloat(rps, 64)
	if err != nil {
		return Summary{}, fmt.Errorf("bad Requests/sec value %q", rps)
	}

	p99, err := matchOne(p99Re, output, "99% latency")
	if err != nil {
		return Summary{}, err
	}
	s.P99Micros, err = baseline.ParseLatencyMicros(p99)
	if err != nil {
		return Summary{}, fmt.Errorf("99%% latency: %w", err)
	}

	reqs, err := matchOne(requestsRe, output, "total requests")
	if err != nil {
		return Summary{}, err
	}
	s.TotalRequests, err = strconv.ParseInt(reqs, 10, 64)
	if err != nil {
		return Summary{}, fmt.Errorf("bad total requests value %q", reqs)
	}

	// Average latency is a reporting nicety, not a verdict input; wrk omits
	// the Thread Stats row under some error conditions, so absence is fine.
	if m := avgRe.FindStringSubmatch(output); m != nil {
		if avg, err := baseline.ParseLatencyMicros(m[1]); err == nil {
			s.AvgMicros = avg
			s.AvgKnown = true
		}
	}

	return s, nil
}

// matchOne enforces exactly-once matching for a required summary field:
// zero matches means the field is missing, more than one means the output is
// ambiguous. Both are fatal.
func matchOne(re *regexp.Regexp, output, field string) (string, error) {
	matches := re.FindAllStringSubmatch(output, -1)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("wrk output is missing the %s field", field)
	case 1:
		return matches[0][1], nil
	default:
		return "", fmt.Errorf("wrk output contains %d %s fields, expected one", len(matches), field)
	}
}

// FormatWrkLogLine renders the machine-parsed per-scenario load line:
//
//	<scenario> wrk_requests=<int> wrk_rps=<float> wrk_p99=<latency> wrk_latency_avg=<latency|n/a>
func FormatWrkLogLine(scenario string, s Summary) string {
	avg := "n/a"
	if s.AvgKnown {
		avg = baseline.FormatLatency(s.AvgMicros)
	}
	return fmt.Sprintf("%s wrk_requests=%d wrk_rps=%.2f wrk_p99=%s wrk_latency_avg=%s",
		scenario, s.TotalRequests, s.RPS, baseline.FormatLatency(s.P99Micros), avg)
}

// FormatResourceLogLine renders the per-scenario resource line:
//
//	<scenario> cpu_pct=<float> peak_rss_kb=<int>
func FormatResourceLogLine(scenario string, cpuPercent float64, peakRSSKB int64) string {
	return fmt.Sprintf("%s cpu_pct=%.2f peak_rss_kb=%d", scenario, cpuPercent, peakRSSKB)
}

// tail returns the last n lines of s, for error diagnostics.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
