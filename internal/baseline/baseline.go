// Package baseline reads and writes the persisted performance snapshot that
// gate runs are compared against. The snapshot is a Markdown-style text table
// under a literal "Results" section; the column grammar (unit suffixes, order)
// is a serialization contract shared with historical snapshots, so parser and
// renderer live together and must round-trip unchanged data exactly.
package baseline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/toolify/perfgate/internal/metrics"
)

// Entry holds the recorded metrics for one scenario.
type Entry struct {
	RPS        float64
	P99Micros  float64
	CPUPercent float64
	PeakRSSKB  int64
	Notes      string
}

// CPUPerKiloRPS returns the derived cost metric for this entry.
func (e Entry) CPUPerKiloRPS() float64 {
	return metrics.CPUPerKiloRPS(e.CPUPercent, e.RPS)
}

// Snapshot is a parsed baseline: one Entry per scenario, with insertion
// order preserved for rendering.
type Snapshot struct {
	order   []string
	entries map[string]Entry
}

// resultsHeader marks the start of the section whose rows are parsed.
// Rows outside it (prose, other tables) are ignored entirely.
const resultsHeader = "## Results"

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{entries: map[string]Entry{}}
}

// Set adds or replaces the entry for a scenario, preserving first-insertion
// order.
func (s *Snapshot) Set(scenario string, e Entry) {
	if _, ok := s.entries[scenario]; !ok {
		s.order = append(s.order, scenario)
	}
	s.entries[scenario] = e
}

// Get returns the entry for a scenario.
func (s *Snapshot) Get(scenario string) (Entry, bool) {
	e, ok := s.entries[scenario]
	return e, ok
}

// Scenarios returns scenario names in insertion order.
func (s *Snapshot) Scenarios() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Require verifies that every name in scenarios has an entry. A baseline
// missing a configured scenario is a setup error: the gate must fail before
// executing any round rather than silently skipping the comparison.
func (s *Snapshot) Require(scenarios []string) error {
	var missing []string
	for _, name := range scenarios {
		if _, ok := s.entries[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("baseline is missing scenario(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// Load parses the snapshot file at path.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening baseline %s: %w", path, err)
	}
	defer f.Close()

	snap, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing baseline %s: %w", path, err)
	}
	return snap, nil
}

// Parse reads a snapshot from r. Only rows inside the "Results" section are
// considered, and a row is accepted as a scenario row only when its CPU
// column carries a percent suffix and its memory column a kilobyte suffix.
// That keeps separator rows, header rows, and unrelated tables from being
// mistaken for data.
func Parse(r io.Reader) (*Snapshot, error) {
	snap := NewSnapshot()
	scanner := bufio.NewScanner(r)

	inResults := false
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "## ") {
			inResults = line == resultsHeader
			continue
		}
		if !inResults || !strings.HasPrefix(line, "|") {
			continue
		}

		cols := splitRow(line)
		if len(cols) < 6 {
			continue
		}

		cpuCol := strings.TrimSpace(cols[4])
		memCol := strings.TrimSpace(cols[5])
		if !strings.HasSuffix(cpuCol, "%") || !strings.HasSuffix(strings.ToLower(memCol), "kb") {
			continue
		}

		entry, name, err := parseRow(cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		snap.Set(name, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// splitRow splits a pipe-delimited table row into its cells, dropping the
// empty leading/trailing fields produced by the outer pipes.
func splitRow(line string) []string {
	parts := strings.Split(line, "|")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func parseRow(cols []string) (Entry, string, error) {
	name := strings.TrimSpace(cols[0])
	if name == "" {
		return Entry{}, "", fmt.Errorf("scenario row has an empty name column")
	}

	rps, err := strconv.ParseFloat(strings.TrimSpace(cols[1]), 64)
	if err != nil {
		return Entry{}, "", fmt.Errorf("scenario %s: bad rps column %q", name, cols[1])
	}

	p99, err := ParseLatencyMicros(strings.TrimSpace(cols[2]))
	if err != nil {
		return Entry{}, "", fmt.Errorf("scenario %s: %w", name, err)
	}

	// cols[3] is the average-latency placeholder; it never participates in
	// the verdict and may hold "n/a".

	cpuStr := strings.TrimSuffix(strings.TrimSpace(cols[4]), "%")
	cpu, err := strconv.ParseFloat(strings.TrimSpace(cpuStr), 64)
	if err != nil {
		return Entry{}, "", fmt.Errorf("scenario %s: bad cpu column %q", name, cols[4])
	}

	memStr := strings.TrimSpace(cols[5])
	memStr = strings.TrimSuffix(strings.TrimSuffix(memStr, "kb"), "KB")
	rss, err := strconv.ParseInt(strings.TrimSpace(memStr), 10, 64)
	if err != nil {
		return Entry{}, "", fmt.Errorf("scenario %s: bad memory column %q", name, cols[5])
	}

	notes := ""
	if len(cols) > 6 {
		notes = strings.TrimSpace(cols[6])
	}

	return Entry{
		RPS:        rps,
		P99Micros:  p99,
		CPUPercent: cpu,
		PeakRSSKB:  rss,
		Notes:      notes,
	}, name, nil
}

// ParseLatencyMicros converts a unit-suffixed latency value ("850us",
// "1.20ms", "2s", "500ns") to microseconds. The unit suffix is mandatory;
// a bare number is ambiguous and rejected.
func ParseLatencyMicros(s string) (float64, error) {
	s = strings.TrimSpace(s)
	type unit struct {
		suffix string
		scale  float64
	}
	// Longest suffixes first so "ns" is not matched as "s".
	units := []unit{
		{"ns", 0.001},
		{"us", 1},
		{"µs", 1},
		{"ms", 1000},
		{"s", 1_000_000},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("bad latency value %q", s)
			}
			return v * u.scale, nil
		}
	}
	return 0, fmt.Errorf("latency value %q has no recognized unit suffix", s)
}

// FormatLatency renders microseconds back into a compact unit-suffixed
// string, choosing the unit historical snapshots used: sub-millisecond
// values stay in us, sub-second in ms, the rest in s.
func FormatLatency(micros float64) string {
	switch {
	case micros < 1000:
		return trimFloat(micros) + "us"
	case micros < 1_000_000:
		return trimFloat(micros/1000) + "ms"
	default:
		return trimFloat(micros/1_000_000) + "s"
	}
}

func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Render writes the snapshot as the canonical table under a Results section.
// title becomes the document heading.
func (s *Snapshot) Render(w io.Writer, title string) error {
	if _, err := fmt.Fprintf(w, "# %s\n\n", title); err != nil {
		return err
	}
	return s.RenderTable(w)
}

// RenderTable writes only the Results section, for embedding in a larger
// document. The output parses back into an equal snapshot, and values carry
// two decimals so a parsed hand-maintained row like "38.55%" re-renders
// without losing precision.
func (s *Snapshot) RenderTable(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n\n", resultsHeader)
	fmt.Fprintln(bw, "| Scenario | RPS | P99 | Avg | CPU | RSS | Notes |")
	fmt.Fprintln(bw, "|---|---|---|---|---|---|---|")
	for _, name := range s.order {
		e := s.entries[name]
		fmt.Fprintf(bw, "| %s | %.2f | %s | n/a | %s%% | %dkb | %s |\n",
			name, e.RPS, FormatLatency(e.P99Micros), trimFloat(e.CPUPercent), e.PeakRSSKB, e.Notes)
	}
	return bw.Flush()
}

// Save renders the snapshot to path, creating or truncating it.
func (s *Snapshot) Save(path, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing baseline %s: %w", path, err)
	}
	if err := s.Render(f, title); err != nil {
		f.Close()
		return fmt.Errorf("rendering baseline %s: %w", path, err)
	}
	return f.Close()
}
