package baseline

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSnapshot = `# Performance Baseline

Some prose about the run environment.

## Setup

| Host | Cores |
|---|---|
| ci-runner-3 | 8 |

## Results

| Scenario | RPS | P99 | Avg | CPU | RSS | Notes |
|---|---|---|---|---|---|---|
| chat_nonstream | 12345.67 | 1.20ms | n/a | 38.5% | 9216kb | recorded 2026-08-01 |
| chat_stream | 8100.00 | 850us | 420us | 41.0% | 9400kb | |

## Notes

| chat_nonstream | 999 | 1ms | n/a | not-a-cpu | 1kb | outside results |
`

func TestParseReadsOnlyResultsSection(t *testing.T) {
	snap, err := Parse(strings.NewReader(sampleSnapshot))
	require.NoError(t, err)

	require.Equal(t, []string{"chat_nonstream", "chat_stream"}, snap.Scenarios())

	e, ok := snap.Get("chat_nonstream")
	require.True(t, ok)
	assert.InDelta(t, 12345.67, e.RPS, 1e-9)
	assert.InDelta(t, 1200.0, e.P99Micros, 1e-9)
	assert.InDelta(t, 38.5, e.CPUPercent, 1e-9)
	assert.Equal(t, int64(9216), e.PeakRSSKB)
	assert.Equal(t, "recorded 2026-08-01", e.Notes)

	e, ok = snap.Get("chat_stream")
	require.True(t, ok)
	assert.InDelta(t, 850.0, e.P99Micros, 1e-9)
}

func TestParseIgnoresRowsWithoutUnitSuffixes(t *testing.T) {
	input := `## Results

| Scenario | RPS | P99 | Avg | CPU | RSS | Notes |
|---|---|---|---|---|---|---|
| missing_percent | 100 | 1ms | n/a | 38.5 | 9216kb | |
| missing_kb | 100 | 1ms | n/a | 38.5% | 9216 | |
| good | 100 | 1ms | n/a | 38.5% | 9216kb | |
`
	snap, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, snap.Scenarios())
}

func TestParseRejectsMalformedRecognizedRow(t *testing.T) {
	// Suffixes match the row grammar, so the row is recognized, and the
	// unparseable RPS must be an error rather than a skip.
	input := `## Results

| broken | not-a-number | 1ms | n/a | 38.5% | 9216kb | |
`
	_, err := Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestParseLatencyMicros(t *testing.T) {
	tests := []struct {
		in     string
		expect float64
		ok     bool
	}{
		{"850us", 850, true},
		{"1.20ms", 1200, true},
		{"2s", 2_000_000, true},
		{"500ns", 0.5, true},
		{"3µs", 3, true},
		{"850", 0, false},
		{"fastish", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLatencyMicros(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expect, got, 1e-9)
		})
	}
}

func TestRequire(t *testing.T) {
	snap := NewSnapshot()
	snap.Set("a", Entry{RPS: 1})

	require.NoError(t, snap.Require([]string{"a"}))

	err := snap.Require([]string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b, c")
}

func TestRenderRoundTrip(t *testing.T) {
	snap := NewSnapshot()
	snap.Set("chat_nonstream", Entry{RPS: 12345.67, P99Micros: 1200, CPUPercent: 38.5, PeakRSSKB: 9216, Notes: "recorded 2026-08-01"})
	snap.Set("chat_stream", Entry{RPS: 8100, P99Micros: 850, CPUPercent: 41.0, PeakRSSKB: 9400})

	var buf bytes.Buffer
	require.NoError(t, snap.Render(&buf, "Performance Baseline"))

	reparsed, err := Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, snap.Scenarios(), reparsed.Scenarios())
	for _, name := range snap.Scenarios() {
		want, _ := snap.Get(name)
		got, _ := reparsed.Get(name)
		assert.Equal(t, want, got, "entry %s", name)
	}
}

func TestRenderKeepsHandWrittenCPUPrecision(t *testing.T) {
	// A hand-maintained baseline may carry two CPU decimals; re-rendering
	// after a parse must not round them away.
	snap, err := Parse(strings.NewReader(`## Results

| Scenario | RPS | P99 | Avg | CPU | RSS | Notes |
|---|---|---|---|---|---|---|
| chat_nonstream | 12345.67 | 1.20ms | n/a | 38.55% | 9216kb | |
`))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, snap.RenderTable(&buf))
	assert.Contains(t, buf.String(), "| 38.55% |")

	reparsed, err := Parse(&buf)
	require.NoError(t, err)
	e, ok := reparsed.Get("chat_nonstream")
	require.True(t, ok)
	assert.InDelta(t, 38.55, e.CPUPercent, 1e-9)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.md")

	snap := NewSnapshot()
	snap.Set("fc_inject_nonstream", Entry{RPS: 4200.5, P99Micros: 2_500_000, CPUPercent: 55.2, PeakRSSKB: 10100})
	require.NoError(t, snap.Save(path, "Performance Baseline"))

	loaded, err := Load(path)
	require.NoError(t, err)
	e, ok := loaded.Get("fc_inject_nonstream")
	require.True(t, ok)
	assert.InDelta(t, 4200.5, e.RPS, 1e-9)
	assert.InDelta(t, 2_500_000, e.P99Micros, 1e-9)
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		micros float64
		expect string
	}{
		{850, "850us"},
		{1200, "1.2ms"},
		{2_000_000, "2s"},
		{0.5, "0.5us"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expect, FormatLatency(tt.micros))
	}
}
