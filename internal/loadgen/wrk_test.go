package loadgen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wrkOutput = `Running 15s test @ http://127.0.0.1:8000/v1/chat/completions
  2 threads and 100 connections
  Thread Stats   Avg      Stdev     Max   +/- Stdev
    Latency   820.22us    1.20ms   25.00ms   95.00%
    Req/Sec     6.15k     1.10k    8.00k    70.00%
  Latency Distribution
     50%  650.00us
     75%  800.00us
     90%    1.10ms
     99%    2.31ms
  184233 requests in 15.02s, 50.50MB read
Requests/sec:  12265.10
Transfer/sec:      3.36MB
`

func TestParseSummary(t *testing.T) {
	s, err := ParseSummary(wrkOutput)
	require.NoError(t, err)

	assert.InDelta(t, 12265.10, s.RPS, 1e-9)
	assert.InDelta(t, 2310, s.P99Micros, 1e-6)
	assert.Equal(t, int64(184233), s.TotalRequests)
	assert.True(t, s.AvgKnown)
	assert.InDelta(t, 820.22, s.AvgMicros, 1e-6)
}

func TestParseSummaryMillisecondTail(t *testing.T) {
	out := strings.Replace(wrkOutput, "99%    2.31ms", "99%    1.50s", 1)
	s, err := ParseSummary(out)
	require.NoError(t, err)
	assert.InDelta(t, 1_500_000, s.P99Micros, 1e-6)
}

func TestParseSummaryMissingRPSIsFatal(t *testing.T) {
	out := strings.Replace(wrkOutput, "Requests/sec:  12265.10\n", "", 1)
	_, err := ParseSummary(out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Requests/sec")
}

func TestParseSummaryMissingP99IsFatal(t *testing.T) {
	out := strings.Replace(wrkOutput, "     99%    2.31ms\n", "", 1)
	_, err := ParseSummary(out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "99%")
}

func TestParseSummaryAmbiguousFieldIsFatal(t *testing.T) {
	out := wrkOutput + "Requests/sec:  999.00\n"
	_, err := ParseSummary(out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected one")
}

func TestParseSummaryMissingAverageIsTolerated(t *testing.T) {
	out := strings.Replace(wrkOutput, "    Latency   820.22us    1.20ms   25.00ms   95.00%\n", "", 1)
	s, err := ParseSummary(out)
	require.NoError(t, err)
	assert.False(t, s.AvgKnown)
}

func TestFormatWrkLogLine(t *testing.T) {
	s := Summary{RPS: 12265.1, P99Micros: 2310, TotalRequests: 184233, AvgMicros: 820, AvgKnown: true}
	got := FormatWrkLogLine("chat_nonstream", s)
	assert.Equal(t, "chat_nonstream wrk_requests=184233 wrk_rps=12265.10 wrk_p99=2.31ms wrk_latency_avg=820us", got)

	s.AvgKnown = false
	got = FormatWrkLogLine("chat_nonstream", s)
	assert.Contains(t, got, "wrk_latency_avg=n/a")
}

func TestFormatResourceLogLine(t *testing.T) {
	got := FormatResourceLogLine("chat_stream", 38.456, 9216)
	assert.Equal(t, "chat_stream cpu_pct=38.46 peak_rss_kb=9216", got)
}

func TestFetchTransportStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mode":"nonstream","scenario":"text","transport":"h2c","h1":0,"h2":184233,"other":0}`))
	}))
	defer srv.Close()

	stats, err := FetchTransportStats(context.Background(), srv.Client(), srv.URL+"/_mock/stats")
	require.NoError(t, err)
	assert.Equal(t, uint64(184233), stats.H2)
	require.NoError(t, stats.AssertPure("h2"))
}

func TestAssertPure(t *testing.T) {
	tests := []struct {
		name     string
		stats    TransportStats
		intended string
		wantErr  string
	}{
		{"pure_h2", TransportStats{H2: 100}, "h2", ""},
		{"pure_h1", TransportStats{H1: 100}, "h1", ""},
		{"single_fallback_request", TransportStats{H1: 1, H2: 99999}, "h2", "purity violation"},
		{"other_transport", TransportStats{H2: 100, Other: 2}, "h2", "purity violation"},
		{"no_traffic", TransportStats{}, "h2", "no upstream traffic"},
		{"unknown_intended", TransportStats{H2: 1}, "spdy", "unknown intended transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stats.AssertPure(tt.intended)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWriteScript(t *testing.T) {
	path, err := writeScript(RunSpec{
		Method: "POST",
		Body:   `{"model":"m1","messages":[{"role":"user","content":"hi"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(path) })

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	data := string(raw)
	assert.Contains(t, data, `wrk.method = "POST"`)
	assert.Contains(t, data, `wrk.body = [==[{"model":"m1"`)
	assert.Contains(t, data, `wrk.headers["Content-Type"] = "application/json"`)
}
