package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TransportStats is the upstream simulator's per-transport request tally,
// read from its statistics endpoint.
type TransportStats struct {
	Mode      string `json:"mode"`
	Scenario  string `json:"scenario"`
	Transport string `json:"transport"`
	H1        uint64 `json:"h1"`
	H2        uint64 `json:"h2"`
	Other     uint64 `json:"other"`
}

// FetchTransportStats reads the simulator statistics endpoint.
func FetchTransportStats(ctx context.Context, client *http.Client, url string) (TransportStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TransportStats{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return TransportStats{}, fmt.Errorf("querying upstream stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return TransportStats{}, fmt.Errorf("upstream stats endpoint returned %d: %s", resp.StatusCode, body)
	}

	var stats TransportStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return TransportStats{}, fmt.Errorf("decoding upstream stats: %w", err)
	}
	return stats, nil
}

// AssertPure fails when any fraction of the measured traffic reached the
// upstream over a transport other than the intended one. A measurement taken
// partly over a fallback transport silently invalidates the baseline
// comparison, so even a single stray request is fatal. intended is "h1" or
// "h2".
func (s TransportStats) AssertPure(intended string) error {
	var violations uint64
	switch intended {
	case "h2":
		violations = s.H1 + s.Other
	case "h1":
		violations = s.H2 + s.Other
	default:
		return fmt.Errorf("unknown intended transport %q", intended)
	}
	if violations > 0 {
		return fmt.Errorf("transport purity violation: %d request(s) used a fallback transport (h1=%d h2=%d other=%d, intended %s)",
			violations, s.H1, s.H2, s.Other, intended)
	}
	total := s.H1 + s.H2 + s.Other
	if total == 0 {
		return fmt.Errorf("transport purity check saw no upstream traffic at all")
	}
	return nil
}
