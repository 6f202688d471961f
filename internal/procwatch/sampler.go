package procwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// defaultTicksPerSecond is the kernel USER_HZ; /proc CPU times are reported
// in these ticks and the value is 100 on every supported platform.
const defaultTicksPerSecond = 100

// defaultPollInterval keeps the sampler's last observation fresh enough to
// survive the subject exiting mid-phase.
const defaultPollInterval = 50 * time.Millisecond

// Usage is one /proc observation of the subject process.
type Usage struct {
	CPUTicks  float64
	PeakRSSKB int64
}

// Sampler reads cumulative CPU ticks and peak resident memory for a PID.
type Sampler struct {
	fs             procfs.FS
	ticksPerSecond float64
	pollInterval   time.Duration
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithTicksPerSecond overrides the kernel clock-tick rate.
func WithTicksPerSecond(hz float64) SamplerOption {
	return func(s *Sampler) {
		s.ticksPerSecond = hz
	}
}

// WithPollInterval overrides the polling cadence.
func WithPollInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		s.pollInterval = d
	}
}

// NewSampler builds a sampler over the given proc filesystem.
func NewSampler(fs procfs.FS, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		fs:             fs,
		ticksPerSecond: defaultTicksPerSecond,
		pollInterval:   defaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot reads the current usage of pid. CPU ticks are utime+stime; peak
// memory is VmHWM, the high-water mark since process start, so transient
// spikes during the load phase are captured even if they have subsided.
func (s *Sampler) Snapshot(pid int) (Usage, error) {
	proc, err := s.fs.Proc(pid)
	if err != nil {
		return Usage{}, fmt.Errorf("reading proc %d: %w", pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return Usage{}, fmt.Errorf("reading stat for pid %d: %w", pid, err)
	}
	status, err := proc.NewStatus()
	if err != nil {
		return Usage{}, fmt.Errorf("reading status for pid %d: %w", pid, err)
	}
	return Usage{
		CPUTicks:  float64(stat.UTime + stat.STime),
		PeakRSSKB: int64(status.VmHWM / 1024),
	}, nil
}

// Session is one measurement window over a PID. Start it no later than the
// load phase begins and stop it no earlier than the phase ends.
type Session struct {
	sampler *Sampler
	pid     int

	start     Usage
	startTime time.Time

	mu   sync.Mutex
	last Usage
}

// Begin records the starting observation for pid and returns the session.
func (s *Sampler) Begin(pid int) (*Session, error) {
	start, err := s.Snapshot(pid)
	if err != nil {
		return nil, err
	}
	return &Session{
		sampler:   s,
		pid:       pid,
		start:     start,
		startTime: time.Now(),
		last:      start,
	}, nil
}

// Poll re-reads usage on a fixed interval until ctx is done or the process
// exits, always retaining the last successful observation. Run it
// concurrently with the load-generation phase; it never returns an error
// because a vanished process is a legitimate end of sampling.
func (sess *Session) Poll(ctx context.Context) error {
	ticker := time.NewTicker(sess.sampler.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			usage, err := sess.sampler.Snapshot(sess.pid)
			if err != nil {
				// Process exited; the last reading stands.
				return nil
			}
			sess.mu.Lock()
			sess.last = usage
			sess.mu.Unlock()
		}
	}
}

// Result holds the derived per-round resource metrics.
type Result struct {
	CPUPercent float64
	PeakRSSKB  int64
}

// Finish closes the window and derives the round metrics:
//
//	cpu_pct = (end_ticks - start_ticks) / ticks_per_second * 100 / wall_seconds
//
// clamped to zero when ticks did not advance (the process exited or was
// never sampled). A final snapshot is attempted so a still-running subject
// contributes its very latest counters.
func (sess *Session) Finish() Result {
	wall := time.Since(sess.startTime).Seconds()

	sess.mu.Lock()
	end := sess.last
	sess.mu.Unlock()

	if usage, err := sess.sampler.Snapshot(sess.pid); err == nil {
		end = usage
	}

	cpuPct := 0.0
	if end.CPUTicks > sess.start.CPUTicks && wall > 0 {
		cpuPct = (end.CPUTicks - sess.start.CPUTicks) / sess.sampler.ticksPerSecond * 100 / wall
	}
	return Result{
		CPUPercent: cpuPct,
		PeakRSSKB:  end.PeakRSSKB,
	}
}
