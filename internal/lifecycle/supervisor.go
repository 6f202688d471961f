// Package lifecycle owns everything that must be true before a measurement
// can be trusted: exclusive ownership of the machine slot (flock), a subject
// config that routes at the local simulator, both processes up and answering,
// and a guaranteed teardown that restores whatever it displaced.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultPortTimeout   = 30 * time.Second
	defaultCanaryTimeout = 10 * time.Second
	stopGrace            = 5 * time.Second
)

// Options configures one supervised measurement stack. Mode and MockScenario
// are per-scenario because the simulator fixes its reply shape at startup.
type Options struct {
	SubjectBin    string
	UpstreamBin   string
	SubjectConfig string

	SubjectPort  int
	UpstreamPort int

	// Mode is the simulator reply shape: "stream" or "nonstream".
	Mode string
	// MockScenario selects the simulator's canned payload family.
	MockScenario string
	// H2C forces the subject's upstream leg onto HTTP/2 over cleartext.
	H2C bool

	// PinnedCores, when non-empty, wraps the subject in `taskset -c`.
	PinnedCores string

	WarmupRequests int
	WarmupPath     string
	WarmupBody     string

	PortTimeout   time.Duration
	CanaryTimeout time.Duration

	Logger *slog.Logger
}

// Supervisor brings the simulator and the subject up for one measurement and
// tears both down. Start and Stop pair; Stop is idempotent and must run on
// every exit path.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
	client *http.Client

	upstream *managedProcess
	subject  *managedProcess

	configInstalled bool
	configBackedUp  bool
	stopped         bool
}

// NewSupervisor validates options and returns an unstarted supervisor.
func NewSupervisor(opts Options) (*Supervisor, error) {
	if opts.SubjectBin == "" || opts.UpstreamBin == "" {
		return nil, fmt.Errorf("subject and upstream binaries are required")
	}
	if opts.SubjectConfig == "" {
		return nil, fmt.Errorf("subject config path is required")
	}
	if opts.Mode != "stream" && opts.Mode != "nonstream" {
		return nil, fmt.Errorf("mode must be stream or nonstream, got %q", opts.Mode)
	}
	if opts.MockScenario == "" {
		opts.MockScenario = "text"
	}
	if opts.PortTimeout == 0 {
		opts.PortTimeout = defaultPortTimeout
	}
	if opts.CanaryTimeout == 0 {
		opts.CanaryTimeout = defaultCanaryTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		opts:   opts,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SubjectURL returns the subject endpoint for path.
func (s *Supervisor) SubjectURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.opts.SubjectPort, path)
}

// SubjectPID returns the PID of the subject launcher as started. The
// resource sampler resolves through wrappers from here.
func (s *Supervisor) SubjectPID() int {
	return s.subject.pid()
}

// StatsURL returns the simulator transport-stats endpoint.
func (s *Supervisor) StatsURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/_mock/stats", s.opts.UpstreamPort)
}

// Start installs the generated subject config, launches the simulator then
// the subject, waits for readiness, and runs warm-up traffic. On any error
// it tears down whatever came up before returning. The caller must already
// hold the invocation lock; a supervisor lives for one measurement and never
// touches it.
func (s *Supervisor) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.Stop()
		}
	}()

	data, err := renderSubjectConfig(s.opts.SubjectPort, s.opts.UpstreamPort, s.opts.H2C)
	if err != nil {
		return fmt.Errorf("rendering subject config: %w", err)
	}
	s.configBackedUp, err = installSubjectConfig(s.opts.SubjectConfig, data)
	if err != nil {
		return err
	}
	s.configInstalled = true

	transport := "auto"
	if s.opts.H2C {
		transport = "h2c"
	}
	upCmd := exec.Command(s.opts.UpstreamBin)
	upCmd.Env = append(os.Environ(),
		fmt.Sprintf("UPSTREAM_PORT=%d", s.opts.UpstreamPort),
		"MOCK_MODE="+s.opts.Mode,
		"MOCK_SCENARIO="+s.opts.MockScenario,
		"MOCK_TRANSPORT="+transport,
	)
	s.upstream, err = startProcess("upstream simulator", upCmd)
	if err != nil {
		return err
	}
	s.logger.Debug("upstream simulator started",
		"pid", s.upstream.pid(), "port", s.opts.UpstreamPort,
		"mode", s.opts.Mode, "transport", transport)

	if err := s.waitForPort(ctx, s.opts.UpstreamPort, s.upstream); err != nil {
		return err
	}

	// The subject resolves config.yaml relative to its working directory,
	// which is why the generated config replaces the real one in place.
	var subjCmd *exec.Cmd
	if s.opts.PinnedCores != "" {
		subjCmd = exec.Command("taskset", "-c", s.opts.PinnedCores, s.opts.SubjectBin)
	} else {
		subjCmd = exec.Command(s.opts.SubjectBin)
	}
	subjCmd.Dir = filepath.Dir(s.opts.SubjectConfig)
	s.subject, err = startProcess("subject", subjCmd)
	if err != nil {
		return err
	}
	s.logger.Debug("subject started",
		"pid", s.subject.pid(), "port", s.opts.SubjectPort,
		"pinned_cores", s.opts.PinnedCores)

	if err := s.waitForPort(ctx, s.opts.SubjectPort, s.subject); err != nil {
		return err
	}
	if err := s.canary(ctx); err != nil {
		return err
	}
	if err := s.warmup(ctx); err != nil {
		return err
	}
	return nil
}

// Stop tears the stack down in reverse order and restores the original
// subject config. Idempotent; errors are logged, not returned, because Stop
// runs on paths that already carry an error.
func (s *Supervisor) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true

	if s.subject != nil {
		s.subject.stop(stopGrace)
		s.subject = nil
	}
	if s.upstream != nil {
		s.upstream.stop(stopGrace)
		s.upstream = nil
	}
	if s.configInstalled {
		if err := restoreSubjectConfig(s.opts.SubjectConfig, s.configBackedUp); err != nil {
			s.logger.Warn("failed to restore subject config", "error", err)
		}
		s.configInstalled = false
	}
}

// ResetUpstreamStats zeroes the simulator's transport counters so the purity
// check after the next load phase sees only that phase's traffic.
func (s *Supervisor) ResetUpstreamStats(ctx context.Context) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/_mock/reset", s.opts.UpstreamPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("resetting upstream stats: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resetting upstream stats: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// waitForPort dials until the port accepts or the bounded wait expires. A
// child that exits while we wait fails immediately with its output tail.
func (s *Supervisor) waitForPort(ctx context.Context, port int, proc *managedProcess) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(s.opts.PortTimeout)

	for {
		if !proc.alive() {
			return fmt.Errorf("%s exited before listening on %s: %s", proc.name, addr, proc.outputTail())
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not listening on %s after %s: %s",
				proc.name, addr, s.opts.PortTimeout, proc.outputTail())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// canary sends one real request through the full proxy path. Any 2xx is
// ready; a well-formed 4xx also counts (the service answered, which is all
// readiness asks). 5xx or transport errors keep retrying until the bound.
func (s *Supervisor) canary(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.CanaryTimeout)
	url := s.SubjectURL(s.opts.WarmupPath)

	var lastErr error
	for time.Now().Before(deadline) {
		status, err := s.post(ctx, url, s.opts.WarmupBody)
		if err == nil && status < http.StatusInternalServerError {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("subject canary on %s never succeeded within %s: %v (subject output: %s)",
		url, s.opts.CanaryTimeout, lastErr, s.subject.outputTail())
}

// warmup pushes the configured number of requests through the hot path and
// discards the results, so JIT-ish first-hit costs stay out of round one.
func (s *Supervisor) warmup(ctx context.Context) error {
	if s.opts.WarmupRequests <= 0 {
		return nil
	}
	url := s.SubjectURL(s.opts.WarmupPath)
	for i := 0; i < s.opts.WarmupRequests; i++ {
		if _, err := s.post(ctx, url, s.opts.WarmupBody); err != nil {
			return fmt.Errorf("warm-up request %d/%d: %w", i+1, s.opts.WarmupRequests, err)
		}
	}
	s.logger.Debug("warm-up complete", "requests", s.opts.WarmupRequests)
	return nil
}

func (s *Supervisor) post(ctx context.Context, url, body string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+PerfAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, nil
}
