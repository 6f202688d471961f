package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/toolify/perfgate/internal/gate"
)

// envPrefix is stripped from environment variable names before decoding, so
// PERF_ROUNDS becomes the "rounds" key.
const envPrefix = "PERF_"

// Gate defaults. MinPassRatio approximates seven ninths so that a full
// nine-round run requires seven passing rounds.
const (
	DefaultRounds         = 5
	DefaultMinPassRatio   = 0.7778
	DefaultMaxCVPercent   = 5.0
	DefaultMaxExtraRounds = 3
	DefaultDurationSecs   = 15
	DefaultRSSLimitKB     = 10240
	DefaultWarmupRequests = 50
	DefaultBaselineFile   = "perf/baseline.md"
	DefaultOutputDir      = "perf/reports"
	DefaultPinnedCores    = "2,3"
)

// Env is the per-invocation tuning surface, decoded from PERF_* environment
// variables. Everything has a default; an empty environment is a valid run.
type Env struct {
	// Rounds is the planned number of measurement rounds per gate.
	Rounds int `mapstructure:"rounds"`

	// MinPassRounds, when greater than zero, overrides the ratio-derived
	// passing-round requirement upward. It can never lower it.
	MinPassRounds int     `mapstructure:"min_pass_rounds"`
	MinPassRatio  float64 `mapstructure:"min_pass_ratio"`

	// MaxCVPercent is the jitter bound: a scenario whose RPS coefficient of
	// variation exceeds it triggers round extension.
	MaxCVPercent   float64 `mapstructure:"max_cv_pct"`
	MaxExtraRounds int     `mapstructure:"max_extra_rounds"`

	DurationSecs   int `mapstructure:"duration_secs"`
	RSSLimitKB     int `mapstructure:"rss_limit_kb"`
	WarmupRequests int `mapstructure:"warmup_requests"`

	BaselineFile string `mapstructure:"baseline_file"`
	OutputDir    string `mapstructure:"output_dir"`

	// IncludeFC adds the function-calling scenario group to the run.
	IncludeFC bool `mapstructure:"include_fc"`

	// Pinned and Unpinned select which of the two gates execute. The pinned
	// gate is the blocking one.
	Pinned      bool   `mapstructure:"pinned"`
	Unpinned    bool   `mapstructure:"unpinned"`
	PinnedCores string `mapstructure:"pinned_cores"`
}

// NewEnv returns an Env with every field at its default.
func NewEnv() *Env {
	return &Env{
		Rounds:         DefaultRounds,
		MinPassRatio:   DefaultMinPassRatio,
		MaxCVPercent:   DefaultMaxCVPercent,
		MaxExtraRounds: DefaultMaxExtraRounds,
		DurationSecs:   DefaultDurationSecs,
		RSSLimitKB:     DefaultRSSLimitKB,
		WarmupRequests: DefaultWarmupRequests,
		BaselineFile:   DefaultBaselineFile,
		OutputDir:      DefaultOutputDir,
		Pinned:         true,
		Unpinned:       true,
		PinnedCores:    DefaultPinnedCores,
	}
}

// LoadEnv decodes PERF_* variables from environ (pass os.Environ()) on top of
// defaults. Unknown PERF_* variables are an error so typos fail loudly.
func LoadEnv(environ []string) (*Env, error) {
	env := NewEnv()

	raw := map[string]string{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		raw[strings.ToLower(strings.TrimPrefix(key, envPrefix))] = value
	}

	if len(raw) > 0 {
		var md mapstructure.Metadata
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           env,
			Metadata:         &md,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(raw); err != nil {
			return nil, fmt.Errorf("decoding PERF_* environment: %w", err)
		}
		if len(md.Unused) > 0 {
			return nil, fmt.Errorf("unknown environment variable %s%s", envPrefix, strings.ToUpper(md.Unused[0]))
		}
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// LoadEnvFromOS is LoadEnv over the real process environment.
func LoadEnvFromOS() (*Env, error) {
	return LoadEnv(os.Environ())
}

// Validate rejects values the gate engine cannot run with.
func (e *Env) Validate() error {
	switch {
	case e.Rounds < 1:
		return fmt.Errorf("PERF_ROUNDS must be at least 1, got %d", e.Rounds)
	case e.MinPassRatio <= 0 || e.MinPassRatio > 1:
		return fmt.Errorf("PERF_MIN_PASS_RATIO must be in (0, 1], got %g", e.MinPassRatio)
	case e.MinPassRounds < 0:
		return fmt.Errorf("PERF_MIN_PASS_ROUNDS must not be negative, got %d", e.MinPassRounds)
	case e.MaxCVPercent < 0:
		return fmt.Errorf("PERF_MAX_CV_PCT must not be negative, got %g", e.MaxCVPercent)
	case e.MaxExtraRounds < 0:
		return fmt.Errorf("PERF_MAX_EXTRA_ROUNDS must not be negative, got %d", e.MaxExtraRounds)
	case e.DurationSecs < 1:
		return fmt.Errorf("PERF_DURATION_SECS must be at least 1, got %d", e.DurationSecs)
	case e.RSSLimitKB < 1:
		return fmt.Errorf("PERF_RSS_LIMIT_KB must be at least 1, got %d", e.RSSLimitKB)
	case e.WarmupRequests < 0:
		return fmt.Errorf("PERF_WARMUP_REQUESTS must not be negative, got %d", e.WarmupRequests)
	case !e.Pinned && !e.Unpinned:
		return fmt.Errorf("at least one of PERF_PINNED and PERF_UNPINNED must be enabled")
	}
	return nil
}

// GateConfig converts the environment surface into the engine's config.
func (e *Env) GateConfig() gate.Config {
	return gate.Config{
		PlannedRounds:  e.Rounds,
		MinPassRatio:   e.MinPassRatio,
		MinPassRounds:  e.MinPassRounds,
		MaxCVPercent:   e.MaxCVPercent,
		MaxExtraRounds: e.MaxExtraRounds,
		MemoryLimitKB:  int64(e.RSSLimitKB),
	}
}
