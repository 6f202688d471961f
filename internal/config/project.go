// Package config loads the two halves of a gate invocation's configuration:
// the perfgate.yaml project file (binary paths, ports, load profile) and the
// PERF_* environment surface (rounds, ratios, limits). Both are loaded once
// and immutable for the run.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default values for the project configuration. New() references them and no
// other code should duplicate them.
const (
	DefaultSubjectBin    = "./target/release/toolify"
	DefaultUpstreamBin   = "./tools/mock-openai-upstream/target/release/mock-openai-upstream"
	DefaultWrkBin        = "wrk"
	DefaultSubjectConfig = "./config.yaml"

	DefaultSubjectPort  = 8000
	DefaultUpstreamPort = 19001

	DefaultThreads     = 2
	DefaultConnections = 100

	DefaultReportRetention = 20
)

// PathsConfig holds binary and configuration file locations.
type PathsConfig struct {
	SubjectBin    string `yaml:"subject_bin,omitempty"`
	UpstreamBin   string `yaml:"upstream_bin,omitempty"`
	WrkBin        string `yaml:"wrk_bin,omitempty"`
	SubjectConfig string `yaml:"subject_config,omitempty"`
}

// PortsConfig holds the fixed network ports shared by all rounds.
type PortsConfig struct {
	Subject  int `yaml:"subject,omitempty"`
	Upstream int `yaml:"upstream,omitempty"`
}

// LoadConfig holds the wrk thread/connection counts of the active profile.
type LoadConfig struct {
	Threads     int `yaml:"threads,omitempty"`
	Connections int `yaml:"connections,omitempty"`
	// H2CUpstream forces the subject's upstream leg onto HTTP/2 cleartext
	// and turns on the per-round transport purity assertion.
	H2CUpstream *bool `yaml:"h2c_upstream,omitempty"`
}

// H2C reports the effective h2c_upstream setting. Unset means on: the gate
// measures the fast path unless a profile explicitly opts out.
func (l LoadConfig) H2C() bool {
	if l.H2CUpstream == nil {
		return true
	}
	return *l.H2CUpstream
}

// ReportConfig holds report retention settings.
type ReportConfig struct {
	// Retention is how many uncompressed reports to keep per label before
	// older ones are gzipped in place.
	Retention int `yaml:"retention,omitempty"`
}

// Project is the top-level configuration loaded from perfgate.yaml.
type Project struct {
	Paths  PathsConfig  `yaml:"paths,omitempty"`
	Ports  PortsConfig  `yaml:"ports,omitempty"`
	Load   LoadConfig   `yaml:"load,omitempty"`
	Report ReportConfig `yaml:"report,omitempty"`
}

// New returns a Project with all hard-coded defaults populated.
func New() *Project {
	return &Project{
		Paths: PathsConfig{
			SubjectBin:    DefaultSubjectBin,
			UpstreamBin:   DefaultUpstreamBin,
			WrkBin:        DefaultWrkBin,
			SubjectConfig: DefaultSubjectConfig,
		},
		Ports: PortsConfig{
			Subject:  DefaultSubjectPort,
			Upstream: DefaultUpstreamPort,
		},
		Load: LoadConfig{
			Threads:     DefaultThreads,
			Connections: DefaultConnections,
		},
		Report: ReportConfig{
			Retention: DefaultReportRetention,
		},
	}
}

// LoadProject reads perfgate.yaml at path, validates it against the embedded
// schema, and fills missing fields with defaults. A missing file returns
// defaults with a nil error; real I/O errors are returned.
func LoadProject(path string) (*Project, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if errs := ValidateProjectBytes(data); len(errs) > 0 {
		return nil, fmt.Errorf("%s is invalid: %s", path, errs[0])
	}

	var fileCfg Project
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeProject(cfg, &fileCfg)
	return cfg, nil
}

// mergeProject overlays non-zero values from src onto dst.
func mergeProject(dst, src *Project) {
	if src.Paths.SubjectBin != "" {
		dst.Paths.SubjectBin = src.Paths.SubjectBin
	}
	if src.Paths.UpstreamBin != "" {
		dst.Paths.UpstreamBin = src.Paths.UpstreamBin
	}
	if src.Paths.WrkBin != "" {
		dst.Paths.WrkBin = src.Paths.WrkBin
	}
	if src.Paths.SubjectConfig != "" {
		dst.Paths.SubjectConfig = src.Paths.SubjectConfig
	}
	if src.Ports.Subject != 0 {
		dst.Ports.Subject = src.Ports.Subject
	}
	if src.Ports.Upstream != 0 {
		dst.Ports.Upstream = src.Ports.Upstream
	}
	if src.Load.Threads != 0 {
		dst.Load.Threads = src.Load.Threads
	}
	if src.Load.Connections != 0 {
		dst.Load.Connections = src.Load.Connections
	}
	if src.Load.H2CUpstream != nil {
		dst.Load.H2CUpstream = src.Load.H2CUpstream
	}
	if src.Report.Retention != 0 {
		dst.Report.Retention = src.Report.Retention
	}
}
