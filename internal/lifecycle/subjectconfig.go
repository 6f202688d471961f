package lifecycle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials and model name baked into the generated subject config. The
// scenario bodies reference the same model so routing always resolves.
const (
	PerfAPIKey    = "perfgate-local-key"
	PerfModelName = "perf-model"
)

// backupSuffix is appended to the user's subject config while a generated
// one is in place.
const backupSuffix = ".perfgate.bak"

type subjectServerSection struct {
	Port                 int    `yaml:"port"`
	Host                 string `yaml:"host"`
	HTTPForceH2CUpstream bool   `yaml:"http_force_h2c_upstream"`
}

type subjectUpstreamSection struct {
	Name      string   `yaml:"name"`
	Provider  string   `yaml:"provider"`
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Models    []string `yaml:"models"`
	IsDefault bool     `yaml:"is_default"`
}

type subjectAuthSection struct {
	AllowedKeys []string `yaml:"allowed_keys"`
}

type subjectFeaturesSection struct {
	EnableFunctionCalling bool   `yaml:"enable_function_calling"`
	LogLevel              string `yaml:"log_level"`
}

type subjectConfig struct {
	Server               subjectServerSection     `yaml:"server"`
	UpstreamServices     []subjectUpstreamSection `yaml:"upstream_services"`
	ClientAuthentication subjectAuthSection       `yaml:"client_authentication"`
	Features             subjectFeaturesSection   `yaml:"features"`
}

// renderSubjectConfig produces the YAML the subject runs under for one
// measurement: a single upstream pointing at the local simulator, one
// allowed client key, and warn-level logs so stdout stays quiet during load.
func renderSubjectConfig(subjectPort, upstreamPort int, h2c bool) ([]byte, error) {
	cfg := subjectConfig{
		Server: subjectServerSection{
			Port:                 subjectPort,
			Host:                 "127.0.0.1",
			HTTPForceH2CUpstream: h2c,
		},
		UpstreamServices: []subjectUpstreamSection{
			{
				Name:      "perf-upstream",
				Provider:  "openai",
				BaseURL:   fmt.Sprintf("http://127.0.0.1:%d/v1", upstreamPort),
				APIKey:    "mock-upstream-key",
				Models:    []string{PerfModelName},
				IsDefault: true,
			},
		},
		ClientAuthentication: subjectAuthSection{
			AllowedKeys: []string{PerfAPIKey},
		},
		Features: subjectFeaturesSection{
			EnableFunctionCalling: true,
			LogLevel:              "warn",
		},
	}
	return yaml.Marshal(cfg)
}

// installSubjectConfig writes the generated config at path, moving any
// existing file aside first. It reports whether a backup was made.
func installSubjectConfig(path string, data []byte) (backedUp bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		if err := os.Rename(path, path+backupSuffix); err != nil {
			return false, fmt.Errorf("backing up %s: %w", path, err)
		}
		backedUp = true
	} else if !os.IsNotExist(statErr) {
		return false, fmt.Errorf("checking %s: %w", path, statErr)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		if backedUp {
			_ = os.Rename(path+backupSuffix, path)
		}
		return backedUp, fmt.Errorf("writing %s: %w", path, err)
	}
	return backedUp, nil
}

// restoreSubjectConfig removes the generated config and, when a backup
// exists, puts the original back.
func restoreSubjectConfig(path string, backedUp bool) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing generated %s: %w", path, err)
	}
	if backedUp {
		if err := os.Rename(path+backupSuffix, path); err != nil {
			return fmt.Errorf("restoring %s: %w", path, err)
		}
	}
	return nil
}
