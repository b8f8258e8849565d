package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultScanIntervalSeconds is the sleep between scan cycles when the
	// config does not specify one.
	DefaultScanIntervalSeconds = 3600.0

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultAPIListen is the default listen address for the status API.
	DefaultAPIListen = ":8080"
)

// Config is the root configuration for auto-flu.
type Config struct {
	FastqByRunDir             string           `yaml:"fastq_by_run_dir"`
	AnalysisOutputDir         string           `yaml:"analysis_output_dir"`
	AnalysisWorkDir           string           `yaml:"analysis_work_dir"`
	ScanIntervalSeconds       float64          `yaml:"scan_interval_seconds"`
	AnalyzeRunsInReverseOrder bool             `yaml:"analyze_runs_in_reverse_order"`
	RequireSymlinksComplete   *bool            `yaml:"require_symlinks_complete,omitempty"`
	OutputOwner               string           `yaml:"output_owner,omitempty"`
	PipelineCacheDir          string           `yaml:"pipeline_cache_dir,omitempty"`
	API                       *APIConfig       `yaml:"api,omitempty"`
	Pipelines                 []PipelineConfig `yaml:"pipelines"`
}

// APIConfig contains settings for the read-only status API server.
type APIConfig struct {
	Listen             string   `yaml:"listen"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins,omitempty"`
}

// PipelineConfig defines one analysis pipeline to run against every ready run.
type PipelineConfig struct {
	Name           string             `yaml:"pipeline_name"`
	Version        string             `yaml:"pipeline_version"`
	Parameters     map[string]*string `yaml:"pipeline_parameters"`
	Dependencies   []Dependency       `yaml:"dependencies,omitempty"`
	DeleteWorkDir  *bool              `yaml:"delete_work_dir,omitempty"`
	TimeoutSeconds float64            `yaml:"timeout_seconds,omitempty"`
}

// Dependency references another pipeline whose completion gates this one.
type Dependency struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Load reads and parses a configuration file from the given path.
// The file may be YAML or JSON (YAML is a superset of JSON).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.ScanIntervalSeconds <= 0 {
		c.ScanIntervalSeconds = DefaultScanIntervalSeconds
	}

	if c.RequireSymlinksComplete == nil {
		requireMarker := true
		c.RequireSymlinksComplete = &requireMarker
	}

	if c.API != nil && c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}

	for i := range c.Pipelines {
		if c.Pipelines[i].DeleteWorkDir == nil {
			deleteWorkDir := true
			c.Pipelines[i].DeleteWorkDir = &deleteWorkDir
		}
	}
}

// ScanInterval returns the sleep duration between scan cycles.
func (c *Config) ScanInterval() time.Duration {
	seconds := c.ScanIntervalSeconds
	if seconds <= 0 {
		seconds = DefaultScanIntervalSeconds
	}

	return time.Duration(seconds * float64(time.Second))
}

// Timeout returns the invocation timeout for a pipeline, or zero if none
// is configured.
func (p *PipelineConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 0
	}

	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.FastqByRunDir == "" {
		return fmt.Errorf("fastq_by_run_dir is required")
	}

	if c.AnalysisOutputDir == "" {
		return fmt.Errorf("analysis_output_dir is required")
	}

	if c.AnalysisWorkDir == "" {
		return fmt.Errorf("analysis_work_dir is required")
	}

	if len(c.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline must be configured")
	}

	seen := make(map[string]struct{}, len(c.Pipelines))

	for i, p := range c.Pipelines {
		if err := validatePipelineName(p.Name); err != nil {
			return fmt.Errorf("pipeline %d: %w", i, err)
		}

		if p.Version == "" {
			return fmt.Errorf("pipeline %q: pipeline_version is required", p.Name)
		}

		key := p.Name + "@" + p.Version
		if _, exists := seen[key]; exists {
			return fmt.Errorf("pipeline %d: duplicate pipeline %q version %q", i, p.Name, p.Version)
		}

		seen[key] = struct{}{}

		for j, dep := range p.Dependencies {
			if err := validatePipelineName(dep.Name); err != nil {
				return fmt.Errorf("pipeline %q dependency %d: %w", p.Name, j, err)
			}

			if dep.Version == "" {
				return fmt.Errorf("pipeline %q dependency %q: version is required", p.Name, dep.Name)
			}
		}
	}

	return nil
}

// validatePipelineName checks that a pipeline name is fully qualified as
// "namespace/name".
func validatePipelineName(name string) error {
	if name == "" {
		return fmt.Errorf("pipeline_name is required")
	}

	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("pipeline_name %q must be qualified as namespace/name", name)
	}

	return nil
}
