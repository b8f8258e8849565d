package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/BCCDC-PHL/auto-flu/pkg/discovery"
	"github.com/BCCDC-PHL/auto-flu/pkg/dispatch"
	"github.com/BCCDC-PHL/auto-flu/pkg/fsutil"
	"github.com/BCCDC-PHL/auto-flu/pkg/hooks"
	"github.com/BCCDC-PHL/auto-flu/pkg/postprocess"
	"github.com/sirupsen/logrus"
)

// Scanner drives the scan-and-dispatch loop: discover ready runs, then for
// each run dispatch every configured pipeline in declaration order.
type Scanner interface {
	// Watch loops until the context is cancelled, reloading the config
	// file before every cycle and sleeping the configured interval
	// between cycles. Cancellation drains: the in-progress unit of work
	// completes before Watch returns.
	Watch(ctx context.Context) error

	// RunCycle performs a single scan cycle with the given config.
	RunCycle(ctx context.Context, cfg *config.Config) error
}

// Options customize scanner construction. The zero value is valid.
type Options struct {
	// Runner overrides external command execution; nil uses os/exec.
	Runner dispatch.CommandRunner

	// Registry overrides the hook registry; nil uses the built-in hooks.
	Registry *hooks.Registry
}

// New creates a scanner. The initial config is used until a reload from
// configPath succeeds; configPath may be empty to disable reloading.
func New(log logrus.FieldLogger, configPath string, initial *config.Config, opts Options) Scanner {
	registry := opts.Registry
	if registry == nil {
		registry = hooks.DefaultRegistry(log)
	}

	return &scanner{
		log:        log.WithField("component", "scanner"),
		configPath: configPath,
		lastGood:   initial,
		runner:     opts.Runner,
		registry:   registry,
	}
}

type scanner struct {
	log        logrus.FieldLogger
	configPath string
	lastGood   *config.Config
	runner     dispatch.CommandRunner
	registry   *hooks.Registry
}

var _ Scanner = (*scanner)(nil)

// Watch runs scan cycles until the context is cancelled.
func (s *scanner) Watch(ctx context.Context) error {
	for {
		cfg := s.reloadConfig()

		if err := s.RunCycle(ctx, cfg); err != nil {
			if errors.Is(err, context.Canceled) {
				s.log.Info("Drain complete, exiting")

				return nil
			}

			// Only a failure to enumerate the scan root reaches
			// here; no partial run list can be trusted.
			return err
		}

		timer := time.NewTimer(cfg.ScanInterval())

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("Drain complete, exiting")

			return nil
		case <-timer.C:
		}
	}
}

// reloadConfig re-reads the config file, keeping the last good config when
// the file is malformed or momentarily unreadable.
func (s *scanner) reloadConfig() *config.Config {
	if s.configPath == "" {
		return s.lastGood
	}

	absPath, err := filepath.Abs(s.configPath)
	if err != nil {
		absPath = s.configPath
	}

	s.log.WithField("config_file", absPath).Debug("Reloading config")

	cfg, err := config.Load(s.configPath)
	if err == nil {
		err = cfg.Validate()
	}

	if err != nil {
		s.log.WithError(err).
			WithField("config_file", absPath).
			Error("Loading config failed, continuing with last valid config")

		return s.lastGood
	}

	s.lastGood = cfg

	return cfg
}

// RunCycle performs one scan cycle: discovery, then dependency resolution,
// dispatch and post-processing for every (run, pipeline) pair. Per-pair
// failures are isolated; the only error returned besides cancellation is a
// failure to enumerate the scan root.
func (s *scanner) RunCycle(ctx context.Context, cfg *config.Config) error {
	s.log.Info("Scan started")

	cycleStart := time.Now()

	owner, err := fsutil.ParseOwner(cfg.OutputOwner)
	if err != nil {
		s.log.WithError(err).Error("Invalid output_owner, writing outputs as current user")

		owner = nil
	}

	dispatcher := dispatch.New(s.log, &dispatch.Config{
		OutputRoot: cfg.AnalysisOutputDir,
		WorkRoot:   cfg.AnalysisWorkDir,
		CacheDir:   cacheDir(cfg),
		Owner:      owner,
	}, s.registry, s.runner)

	postProcessor := postprocess.New(s.log, &postprocess.Config{
		WorkRoot: cfg.AnalysisWorkDir,
	}, s.registry)

	runs, err := discovery.Discover(s.log, cfg.FastqByRunDir, discovery.Options{
		RequireReadyMarker: cfg.RequireSymlinksComplete == nil || *cfg.RequireSymlinksComplete,
		ReverseOrder:       cfg.AnalyzeRunsInReverseOrder,
	})
	if err != nil {
		return err
	}

	for i := range runs {
		run := &runs[i]

		for j := range cfg.Pipelines {
			// Drain is cooperative: checked between units, never
			// mid-invocation.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			def := &cfg.Pipelines[j]

			inv := dispatcher.Dispatch(def, run)
			if inv.Outcome == dispatch.OutcomeCompleted {
				postProcessor.PostProcess(def, run)
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.log.WithField("scan_duration_seconds", time.Since(cycleStart).Seconds()).
		Info("Scan complete")

	return nil
}

// cacheDir returns the pipeline dependency cache directory, defaulting to
// the conda environment cache under the user's home directory.
func cacheDir(cfg *config.Config) string {
	if cfg.PipelineCacheDir != "" {
		return cfg.PipelineCacheDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".conda", "envs")
	}

	return filepath.Join(home, ".conda", "envs")
}
