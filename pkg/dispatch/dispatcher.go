package dispatch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/BCCDC-PHL/auto-flu/pkg/discovery"
	"github.com/BCCDC-PHL/auto-flu/pkg/fsutil"
	"github.com/BCCDC-PHL/auto-flu/pkg/hooks"
	"github.com/BCCDC-PHL/auto-flu/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher constructs and executes one external pipeline invocation for a
// (run, pipeline) pair.
type Dispatcher interface {
	// Dispatch runs a pipeline against a run. It never panics or returns
	// an error: every failure mode resolves to a reported Invocation
	// outcome so a single bad pair cannot interrupt the scan cycle.
	Dispatch(def *config.PipelineConfig, run *discovery.Run) *Invocation
}

// Config for the dispatcher.
type Config struct {
	OutputRoot string
	WorkRoot   string
	CacheDir   string
	Owner      *fsutil.OwnerConfig
}

// New creates a dispatcher. A nil runner executes commands via os/exec.
func New(log logrus.FieldLogger, cfg *Config, registry *hooks.Registry, runner CommandRunner) Dispatcher {
	if runner == nil {
		runner = execRunner{}
	}

	return &dispatcher{
		log:      log.WithField("component", "dispatch"),
		cfg:      cfg,
		registry: registry,
		runner:   runner,
	}
}

type dispatcher struct {
	log      logrus.FieldLogger
	cfg      *Config
	registry *hooks.Registry
	runner   CommandRunner
}

var _ Dispatcher = (*dispatcher)(nil)

// Dispatch runs a pipeline against a run.
func (d *dispatcher) Dispatch(def *config.PipelineConfig, run *discovery.Run) *Invocation {
	inv := &Invocation{
		ID:              uuid.NewString(),
		RunID:           run.ID,
		PipelineName:    def.Name,
		PipelineVersion: def.Version,
	}

	log := d.log.WithFields(logrus.Fields{
		"invocation_id":     inv.ID,
		"sequencing_run_id": run.ID,
		"pipeline_name":     def.Name,
		"pipeline_version":  def.Version,
	})

	paths := pipeline.PlanPaths(
		run.ID,
		pipeline.ShortName(def.Name),
		pipeline.MinorVersion(def.Version),
		d.cfg.OutputRoot,
		d.cfg.WorkRoot,
		time.Now(),
	)

	inv.WorkDir = paths.WorkDir
	inv.OutputDir = paths.OutputDir

	// Final idempotency and dependency checks. Both are re-validated here
	// rather than trusted from the scan step, since the config may have
	// been reloaded in between.
	notAlreadyStarted := !pathExists(paths.OutputDir)
	dependenciesMet, _ := pipeline.DependenciesComplete(log, def, run.ID, d.cfg.OutputRoot)

	if !notAlreadyStarted || !dependenciesMet {
		log.WithFields(logrus.Fields{
			"pipeline_dependencies_met":    dependenciesMet,
			"analysis_not_already_started": notAlreadyStarted,
		}).Warn("Analysis skipped")

		inv.Outcome = OutcomeSkipped
		inv.Reason = "output directory exists or dependencies incomplete"

		return inv
	}

	params, err := d.resolveParameters(def, run, paths)
	if err != nil {
		log.WithError(err).Error("Preparing analysis failed")

		inv.Outcome = OutcomeSkipped
		inv.Reason = err.Error()

		return inv
	}

	inv.Command = buildCommand(def, paths, d.cfg.CacheDir, params)
	inv.StartedAt = time.Now()

	// Work directory creation failure is fatal for this invocation; it is
	// not retried within the cycle.
	if err := fsutil.MkdirAll(paths.WorkDir, 0755, d.cfg.Owner); err != nil {
		log.WithError(err).Error("Creating analysis work directory failed")

		inv.Outcome = OutcomeFailed
		inv.Reason = err.Error()

		return inv
	}

	log.WithField("pipeline_command", inv.Command).Info("Analysis started")

	// A drain request never cancels an in-flight invocation; the only
	// bound on the external process is the pipeline's optional timeout.
	ctx := context.Background()

	if timeout := def.Timeout(); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, runErr := d.runner.Run(ctx, paths.WorkDir, inv.Command)
	if runErr != nil {
		// The work directory is intentionally left in place for
		// operator inspection, and no completion marker is written.
		log.WithError(runErr).
			WithField("pipeline_output", string(output)).
			Error("Analysis failed")

		inv.Outcome = OutcomeFailed
		inv.Reason = runErr.Error()

		return inv
	}

	inv.CompletedAt = time.Now()

	if err := d.writeMarker(paths, inv); err != nil {
		log.WithError(err).Error("Writing completion marker failed")

		inv.Outcome = OutcomeFailed
		inv.Reason = err.Error()

		return inv
	}

	log.Info("Analysis complete")

	inv.Outcome = OutcomeCompleted

	return inv
}

// resolveParameters builds the final flag-to-value map for an invocation.
// Fixed values pass through; null values are substituted from the matching
// run attribute. A null parameter with no matching run attribute is a
// configuration error surfaced before execution.
func (d *dispatcher) resolveParameters(
	def *config.PipelineConfig,
	run *discovery.Run,
	paths pipeline.Paths,
) (map[string]string, error) {
	resolved := make(map[string]string, len(def.Parameters)+1)

	for flag, value := range def.Parameters {
		if value != nil {
			resolved[flag] = *value

			continue
		}

		if runValue, ok := run.AnalysisParameters[flag]; ok {
			resolved[flag] = runValue

			continue
		}

		if flag == "outdir" {
			continue
		}

		return nil, fmt.Errorf(
			"pipeline parameter %q is null and run %s has no matching attribute", flag, run.ID,
		)
	}

	// The output directory is always bound to the planned path, never to a
	// configured value, so the idempotency check stays authoritative.
	resolved["outdir"] = paths.OutputDir

	if err := d.registry.Prepare(def, run, resolved); err != nil {
		return nil, fmt.Errorf("prepare hook: %w", err)
	}

	return resolved, nil
}

// buildCommand assembles the external process argument list.
func buildCommand(
	def *config.PipelineConfig,
	paths pipeline.Paths,
	cacheDir string,
	params map[string]string,
) []string {
	argv := []string{
		"nextflow",
		"-log", paths.LogPath,
		"run", def.Name,
		"-r", def.Version,
		"-profile", "conda",
		"--cache", cacheDir,
		"-work-dir", paths.WorkDir,
		"-with-report", paths.ReportPath,
		"-with-trace", paths.TracePath,
		"-with-timeline", paths.TimelinePath,
	}

	flags := make([]string, 0, len(params))
	for flag := range params {
		flags = append(flags, flag)
	}

	sort.Strings(flags)

	for _, flag := range flags {
		argv = append(argv, "--"+flag, params[flag])
	}

	return argv
}

// writeMarker creates the output directory if the pipeline did not, then
// writes the completion marker.
func (d *dispatcher) writeMarker(paths pipeline.Paths, inv *Invocation) error {
	if err := fsutil.MkdirAll(paths.OutputDir, 0755, d.cfg.Owner); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	marker := &CompletionMarker{
		TimestampAnalysisStart:    inv.StartedAt.Format(time.RFC3339Nano),
		TimestampAnalysisComplete: inv.CompletedAt.Format(time.RFC3339Nano),
	}

	return writeCompletionMarker(paths.MarkerPath, marker, d.cfg.Owner)
}

// pathExists reports whether a path exists, treating stat errors other than
// not-exist as existence to stay on the safe side of the idempotency guard.
func pathExists(path string) bool {
	_, err := os.Stat(path)

	return !os.IsNotExist(err)
}
