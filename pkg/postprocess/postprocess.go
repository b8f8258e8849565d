package postprocess

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/BCCDC-PHL/auto-flu/pkg/discovery"
	"github.com/BCCDC-PHL/auto-flu/pkg/hooks"
	"github.com/BCCDC-PHL/auto-flu/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

// PostProcessor reclaims a pipeline's working directory and runs its
// finalize hook after a successful invocation.
type PostProcessor interface {
	PostProcess(def *config.PipelineConfig, run *discovery.Run)
}

// Config for the post-processor.
type Config struct {
	WorkRoot string
}

// New creates a post-processor.
func New(log logrus.FieldLogger, cfg *Config, registry *hooks.Registry) PostProcessor {
	return &postProcessor{
		log:      log.WithField("component", "postprocess"),
		cfg:      cfg,
		registry: registry,
	}
}

type postProcessor struct {
	log      logrus.FieldLogger
	cfg      *Config
	registry *hooks.Registry
}

var _ PostProcessor = (*postProcessor)(nil)

// PostProcess cleans up after a successful invocation. Cleanup is
// best-effort: a missing work directory is a warning, never an error.
func (p *postProcessor) PostProcess(def *config.PipelineConfig, run *discovery.Run) {
	log := p.log.WithFields(logrus.Fields{
		"sequencing_run_id": run.ID,
		"pipeline_name":     def.Name,
	})

	deleteWorkDir := def.DeleteWorkDir == nil || *def.DeleteWorkDir

	workDir := p.findLatestWorkDir(run.ID, def.Name)

	switch {
	case workDir == "":
		log.WithField("analysis_work_dir_glob",
			pipeline.WorkDirGlob(p.cfg.WorkRoot, run.ID, def.Name)).
			Warn("Analysis work directory not found")
	case !deleteWorkDir:
		log.WithField("analysis_work_dir_path", workDir).
			Info("Skipped deletion of analysis work directory")
	default:
		if err := os.RemoveAll(workDir); err != nil {
			log.WithError(err).
				WithField("analysis_work_dir_path", workDir).
				Error("Deleting analysis work directory failed")
		} else {
			log.WithField("analysis_work_dir_path", workDir).
				Info("Analysis work directory deleted")
		}
	}

	if err := p.registry.Finalize(def, run); err != nil {
		log.WithError(err).Error("Finalize hook failed")
	}
}

// findLatestWorkDir locates the most recent work directory for a
// (run, pipeline) pair. Work directories are timestamp-suffixed, so the
// lexically last match is the most recent; more than one match can exist
// after a crashed cycle.
func (p *postProcessor) findLatestWorkDir(runID, qualifiedName string) string {
	pattern := pipeline.WorkDirGlob(p.cfg.WorkRoot, runID, qualifiedName)

	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}

	sort.Strings(matches)

	return matches[len(matches)-1]
}
