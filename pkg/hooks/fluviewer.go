package hooks

import (
	"fmt"

	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/BCCDC-PHL/auto-flu/pkg/discovery"
	"github.com/sirupsen/logrus"
)

const fluviewerPipelineName = "BCCDC-PHL/fluviewer-nf"

// fluviewerHook customizes the fluviewer-nf pipeline.
type fluviewerHook struct {
	log logrus.FieldLogger
}

var _ Hook = (*fluviewerHook)(nil)

// Prepare binds the run's fastq directory to the pipeline's fastq_input
// parameter.
func (h *fluviewerHook) Prepare(def *config.PipelineConfig, run *discovery.Run, params map[string]string) error {
	fastqInput, ok := run.AnalysisParameters["fastq_input"]
	if !ok || fastqInput == "" {
		return fmt.Errorf("run %s has no fastq_input attribute", run.ID)
	}

	params["fastq_input"] = fastqInput

	return nil
}

// Finalize currently has no pipeline-specific work beyond the generic work
// directory cleanup.
func (h *fluviewerHook) Finalize(def *config.PipelineConfig, run *discovery.Run) error {
	h.log.WithFields(logrus.Fields{
		"sequencing_run_id": run.ID,
		"pipeline_name":     def.Name,
	}).Info("Post-analysis started")

	return nil
}
