package pipeline

import (
	"os"

	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/sirupsen/logrus"
)

// DependencyStatus reports whether one declared upstream pipeline has
// completed for a run. It is computed fresh on every check, never stored.
type DependencyStatus struct {
	Name       string `json:"pipeline_name"`
	Version    string `json:"pipeline_version"`
	MarkerPath string `json:"analysis_complete_path"`
	Complete   bool   `json:"analysis_complete"`
}

// DependenciesComplete checks that every declared dependency of a pipeline
// has a completion marker on disk for the given run. A pipeline with no
// dependencies trivially resolves to complete. A single missing dependency
// makes the pipeline not ready for this cycle; it is re-checked next cycle.
func DependenciesComplete(
	log logrus.FieldLogger,
	def *config.PipelineConfig,
	runID string,
	outputRoot string,
) (bool, []DependencyStatus) {
	if len(def.Dependencies) == 0 {
		return true, nil
	}

	statuses := make([]DependencyStatus, 0, len(def.Dependencies))
	allComplete := true

	for _, dep := range def.Dependencies {
		markerPath := MarkerPath(outputRoot, runID, dep.Name, dep.Version)

		_, err := os.Stat(markerPath)
		complete := err == nil

		if !complete {
			allComplete = false
		}

		statuses = append(statuses, DependencyStatus{
			Name:       dep.Name,
			Version:    dep.Version,
			MarkerPath: markerPath,
			Complete:   complete,
		})
	}

	log.WithFields(logrus.Fields{
		"sequencing_run_id":                  runID,
		"pipeline_name":                      def.Name,
		"all_analysis_dependencies_complete": allComplete,
	}).Info("Checked analysis dependencies")

	return allComplete, statuses
}
