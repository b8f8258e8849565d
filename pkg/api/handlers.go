package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BCCDC-PHL/auto-flu/pkg/discovery"
	"github.com/BCCDC-PHL/auto-flu/pkg/dispatch"
	"github.com/BCCDC-PHL/auto-flu/pkg/pipeline"
	"github.com/go-chi/chi/v5"
)

// RunStatus summarizes one run's analyses under the output root.
type RunStatus struct {
	RunID      string           `json:"sequencing_run_id"`
	Instrument string           `json:"instrument_type"`
	Analyses   []AnalysisStatus `json:"analyses"`
}

// AnalysisStatus reports one pipeline output directory and its completion
// marker, if present.
type AnalysisStatus struct {
	OutputDir                 string `json:"output_dir"`
	Complete                  bool   `json:"analysis_complete"`
	TimestampAnalysisStart    string `json:"timestamp_analysis_start,omitempty"`
	TimestampAnalysisComplete string `json:"timestamp_analysis_complete,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(s.outputRoot)
	if err != nil {
		s.log.WithError(err).Error("Reading output root failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading output directory failed"})

		return
	}

	statuses := make([]RunStatus, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if discovery.ClassifyInstrument(entry.Name()) == discovery.InstrumentUnknown {
			continue
		}

		statuses = append(statuses, s.runStatus(entry.Name()))
	}

	writeJSON(w, http.StatusOK, statuses)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if discovery.ClassifyInstrument(runID) == discovery.InstrumentUnknown {
		writeJSON(w, http.StatusNotFound, errorResponse{"unknown run"})

		return
	}

	if _, err := os.Stat(filepath.Join(s.outputRoot, runID)); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"unknown run"})

		return
	}

	writeJSON(w, http.StatusOK, s.runStatus(runID))
}

// runStatus collects per-pipeline completion status for one run directory.
func (s *server) runStatus(runID string) RunStatus {
	status := RunStatus{
		RunID:      runID,
		Instrument: string(discovery.ClassifyInstrument(runID)),
		Analyses:   []AnalysisStatus{},
	}

	runDir := filepath.Join(s.outputRoot, runID)

	entries, err := os.ReadDir(runDir)
	if err != nil {
		return status
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), "-output") {
			continue
		}

		analysis := AnalysisStatus{OutputDir: entry.Name()}

		markerPath := filepath.Join(runDir, entry.Name(), pipeline.CompletionMarkerFilename)
		if marker, err := dispatch.ReadCompletionMarker(markerPath); err == nil {
			analysis.Complete = true
			analysis.TimestampAnalysisStart = marker.TimestampAnalysisStart
			analysis.TimestampAnalysisComplete = marker.TimestampAnalysisComplete
		}

		status.Analyses = append(status.Analyses, analysis)
	}

	return status
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
