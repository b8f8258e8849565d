package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BCCDC-PHL/auto-flu/pkg/fsutil"
)

// Outcome classifies how a dispatch attempt resolved.
type Outcome string

const (
	// OutcomeCompleted means the pipeline exited zero and the completion
	// marker was written.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed means the pipeline was executed but exited non-zero,
	// or a pre-execution step (work dir creation, marker write) failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means no process was executed: the output directory
	// already existed, a dependency was incomplete, or the parameters
	// could not be resolved.
	OutcomeSkipped Outcome = "skipped"
)

// Invocation is the ephemeral record of one dispatch attempt. It is not
// persisted; on success the completion marker file is the only durable
// artifact.
type Invocation struct {
	ID              string
	RunID           string
	PipelineName    string
	PipelineVersion string
	Command         []string
	WorkDir         string
	OutputDir       string
	StartedAt       time.Time
	CompletedAt     time.Time
	Outcome         Outcome
	Reason          string
}

// CompletionMarker is the JSON document written to the pipeline output
// directory after a successful invocation.
type CompletionMarker struct {
	TimestampAnalysisStart    string `json:"timestamp_analysis_start"`
	TimestampAnalysisComplete string `json:"timestamp_analysis_complete"`
}

// ReadCompletionMarker parses a completion marker file.
func ReadCompletionMarker(path string) (*CompletionMarker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading completion marker: %w", err)
	}

	var marker CompletionMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("parsing completion marker: %w", err)
	}

	return &marker, nil
}

// writeCompletionMarker writes the marker atomically so a crash mid-write
// can never leave a half-written file that would be misread as complete.
func writeCompletionMarker(path string, marker *CompletionMarker, owner *fsutil.OwnerConfig) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling completion marker: %w", err)
	}

	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(path, data, 0644, owner); err != nil {
		return fmt.Errorf("writing completion marker: %w", err)
	}

	return nil
}
