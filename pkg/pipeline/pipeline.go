// Package pipeline derives pipeline identity, filesystem layout and
// dependency status for (run, pipeline) pairs. All functions are pure with
// respect to configuration: they never mutate the loaded config.
package pipeline

import (
	"path/filepath"
	"strings"
	"time"
)

// CompletionMarkerFilename is the sentinel file written into a pipeline's
// output directory after a successful invocation. Its existence is the sole
// durable signal that the (run, pipeline) pair completed.
const CompletionMarkerFilename = "analysis_complete.json"

const workDirTimestampLayout = "20060102150405"

// ShortName returns the name part of a qualified "namespace/name" pipeline
// name. An unqualified name is returned as-is.
func ShortName(qualifiedName string) string {
	if idx := strings.LastIndex(qualifiedName, "/"); idx >= 0 {
		return qualifiedName[idx+1:]
	}

	return qualifiedName
}

// MinorVersion reduces a dot-separated version to "major.minor". The patch
// component is intentionally ignored so that, for output path purposes,
// 1.2.3 and 1.2.5 refer to the same artifact location.
func MinorVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return version
	}

	return parts[0] + "." + parts[1]
}

// OutputDirName is the deterministic, timestamp-free name of a pipeline's
// output directory for one run.
func OutputDirName(shortName, minorVersion string) string {
	return shortName + "-" + minorVersion + "-output"
}

// Paths is the full set of filesystem locations for one pipeline invocation
// against one run.
type Paths struct {
	WorkDir      string
	OutputDir    string
	MarkerPath   string
	ReportPath   string
	TracePath    string
	TimelinePath string
	LogPath      string
}

// PlanPaths derives all invocation paths for a (run, pipeline) pair. The
// output directory is timestamp-free so the idempotency check stays stable
// across retries; the work directory carries a timestamp so overlapping
// cycles cannot collide.
func PlanPaths(runID, shortName, minorVersion, outputRoot, workRoot string, now time.Time) Paths {
	outputDir := filepath.Join(outputRoot, runID, OutputDirName(shortName, minorVersion))
	artifactPrefix := filepath.Join(outputDir, runID+"_"+shortName)

	workDirName := "work-" + runID + "_" + shortName + "_" + now.Format(workDirTimestampLayout)

	return Paths{
		WorkDir:      filepath.Join(workRoot, workDirName),
		OutputDir:    outputDir,
		MarkerPath:   filepath.Join(outputDir, CompletionMarkerFilename),
		ReportPath:   artifactPrefix + "_report.html",
		TracePath:    artifactPrefix + "_trace.tsv",
		TimelinePath: artifactPrefix + "_timeline.html",
		LogPath:      artifactPrefix + "_nextflow.log",
	}
}

// MarkerPath is the expected completion marker location for a pipeline's
// output under one run, without planning a full invocation.
func MarkerPath(outputRoot, runID, qualifiedName, version string) string {
	return filepath.Join(
		outputRoot,
		runID,
		OutputDirName(ShortName(qualifiedName), MinorVersion(version)),
		CompletionMarkerFilename,
	)
}

// WorkDirGlob is the glob pattern matching all work directories ever created
// for a (run, pipeline) pair, regardless of timestamp.
func WorkDirGlob(workRoot, runID, qualifiedName string) string {
	return filepath.Join(workRoot, "work-"+runID+"_"+ShortName(qualifiedName)+"_*")
}
