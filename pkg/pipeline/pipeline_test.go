package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "fluviewer-nf", ShortName("BCCDC-PHL/fluviewer-nf"))
	assert.Equal(t, "tool", ShortName("org/tool"))
	assert.Equal(t, "bare", ShortName("bare"))
}

func TestMinorVersion(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{version: "1.2.3", want: "1.2"},
		{version: "1.2.5", want: "1.2"},
		{version: "1.0.0", want: "1.0"},
		{version: "2.1", want: "2.1"},
		{version: "3", want: "3"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, MinorVersion(tt.version))
		})
	}
}

func TestPlanPaths(t *testing.T) {
	now := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)

	paths := PlanPaths(
		"220101_M00001_0001_000000000-AAAAA",
		"fluviewer-nf",
		"1.2",
		"/data/output",
		"/data/work",
		now,
	)

	outputDir := "/data/output/220101_M00001_0001_000000000-AAAAA/fluviewer-nf-1.2-output"
	assert.Equal(t, outputDir, paths.OutputDir)
	assert.Equal(t, filepath.Join(outputDir, CompletionMarkerFilename), paths.MarkerPath)

	prefix := filepath.Join(outputDir, "220101_M00001_0001_000000000-AAAAA_fluviewer-nf")
	assert.Equal(t, prefix+"_report.html", paths.ReportPath)
	assert.Equal(t, prefix+"_trace.tsv", paths.TracePath)
	assert.Equal(t, prefix+"_timeline.html", paths.TimelinePath)
	assert.Equal(t, prefix+"_nextflow.log", paths.LogPath)

	assert.Equal(t,
		"/data/work/work-220101_M00001_0001_000000000-AAAAA_fluviewer-nf_20220304050607",
		paths.WorkDir,
	)
}

func TestPlanPaths_OutputDirIsTimestampFree(t *testing.T) {
	first := PlanPaths("run", "tool", "1.0", "/out", "/work",
		time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	second := PlanPaths("run", "tool", "1.0", "/out", "/work",
		time.Date(2023, 6, 7, 8, 9, 10, 0, time.UTC))

	assert.Equal(t, first.OutputDir, second.OutputDir)
	assert.Equal(t, first.MarkerPath, second.MarkerPath)
	assert.NotEqual(t, first.WorkDir, second.WorkDir)
}

func TestMarkerPath_IgnoresPatchVersion(t *testing.T) {
	declared := MarkerPath("/out", "run", "org/tool", "1.2.3")
	executed := MarkerPath("/out", "run", "org/tool", "1.2.5")

	assert.Equal(t, declared, executed)
	assert.Equal(t, "/out/run/tool-1.2-output/analysis_complete.json", declared)
}

func TestDependenciesComplete_NoDependencies(t *testing.T) {
	def := &config.PipelineConfig{Name: "org/tool", Version: "1.0.0"}

	complete, statuses := DependenciesComplete(testLogger(), def, "run", t.TempDir())
	assert.True(t, complete)
	assert.Empty(t, statuses)
}

func TestDependenciesComplete_MarkerGates(t *testing.T) {
	outputRoot := t.TempDir()
	runID := "220101_M00001_0001_000000000-AAAAA"

	def := &config.PipelineConfig{
		Name:    "org/dependent",
		Version: "1.0.0",
		Dependencies: []config.Dependency{
			{Name: "org/tool", Version: "1.0.0"},
		},
	}

	complete, statuses := DependenciesComplete(testLogger(), def, runID, outputRoot)
	assert.False(t, complete)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Complete)

	markerDir := filepath.Join(outputRoot, runID, "tool-1.0-output")
	require.NoError(t, os.MkdirAll(markerDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(markerDir, CompletionMarkerFilename), []byte("{}\n"), 0o644,
	))

	complete, statuses = DependenciesComplete(testLogger(), def, runID, outputRoot)
	assert.True(t, complete)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Complete)
}

func TestDependenciesComplete_OneMissingShortCircuits(t *testing.T) {
	outputRoot := t.TempDir()
	runID := "run"

	def := &config.PipelineConfig{
		Name:    "org/dependent",
		Version: "1.0.0",
		Dependencies: []config.Dependency{
			{Name: "org/first", Version: "1.0.0"},
			{Name: "org/second", Version: "2.0.0"},
		},
	}

	markerDir := filepath.Join(outputRoot, runID, "first-1.0-output")
	require.NoError(t, os.MkdirAll(markerDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(markerDir, CompletionMarkerFilename), []byte("{}\n"), 0o644,
	))

	complete, statuses := DependenciesComplete(testLogger(), def, runID, outputRoot)
	assert.False(t, complete)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Complete)
	assert.False(t, statuses[1].Complete)
}
