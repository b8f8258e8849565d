package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/BCCDC-PHL/auto-flu/pkg/discovery"
	"github.com/BCCDC-PHL/auto-flu/pkg/hooks"
	"github.com/BCCDC-PHL/auto-flu/pkg/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRunID = "220101_M00001_0001_000000000-AAAAA"

// fakeRunner records invocations instead of executing processes.
type fakeRunner struct {
	calls    [][]string
	workDirs []string
	output   []byte
	err      error
}

func (f *fakeRunner) Run(_ context.Context, workDir string, argv []string) ([]byte, error) {
	f.calls = append(f.calls, argv)
	f.workDirs = append(f.workDirs, workDir)

	// Keep start and completion timestamps strictly ordered.
	time.Sleep(time.Millisecond)

	return f.output, f.err
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func testRun(t *testing.T) *discovery.Run {
	t.Helper()

	fastqDir := filepath.Join(t.TempDir(), testRunID)
	require.NoError(t, os.MkdirAll(fastqDir, 0o755))

	return &discovery.Run{
		ID:         testRunID,
		FastqDir:   fastqDir,
		Instrument: discovery.InstrumentMiSeq,
		AnalysisParameters: map[string]string{
			"fastq_input": fastqDir,
		},
	}
}

func testDispatcher(t *testing.T, runner CommandRunner) (Dispatcher, string, string) {
	t.Helper()

	outputRoot := t.TempDir()
	workRoot := t.TempDir()

	log := testLogger()
	d := New(log, &Config{
		OutputRoot: outputRoot,
		WorkRoot:   workRoot,
		CacheDir:   "/cache/envs",
	}, hooks.DefaultRegistry(log), runner)

	return d, outputRoot, workRoot
}

func testPipeline() *config.PipelineConfig {
	return &config.PipelineConfig{
		Name:       "org/tool",
		Version:    "1.0.0",
		Parameters: map[string]*string{"fastq_input": nil},
	}
}

func TestDispatch_Success(t *testing.T) {
	runner := &fakeRunner{}
	d, outputRoot, _ := testDispatcher(t, runner)
	run := testRun(t)

	inv := d.Dispatch(testPipeline(), run)

	assert.Equal(t, OutcomeCompleted, inv.Outcome)
	require.Len(t, runner.calls, 1)

	argv := runner.calls[0]
	assert.Equal(t, "nextflow", argv[0])
	assert.Contains(t, argv, "org/tool")
	assert.Contains(t, argv, "-r")
	assert.Contains(t, argv, "1.0.0")
	assert.Contains(t, argv, "-profile")
	assert.Contains(t, argv, "conda")
	assert.Contains(t, argv, "--cache")
	assert.Contains(t, argv, "/cache/envs")

	// Run attribute substituted for the null fastq_input parameter.
	idx := indexOf(argv, "--fastq_input")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, run.FastqDir, argv[idx+1])

	// Output directory is always bound to the planned path.
	outputDir := filepath.Join(outputRoot, testRunID, "tool-1.0-output")
	idx = indexOf(argv, "--outdir")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, outputDir, argv[idx+1])

	// Command executed from inside the work directory.
	require.Len(t, runner.workDirs, 1)
	assert.Equal(t, inv.WorkDir, runner.workDirs[0])
	assert.DirExists(t, inv.WorkDir)
}

func TestDispatch_WritesCompletionMarker(t *testing.T) {
	runner := &fakeRunner{}
	d, outputRoot, _ := testDispatcher(t, runner)

	inv := d.Dispatch(testPipeline(), testRun(t))
	require.Equal(t, OutcomeCompleted, inv.Outcome)

	markerPath := filepath.Join(
		outputRoot, testRunID, "tool-1.0-output", pipeline.CompletionMarkerFilename,
	)

	marker, err := ReadCompletionMarker(markerPath)
	require.NoError(t, err)

	start, err := time.Parse(time.RFC3339Nano, marker.TimestampAnalysisStart)
	require.NoError(t, err)

	complete, err := time.Parse(time.RFC3339Nano, marker.TimestampAnalysisComplete)
	require.NoError(t, err)

	assert.True(t, complete.After(start),
		"completion timestamp must be after start timestamp")
}

func TestDispatch_Idempotent(t *testing.T) {
	runner := &fakeRunner{}
	d, _, _ := testDispatcher(t, runner)
	run := testRun(t)

	first := d.Dispatch(testPipeline(), run)
	require.Equal(t, OutcomeCompleted, first.Outcome)

	second := d.Dispatch(testPipeline(), run)
	assert.Equal(t, OutcomeSkipped, second.Outcome)

	// Exactly one external invocation across both dispatches.
	assert.Len(t, runner.calls, 1)
}

func TestDispatch_SkipsWhenOutputDirExists(t *testing.T) {
	runner := &fakeRunner{}
	d, outputRoot, _ := testDispatcher(t, runner)

	// Simulate a prior (possibly failed) attempt: the output directory
	// exists but carries no completion marker.
	require.NoError(t, os.MkdirAll(
		filepath.Join(outputRoot, testRunID, "tool-1.0-output"), 0o755,
	))

	inv := d.Dispatch(testPipeline(), testRun(t))

	assert.Equal(t, OutcomeSkipped, inv.Outcome)
	assert.Empty(t, runner.calls)
}

func TestDispatch_DependencyGating(t *testing.T) {
	runner := &fakeRunner{}
	d, outputRoot, _ := testDispatcher(t, runner)
	run := testRun(t)

	dependent := &config.PipelineConfig{
		Name:    "org/dependent",
		Version: "2.0.0",
		Dependencies: []config.Dependency{
			{Name: "org/tool", Version: "1.0.0"},
		},
		Parameters: map[string]*string{"fastq_input": nil},
	}

	inv := d.Dispatch(dependent, run)
	assert.Equal(t, OutcomeSkipped, inv.Outcome)
	assert.Empty(t, runner.calls)

	// Complete the upstream pipeline, then the dependent one dispatches.
	upstream := d.Dispatch(testPipeline(), run)
	require.Equal(t, OutcomeCompleted, upstream.Outcome)

	inv = d.Dispatch(dependent, run)
	assert.Equal(t, OutcomeCompleted, inv.Outcome)

	markerPath := filepath.Join(
		outputRoot, testRunID, "dependent-2.0-output", pipeline.CompletionMarkerFilename,
	)
	assert.FileExists(t, markerPath)
}

func TestDispatch_UnresolvableParameter(t *testing.T) {
	runner := &fakeRunner{}
	d, _, workRoot := testDispatcher(t, runner)

	def := &config.PipelineConfig{
		Name:    "org/tool",
		Version: "1.0.0",
		Parameters: map[string]*string{
			"fastq_input":  nil,
			"missing_attr": nil,
		},
	}

	inv := d.Dispatch(def, testRun(t))

	assert.Equal(t, OutcomeSkipped, inv.Outcome)
	assert.Contains(t, inv.Reason, "missing_attr")
	assert.Empty(t, runner.calls)

	// Surfaced before execution: no work directory was created.
	entries, err := os.ReadDir(workRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatch_Failure(t *testing.T) {
	runner := &fakeRunner{
		output: []byte("ERROR ~ something went wrong"),
		err:    &exitError{},
	}
	d, outputRoot, _ := testDispatcher(t, runner)

	inv := d.Dispatch(testPipeline(), testRun(t))

	assert.Equal(t, OutcomeFailed, inv.Outcome)

	// No completion marker, and the work directory is left in place for
	// operator inspection.
	markerPath := filepath.Join(
		outputRoot, testRunID, "tool-1.0-output", pipeline.CompletionMarkerFilename,
	)
	assert.NoFileExists(t, markerPath)
	assert.DirExists(t, inv.WorkDir)
}

func TestDispatch_FixedParametersPassThrough(t *testing.T) {
	runner := &fakeRunner{}
	d, _, _ := testDispatcher(t, runner)

	db := "/data/flu-db"
	def := &config.PipelineConfig{
		Name:    "org/tool",
		Version: "1.0.0",
		Parameters: map[string]*string{
			"fastq_input": nil,
			"db":          &db,
		},
	}

	inv := d.Dispatch(def, testRun(t))
	require.Equal(t, OutcomeCompleted, inv.Outcome)

	argv := runner.calls[0]
	idx := indexOf(argv, "--db")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, db, argv[idx+1])
}

// exitError stands in for a non-zero process exit.
type exitError struct{}

func (*exitError) Error() string { return "exit status 1" }

func indexOf(argv []string, value string) int {
	for i, arg := range argv {
		if arg == value {
			return i
		}
	}

	return -1
}
