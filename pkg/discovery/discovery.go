package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"
)

// ReadyMarkerFilename is the sentinel file that signals a run directory has
// all of its input files staged and is safe to analyze. Its presence is
// checked, never its contents.
const ReadyMarkerFilename = "symlinks_complete.json"

// Instrument identifies the sequencing instrument class that produced a run,
// inferred from the run directory naming convention.
type Instrument string

const (
	InstrumentMiSeq   Instrument = "miseq"
	InstrumentNextSeq Instrument = "nextseq"
	InstrumentGridION Instrument = "gridion"
	InstrumentUnknown Instrument = "unknown"
)

// Run directory naming conventions, one per supported instrument.
var (
	miseqRunIDPattern   = regexp.MustCompile(`^\d{6}_M\d{5}_\d+_\d{9}-[A-Z0-9]{5}$`)
	nextseqRunIDPattern = regexp.MustCompile(`^\d{6}_VH\d{5}_\d+_[A-Z0-9]{9}$`)
	gridionRunIDPattern = regexp.MustCompile(`^\d{8}_\d{4}_X[1-5]_[A-Z0-9]+_[a-z0-9]{8}$`)
)

// Run describes one sequencing run directory eligible for analysis.
// Runs are re-discovered on every scan cycle and never persisted.
type Run struct {
	ID                 string
	FastqDir           string
	Instrument         Instrument
	AnalysisParameters map[string]string
}

// Options control run discovery behaviour.
type Options struct {
	// RequireReadyMarker skips run directories that do not yet contain the
	// readiness marker file.
	RequireReadyMarker bool

	// ReverseOrder visits run directories newest-looking name first.
	ReverseOrder bool
}

// ClassifyInstrument returns the instrument class whose naming convention
// the given directory name matches. A name matching zero or more than one
// convention classifies as unknown.
func ClassifyInstrument(name string) Instrument {
	matched := InstrumentUnknown
	matches := 0

	if miseqRunIDPattern.MatchString(name) {
		matched = InstrumentMiSeq
		matches++
	}

	if nextseqRunIDPattern.MatchString(name) {
		matched = InstrumentNextSeq
		matches++
	}

	if gridionRunIDPattern.MatchString(name) {
		matched = InstrumentGridION
		matches++
	}

	if matches != 1 {
		return InstrumentUnknown
	}

	return matched
}

// Discover scans the root directory for run directories that are ready to
// analyze. Directories that fail any condition are skipped with a diagnostic
// log event; this is expected steady-state noise, not an error. The only
// error return is a failure to enumerate the root directory itself.
func Discover(log logrus.FieldLogger, root string, opts Options) ([]Run, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scanning run directory %q: %w", root, err)
	}

	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))

	for _, entry := range entries {
		names = append(names, entry.Name())
		byName[entry.Name()] = entry
	}

	if opts.ReverseOrder {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	runs := make([]Run, 0, len(names))

	for _, name := range names {
		entry := byName[name]
		path := filepath.Join(root, name)

		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}

		instrument := ClassifyInstrument(name)

		readyToAnalyze := true
		if opts.RequireReadyMarker {
			_, statErr := os.Stat(filepath.Join(path, ReadyMarkerFilename))
			readyToAnalyze = statErr == nil
		}

		conditions := logrus.Fields{
			"is_directory":          entry.IsDir(),
			"matches_run_id_format": instrument != InstrumentUnknown,
			"ready_to_analyze":      readyToAnalyze,
		}

		if !entry.IsDir() || instrument == InstrumentUnknown || !readyToAnalyze {
			log.WithField("fastq_directory", absPath).
				WithFields(conditions).
				Debug("Directory skipped")

			continue
		}

		log.WithFields(logrus.Fields{
			"sequencing_run_id":    name,
			"fastq_directory_path": absPath,
			"instrument":           instrument,
		}).Info("Fastq directory found")

		runs = append(runs, Run{
			ID:         name,
			FastqDir:   absPath,
			Instrument: instrument,
			AnalysisParameters: map[string]string{
				"fastq_input": absPath,
			},
		})
	}

	return runs, nil
}
