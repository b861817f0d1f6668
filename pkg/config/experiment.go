package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Experiment is a batch of runs over one dataset.
type Experiment struct {
	Dataset      string          `yaml:"dataset"`
	InputType    string          `yaml:"input-type"`
	ReportFolder string          `yaml:"report-folder"`
	Timeout      time.Duration   `yaml:"timeout"`
	Runs         []ExperimentRun `yaml:"runs"`
}

// ExperimentRun is one entry of an experiment.
type ExperimentRun struct {
	QueryName   string   `yaml:"query-name"`
	Index       int      `yaml:"index"`
	ExecName    string   `yaml:"exec-name"`
	Predicates  []string `yaml:"predicates"`
	WindowSize  uint64   `yaml:"window-size"`
	SlideSize   uint64   `yaml:"slide-size"`
	ThreadCount int      `yaml:"thread-count"`
}

// Executor variants accepted in exec-name.
const (
	ExecSingle   = "spath"
	ExecParallel = "parallel"
)

// DefaultExperiment returns the defaults applied before decoding.
func DefaultExperiment() Experiment {
	return Experiment{
		InputType:    "it",
		ReportFolder: "reports",
		Timeout:      10 * time.Minute,
	}
}

// LoadExperiment decodes the YAML file at path over the defaults. Unknown
// keys are rejected.
func LoadExperiment(path string) (Experiment, error) {
	exp := DefaultExperiment()

	file, err := os.Open(path)
	if err != nil {
		return exp, fmt.Errorf("failed to open experiment config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&exp); err != nil {
		return exp, fmt.Errorf("YAML syntax error in experiment config: %w", err)
	}
	return exp, nil
}

// RunConfigs expands the experiment into validated run configurations. Each
// run reports into <report-folder>/<query-name>-<index>.
func (e Experiment) RunConfigs() ([]Run, error) {
	if len(e.Runs) == 0 {
		return nil, &ConfigurationError{Problems: []string{"experiment has no runs"}}
	}
	out := make([]Run, 0, len(e.Runs))
	for i, er := range e.Runs {
		r := DefaultRun()
		r.InputPath = e.Dataset
		r.InputType = e.InputType
		r.Timeout = e.Timeout
		r.Query = er.QueryName
		r.Predicates = er.Predicates
		r.WindowSize = er.WindowSize
		r.SlideSize = er.SlideSize
		r.OutputDir = filepath.Join(e.ReportFolder, er.QueryName+"-"+strconv.Itoa(er.Index))

		switch er.ExecName {
		case "", ExecSingle:
			r.Workers = 1
		case ExecParallel:
			r.Workers = max(er.ThreadCount, 1)
		default:
			return nil, &ConfigurationError{Problems: []string{
				fmt.Sprintf("run %d: unknown exec-name %q", i, er.ExecName),
			}}
		}

		r.EnsureDefaults()
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("run %d (%s): %w", i, er.QueryName, err)
		}
		out = append(out, r)
	}
	return out, nil
}
