// Package config defines run and experiment configuration, loading and
// validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidConfig is matched by ConfigurationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigurationError lists every rule a configuration breaks. It is fatal at
// startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfig }

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Run is the configuration of one evaluation run.
type Run struct {
	// RunID tags results, logs and reports. Generated when empty.
	RunID string `yaml:"run-id" validate:"omitempty,uuid4"`

	WindowSize uint64 `yaml:"window-size" validate:"required,gt=0"`
	SlideSize  uint64 `yaml:"slide-size" validate:"required,gt=0,ltefield=WindowSize"`

	// InputType is one of s, st, i, it.
	InputType string `yaml:"input-type" validate:"required,oneof=s st i it"`
	InputPath string `yaml:"input" validate:"required"`
	OutputDir string `yaml:"output" validate:"required"`

	// Query names a library template bound to Predicates. RPQ is a raw
	// expression used instead of a template.
	Query      string   `yaml:"query" validate:"required_without=RPQ"`
	RPQ        string   `yaml:"rpq"`
	Predicates []string `yaml:"predicates" validate:"dive,required"`

	Workers        int     `yaml:"workers" validate:"gte=1,lte=256"`
	EmitEmptyPaths bool    `yaml:"emit-empty-paths"`
	Semantics      string  `yaml:"semantics" validate:"omitempty,oneof=retain consume"`
	DedupCapacity  int     `yaml:"dedup-capacity" validate:"gte=0"`
	Strict         bool    `yaml:"strict"`
	MaxRate        float64 `yaml:"max-rate" validate:"gte=0"`

	ReportInterval time.Duration `yaml:"report-interval" validate:"gte=0"`
	MetricsAddr    string        `yaml:"metrics-addr" validate:"omitempty,hostname_port"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
}

// DefaultRun returns a run with every optional knob at its default.
func DefaultRun() Run {
	return Run{
		InputType:      "it",
		Workers:        1,
		EmitEmptyPaths: true,
		Semantics:      "retain",
		ReportInterval: 5 * time.Second,
	}
}

// EnsureDefaults fills in generated fields.
func (r *Run) EnsureDefaults() {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.Workers == 0 {
		r.Workers = 1
	}
}

// Validate checks the run and returns a *ConfigurationError listing every
// problem.
func (r *Run) Validate() error {
	cerr := &ConfigurationError{}
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			cerr.Problems = append(cerr.Problems, describe(fe))
		}
	}
	if r.Query != "" && r.RPQ != "" {
		cerr.Problems = append(cerr.Problems, "query and rpq are mutually exclusive")
	}
	if len(cerr.Problems) > 0 {
		return cerr
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_without":
		return "either a query name or an rpq expression is required"
	case "ltefield":
		return fmt.Sprintf("%s (%v) must not exceed %s", fe.Field(), fe.Value(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s must be %s %s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s fails %q", fe.Field(), fe.Tag())
}
