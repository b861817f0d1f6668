package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sanonone/kektorpath/pkg/config"
)

// ParseArgs fills cfg from the positional form of the run command:
//
//	window slide inputType inputPath outputDir [queryId argc predicates...]
//
// The query part is omitted when the expression comes from --rpq.
func ParseArgs(args []string, cfg *config.Run) error {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			parts = append(parts, a)
		}
	}
	if len(parts) < 5 {
		return usageError("expected at least 5 arguments, got %d", len(parts))
	}

	var err error
	if cfg.WindowSize, err = strconv.ParseUint(parts[0], 10, 64); err != nil {
		return usageError("window size %q is not a non-negative integer", parts[0])
	}
	if cfg.SlideSize, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
		return usageError("slide size %q is not a non-negative integer", parts[1])
	}
	cfg.InputType = parts[2]
	cfg.InputPath = parts[3]
	cfg.OutputDir = parts[4]

	rest := parts[5:]
	if len(rest) == 0 {
		return nil
	}
	if len(rest) < 2 {
		return usageError("query %q needs a predicate count", rest[0])
	}
	argc, err := strconv.Atoi(rest[1])
	if err != nil || argc < 0 {
		return usageError("predicate count %q is not a non-negative integer", rest[1])
	}
	if len(rest)-2 != argc {
		return usageError("query %s declares %d predicates, got %d", rest[0], argc, len(rest)-2)
	}
	cfg.Query = rest[0]
	cfg.Predicates = append([]string(nil), rest[2:]...)
	return nil
}

func usageError(format string, a ...any) error {
	return &config.ConfigurationError{Problems: []string{fmt.Sprintf(format, a...)}}
}
