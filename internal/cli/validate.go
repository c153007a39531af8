package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/storetest/internal/harness"
)

// ValidatedScenario is the validation outcome of one scenario file.
type ValidatedScenario struct {
	File  string `json:"file"`
	Name  string `json:"name,omitempty"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                `json:"valid"`
	Scenarios []ValidatedScenario `json:"scenarios"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file-or-dir>",
		Short: "Validate scenarios without running them",
		Long: `Validate scenario files without running them.

Performs strict YAML decoding, schema validation and consistency checks
(step shape, referenced callers, assertion fields).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	files, err := findScenarioFiles(path, "")
	if err != nil {
		return formatter.Fail(ErrCodeNotFound, err)
	}
	if len(files) == 0 {
		return formatter.Fail(ErrCodeNotFound,
			NewExitError(ExitCommandError, fmt.Sprintf("no scenario files found in %s", path)))
	}

	result := ValidationResult{Valid: true, Scenarios: make([]ValidatedScenario, 0, len(files))}
	for _, file := range files {
		formatter.VerboseLog("Validating %s", file)
		vs := ValidatedScenario{File: file, Valid: true}
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			vs.Valid = false
			vs.Error = err.Error()
			result.Valid = false
		} else {
			vs.Name = scenario.Name
		}
		result.Scenarios = append(result.Scenarios, vs)
	}

	var failure error
	if !result.Valid {
		failure = NewExitError(ExitFailure, "validation failed")
	}

	if formatter.JSON() {
		if err := formatter.Result(result, !result.Valid, ErrCodeInvalidScenario, "validation failed"); err != nil {
			return err
		}
		return failure
	}

	w := cmd.OutOrStdout()
	for _, vs := range result.Scenarios {
		if vs.Valid {
			fmt.Fprintf(w, "✓ %s (%s)\n", vs.Name, filepath.Base(vs.File))
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", filepath.Base(vs.File))
		fmt.Fprintf(w, "  %s\n", vs.Error)
	}
	if result.Valid {
		fmt.Fprintf(w, "✓ %d scenario(s) valid\n", len(result.Scenarios))
	}
	return failure
}

