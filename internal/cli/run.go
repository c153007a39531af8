package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storetest/internal/harness"
	"github.com/roach88/storetest/internal/report"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Update   bool          // regenerate golden files
	Filter   string        // scenario filter (glob pattern)
	Repeat   int           // runs per scenario for the determinism check
	Timeout  time.Duration // overrides scenario timeouts when non-zero
	ReportDB string        // record runs in this database when set
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Pass     bool     `json:"pass"`
	TimedOut bool     `json:"timed_out,omitempty"`
	Digest   string   `json:"digest,omitempty"`
	ReportID string   `json:"report_id,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// RunResult holds the overall result of the run command.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file-or-dir>",
		Short: "Run store scenarios",
		Long: `Run scenario files and check their assertions.

Each scenario's trace snapshot is compared with golden/<name>.golden next to
the scenario file when that file exists. With --repeat N every scenario runs
N times and all runs must produce the same digest.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  storetest run ./scenarios
  storetest run ./scenarios --filter "set_*"
  storetest run ./scenarios --update
  storetest run ./scenarios/set_ok.yaml --repeat 5 --report-db runs.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().IntVar(&opts.Repeat, "repeat", 1, "run each scenario N times and compare digests")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", rootOpts.Timeout, "override scenario timeouts")
	cmd.Flags().StringVar(&opts.ReportDB, "report-db", rootOpts.ReportDB, "record runs in this SQLite database")

	return cmd
}

func runScenarios(ctx context.Context, opts *RunOptions, path string, cmd *cobra.Command) error {
	if opts.Repeat < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--repeat must be at least 1, got %d", opts.Repeat))
	}

	files, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return err
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if len(files) == 0 {
		if formatter.JSON() {
			return formatter.Result(RunResult{Scenarios: []ScenarioResult{}}, false, "", "")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	var reports *report.Store
	if opts.ReportDB != "" {
		reports, err = report.Open(opts.ReportDB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open report database", err)
		}
		defer reports.Close()
	}

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		formatter.VerboseLog("Running %s", file)
		sr := runScenario(ctx, file, opts, reports)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if !formatter.JSON() {
			printScenarioResult(cmd, sr, opts.Update)
		}
	}

	var failure error
	if result.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	if formatter.JSON() {
		if err := formatter.Result(result, result.Failed > 0, ErrCodeRunFailed, fmt.Sprintf("%d scenario(s) failed", result.Failed)); err != nil {
			return err
		}
		return failure
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if failure == nil {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
	return failure
}

// runScenario loads, runs and checks one scenario file. Failures of any
// kind end up in the returned result.
func runScenario(ctx context.Context, file string, opts *RunOptions, reports *report.Store) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}
	fail := func(format string, args ...any) ScenarioResult {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf(format, args...))
		return sr
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	sr.Name = scenario.Name
	if opts.Timeout > 0 {
		scenario.Timeout = opts.Timeout.String()
	}

	logger := slog.Default().With("scenario", scenario.Name)
	result, err := harness.Run(ctx, scenario, harness.WithLogger(logger))
	if err != nil {
		return fail("execution failed: %v", err)
	}
	sr.Pass = result.Pass
	sr.TimedOut = result.TimedOut
	sr.Digest = result.Digest
	sr.Errors = append(sr.Errors, result.Errors...)

	for i := 2; i <= opts.Repeat; i++ {
		again, err := harness.Run(ctx, scenario, harness.WithLogger(logger))
		if err != nil {
			return fail("execution failed on repeat %d: %v", i, err)
		}
		if again.Digest != result.Digest {
			fail("non-deterministic: repeat %d digest %s differs from %s", i, again.Digest, result.Digest)
			break
		}
	}

	if reports != nil {
		run, err := reports.RecordRun(ctx, scenario, result)
		if err != nil {
			fail("failed to record run: %v", err)
		} else {
			sr.ReportID = run.ID
		}
	}

	if opts.Update {
		if err := updateGoldenFile(scenario, result, file); err != nil {
			return fail("failed to update golden file: %v", err)
		}
		return sr
	}

	match, found, err := compareWithGolden(scenario, result, file)
	switch {
	case err != nil:
		return fail("golden comparison failed: %v", err)
	case found && !match:
		return fail("trace does not match golden file (run with --update to regenerate)")
	}
	return sr
}

func printScenarioResult(cmd *cobra.Command, sr ScenarioResult, updated bool) {
	w := cmd.OutOrStdout()
	if !sr.Pass {
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return
	}
	if updated {
		fmt.Fprintf(w, "✓ %s (golden updated)\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✓ %s\n", sr.Name)
}
