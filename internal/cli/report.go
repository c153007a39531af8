package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storetest/internal/report"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	DB       string
	Scenario string
	Limit    int
}

// RunDetail is a recorded run with its caught actions.
type RunDetail struct {
	Run     report.Run      `json:"run"`
	Actions []report.Action `json:"actions"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "List recorded scenario runs",
		Long: `List runs recorded with run --report-db, newest first.

With a run id, prints that run and its caught actions.

Examples:
  storetest report --db runs.db
  storetest report --db runs.db --scenario set_ok --limit 5
  storetest report --db runs.db 0190c3e4-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runReportDetail(opts, args[0], cmd)
			}
			return runReportList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", rootOpts.ReportDB, "report database path")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only runs of this scenario")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs (0 for all)")

	return cmd
}

func openReport(opts *ReportOptions, formatter *OutputFormatter) (*report.Store, error) {
	if opts.DB == "" {
		return nil, formatter.Fail(ErrCodeReport,
			NewExitError(ExitCommandError, "no report database: set --db or STORETEST_REPORT_DB"))
	}
	if _, err := os.Stat(opts.DB); err != nil {
		return nil, formatter.Fail(ErrCodeNotFound,
			WrapExitError(ExitCommandError, fmt.Sprintf("report database not found: %s", opts.DB), err))
	}
	store, err := report.Open(opts.DB)
	if err != nil {
		return nil, formatter.Fail(ErrCodeReport, err)
	}
	return store, nil
}

func runReportList(opts *ReportOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	store, err := openReport(opts, formatter)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), report.Filter{Scenario: opts.Scenario, Limit: opts.Limit})
	if err != nil {
		return formatter.Fail(ErrCodeReport, err)
	}

	if formatter.JSON() {
		return formatter.Success(runs)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(r.Seq, 10), r.Scenario, outcome(r), shortDigest(r.Digest), r.RecordedAt.Format(time.RFC3339), r.ID,
		})
	}
	return formatter.Table([]string{"SEQ", "SCENARIO", "RESULT", "DIGEST", "RECORDED", "ID"}, rows)
}

func runReportDetail(opts *ReportOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	store, err := openReport(opts, formatter)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.ReadRun(cmd.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.Fail(ErrCodeNotFound,
			NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", id)))
	}
	if err != nil {
		return formatter.Fail(ErrCodeReport, err)
	}
	actions, err := store.RunActions(cmd.Context(), id)
	if err != nil {
		return formatter.Fail(ErrCodeReport, err)
	}

	if formatter.JSON() {
		return formatter.Success(RunDetail{Run: run, Actions: actions})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (#%d)\n", run.ID, run.Seq)
	fmt.Fprintf(w, "  Scenario: %s\n", run.Scenario)
	fmt.Fprintf(w, "  Result:   %s\n", outcome(run))
	fmt.Fprintf(w, "  Digest:   %s\n", run.Digest)
	fmt.Fprintf(w, "  Recorded: %s\n", run.RecordedAt.Format(time.RFC3339))
	for _, e := range run.Errors {
		fmt.Fprintf(w, "  Error:    %s\n", e)
	}
	fmt.Fprintf(w, "\nCaught actions (%d):\n", len(actions))
	for _, a := range actions {
		if a.Payload != "" {
			fmt.Fprintf(w, "  %d. %s %s\n", a.Seq, a.Type, a.Payload)
		} else {
			fmt.Fprintf(w, "  %d. %s\n", a.Seq, a.Type)
		}
	}
	return nil
}

func outcome(r report.Run) string {
	switch {
	case r.Pass && r.TimedOut:
		return "pass (timeout)"
	case r.Pass:
		return "pass"
	case r.TimedOut:
		return "fail (timeout)"
	default:
		return "fail"
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
