package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storetest/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // FormatText or FormatJSON

	// Environment defaults for subcommand flags.
	Timeout  time.Duration
	ReportDB string
}

// NewRootCommand creates the root command. Flag defaults come from env.
func NewRootCommand(env config.Env) *cobra.Command {
	opts := &RootOptions{
		Timeout:  env.Timeout,
		ReportDB: env.ReportDB,
	}

	cmd := &cobra.Command{
		Use:   "storetest",
		Short: "storetest - deterministic store scenarios",
		Long: `Run declarative test scenarios against a reactive store.

A scenario describes a reducer store, its sagas and the steps a test script
performs (dispatch, wait for an action, a state, a call or a delay). Runs
are deterministic: repeated runs must produce the same trace digest.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", env.Verbose, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", env.Format, "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}
