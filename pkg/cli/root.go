// Package cli wires the memedb commands: backfill, its retry and unlock
// subcommands, and serve.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/config"
	"github.com/memehubx/memedb/pkg/logging"
)

// app is the state shared by all commands of one invocation
type app struct {
	lookupEnv config.LookupFunc

	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	cfg      config.Config
	logger   zerolog.Logger
	closeLog func() error
}

func newApp(lookupEnv config.LookupFunc) *app {
	return &app{
		lookupEnv: lookupEnv,
		logger:    zerolog.Nop(),
		closeLog:  func() error { return nil },
	}
}

// setup loads configuration and builds the logger before any command runs
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, a.lookupEnv)
	if err != nil {
		return &ExitError{Code: backfill.ExitConfigError, Err: err}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = a.logFile
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return &ExitError{Code: backfill.ExitConfigError, Err: err}
	}
	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	return nil
}

// NewRootCmd creates the memedb command tree
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp(os.LookupEnv))
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "memedb",
		Short:         "Document store and derived-field backfill tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultFile+" when present)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: console or json (default: console on a terminal)")
	cmd.PersistentFlags().StringVar(&a.logFile, "log-file", "", "also append logs to this file")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: backfill.ExitConfigError, Err: err}
	})

	cmd.AddCommand(newBackfillCmd(a), newServeCmd(a))
	return cmd
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(os.LookupEnv)
	return execute(ctx, a, args, stdout, stderr)
}

func execute(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.closeLog(); cerr != nil {
		fmt.Fprintf(stderr, "Warning: failed to close log file: %v\n", cerr)
	}

	var exitErr *ExitError
	if err != nil && (!errors.As(err, &exitErr) || exitErr.Err != nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}
