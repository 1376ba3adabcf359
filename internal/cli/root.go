package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/versionable/internal/config"
	"github.com/roach88/versionable/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "text" | "json" | "yaml"
	Config   string // path to versionable.yaml; empty searches the default locations
	Database string // overrides store.dsn
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for versionctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "versionctl",
		Short: "Inspect and maintain record version history",
		Long: `versionctl reads the snapshot tables written by the versioning engine.

It lists a record's versions, shows and diffs individual snapshots,
purges old versions and runs lifecycle scenarios. The database and
per-type tables come from versionable.yaml (see --config) and
VERSIONABLE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to versionable.yaml")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "snapshot database DSN (overrides store.dsn)")

	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newLogger writes text logs to w. Verbose forces debug level.
func newLogger(w io.Writer, level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// session is an engine bound to the configured snapshot database.
type session struct {
	engine  *engine.Engine
	runtime *config.Runtime
	logger  *slog.Logger
}

// openSession loads configuration and opens the stores it names.
func (o *RootOptions) openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Store.DSN = o.Database
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), o.Verbose)

	rt, err := config.Build(ctx, cfg, logger, nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open snapshot store", err)
	}

	logger.Debug("session opened", "driver", cfg.Store.Driver, "types", len(cfg.Types))
	return &session{
		engine:  engine.New(rt.Store, nil, rt.Options...),
		runtime: rt,
		logger:  logger,
	}, nil
}

func (s *session) Close() error {
	return s.runtime.Close()
}

// report writes a structured error for json/yaml output and returns the
// matching ExitError. Text output leaves printing to the caller of Execute.
func report(f *OutputFormatter, exitCode int, code, message string, err error) error {
	if f.Format != "text" {
		var details any
		if err != nil {
			details = err.Error()
		}
		_ = f.Error(code, message, details)
	}
	return WrapExitError(exitCode, message, err)
}
