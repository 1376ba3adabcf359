package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/versionable/internal/snapshot"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Keep int
}

// PurgeResult reports a retention purge.
type PurgeResult struct {
	Owner   string `json:"owner" yaml:"owner"`
	Kept    int    `json:"kept" yaml:"kept"`
	Deleted int    `json:"deleted" yaml:"deleted"`
}

func (r PurgeResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "purged %d version(s) of %s, keeping the newest %d\n", r.Deleted, r.Owner, r.Kept)
	return err
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge <type> <id>",
		Short: "Delete all but the newest versions of a record",
		Long: `Delete a record's oldest snapshots so that at most --keep remain.

Examples:
  versionctl purge post 42 --keep 10`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Keep, "keep", 0, "number of newest versions to keep (required, >= 1)")
	_ = cmd.MarkFlagRequired("keep")

	return cmd
}

func runPurge(ctx context.Context, opts *PurgeOptions, ownerType, ownerID string, cmd *cobra.Command) error {
	if opts.Keep < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--keep must be at least 1, got %d", opts.Keep))
	}
	f := opts.formatter(cmd)

	sess, err := opts.openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	deleted, err := sess.engine.Purge(ctx, ownerType, ownerID, opts.Keep)
	if err != nil {
		return report(f, ExitCommandError, "E_STORE", "purge failed", err)
	}

	owner := snapshot.Owner{Type: ownerType, ID: ownerID}
	sess.logger.Info("purged versions", "owner_type", ownerType, "owner_id", ownerID, "deleted", deleted, "kept", opts.Keep)
	return f.Success(PurgeResult{Owner: owner.String(), Kept: opts.Keep, Deleted: deleted})
}
