package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/versionable/internal/diff"
	"github.com/roach88/versionable/internal/snapshot"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Unified bool
}

// DiffResult holds the fields of the target version that differ from the base.
type DiffResult struct {
	Base    VersionView    `json:"base" yaml:"base"`
	Target  VersionView    `json:"target" yaml:"target"`
	Changes map[string]any `json:"changes" yaml:"changes"`
	Unified string         `json:"unified,omitempty" yaml:"unified,omitempty"`

	lines []string
}

func (r DiffResult) renderText(w io.Writer) error {
	if r.Unified != "" {
		_, err := fmt.Fprint(w, r.Unified)
		return err
	}
	if len(r.lines) == 0 {
		_, err := fmt.Fprintf(w, "snapshots %d and %d are identical\n", r.Base.ID, r.Target.ID)
		return err
	}
	fmt.Fprintf(w, "changes from %d to %d:\n", r.Base.ID, r.Target.ID)
	for _, l := range r.lines {
		fmt.Fprintf(w, "  %s\n", l)
	}
	return nil
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <type> <snapshot-id> [against-id]",
		Short: "Compare a snapshot with another version",
		Long: `Show the fields of the comparison target that differ from a snapshot.

Without against-id the snapshot is compared with the record's current
version. Timestamps are left out of the change set. --unified prints a
line diff of both versions' full field sets instead.

Examples:
  versionctl diff post 17
  versionctl diff post 17 21 --unified`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Unified, "unified", "u", false, "print a unified diff of both versions")

	return cmd
}

func runDiff(ctx context.Context, opts *DiffOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ownerType := args[0]

	baseID, err := parseSnapshotID(args[1])
	if err != nil {
		return err
	}
	var targetID int64
	if len(args) == 3 {
		if targetID, err = parseSnapshotID(args[2]); err != nil {
			return err
		}
	}

	sess, err := opts.openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	base, err := lookup(ctx, sess, ownerType, baseID)
	if err != nil {
		return report(f, exitCodeFor(err), errorCodeFor(err), fmt.Sprintf("snapshot %d", baseID), err)
	}

	var target snapshot.Snapshot
	if targetID != 0 {
		target, err = lookup(ctx, sess, ownerType, targetID)
	} else {
		target, err = sess.engine.CurrentVersion(ctx, ownerType, base.OwnerID)
	}
	if err != nil {
		return report(f, exitCodeFor(err), errorCodeFor(err), "no comparison target", err)
	}

	changes, err := sess.engine.Diff(ctx, base, &target)
	if err != nil {
		return report(f, exitCodeFor(err), errorCodeFor(err), "diff failed", err)
	}
	lines, err := diff.Lines(changes)
	if err != nil {
		return report(f, ExitFailure, "E_DECODE", "diff failed", err)
	}

	result := DiffResult{
		Base:    newVersionView(base),
		Target:  newVersionView(target),
		Changes: plain(changes),
		lines:   lines,
	}

	if opts.Unified {
		baseFields, err := sess.engine.Decode(base)
		if err != nil {
			return report(f, ExitFailure, "E_DECODE", "diff failed", err)
		}
		targetFields, err := sess.engine.Decode(target)
		if err != nil {
			return report(f, ExitFailure, "E_DECODE", "diff failed", err)
		}
		result.Unified, err = diff.Unified(
			fmt.Sprintf("%s@%d", base.Owner(), base.ID), baseFields,
			fmt.Sprintf("%s@%d", target.Owner(), target.ID), targetFields,
		)
		if err != nil {
			return report(f, ExitFailure, "E_DECODE", "diff failed", err)
		}
	}

	sess.logger.Debug("diff computed", "base", base.ID, "target", target.ID, "changes", len(changes))
	return f.Success(result)
}
