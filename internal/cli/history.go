package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/versionable/internal/diff"
	"github.com/roach88/versionable/internal/snapshot"
	"github.com/roach88/versionable/internal/value"
)

// VersionView is the printable metadata of one snapshot.
type VersionView struct {
	ID        int64     `json:"id" yaml:"id"`
	OwnerType string    `json:"owner_type" yaml:"owner_type"`
	OwnerID   string    `json:"owner_id" yaml:"owner_id"`
	ActorID   string    `json:"actor_id,omitempty" yaml:"actor_id,omitempty"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

func newVersionView(s snapshot.Snapshot) VersionView {
	v := VersionView{
		ID:        s.ID,
		OwnerType: s.OwnerType,
		OwnerID:   s.OwnerID,
		CreatedAt: s.CreatedAt.UTC(),
	}
	if s.ActorID != nil {
		v.ActorID = *s.ActorID
	}
	if s.Reason != nil {
		v.Reason = *s.Reason
	}
	return v
}

func (v VersionView) line() string {
	actor := v.ActorID
	if actor == "" {
		actor = "-"
	}
	return fmt.Sprintf("%-8d %s  %-16s %s", v.ID, v.CreatedAt.Format(time.RFC3339), actor, v.Reason)
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// HistoryResult lists a record's versions, newest first.
type HistoryResult struct {
	Owner    string        `json:"owner" yaml:"owner"`
	Versions []VersionView `json:"versions" yaml:"versions"`
}

func (r HistoryResult) renderText(w io.Writer) error {
	if len(r.Versions) == 0 {
		_, err := fmt.Fprintf(w, "No versions found for %s\n", r.Owner)
		return err
	}
	fmt.Fprintf(w, "%-8s %-20s  %-16s %s\n", "ID", "CREATED", "ACTOR", "REASON")
	for _, v := range r.Versions {
		fmt.Fprintln(w, v.line())
	}
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <type> <id>",
		Short: "List the versions of a record",
		Long: `List every snapshot of a record, newest first.

Examples:
  versionctl history post 42
  versionctl history post 42 --limit 5 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many versions (0 = all)")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, ownerType, ownerID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	sess, err := opts.openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	list, err := sess.engine.History(ctx, ownerType, ownerID)
	if err != nil {
		return report(f, ExitCommandError, "E_STORE", "failed to list versions", err)
	}
	if opts.Limit > 0 && len(list) > opts.Limit {
		list = list[:opts.Limit]
	}

	result := HistoryResult{
		Owner:    snapshot.Owner{Type: ownerType, ID: ownerID}.String(),
		Versions: make([]VersionView, len(list)),
	}
	for i, s := range list {
		result.Versions[i] = newVersionView(s)
	}
	return f.Success(result)
}

// ShowResult is one snapshot with its decoded fields.
type ShowResult struct {
	Version VersionView    `json:"version" yaml:"version"`
	Fields  map[string]any `json:"fields" yaml:"fields"`

	lines []string
}

func (r ShowResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "snapshot %d of %s#%s\n", r.Version.ID, r.Version.OwnerType, r.Version.OwnerID)
	fmt.Fprintf(w, "created: %s\n", r.Version.CreatedAt.Format(time.RFC3339))
	if r.Version.ActorID != "" {
		fmt.Fprintf(w, "actor:   %s\n", r.Version.ActorID)
	}
	if r.Version.Reason != "" {
		fmt.Fprintf(w, "reason:  %s\n", r.Version.Reason)
	}
	fmt.Fprintln(w)
	for _, l := range r.lines {
		fmt.Fprintf(w, "  %s\n", l)
	}
	return nil
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <type> <snapshot-id>",
		Short: "Print one snapshot",
		Long: `Print a snapshot's metadata and decoded fields.

The type selects the table and encoder configured for it.

Examples:
  versionctl show post 17
  versionctl show post 17 --format yaml`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runShow(ctx context.Context, opts *RootOptions, ownerType, rawID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	id, err := parseSnapshotID(rawID)
	if err != nil {
		return err
	}

	sess, err := opts.openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	s, err := lookup(ctx, sess, ownerType, id)
	if err != nil {
		return report(f, exitCodeFor(err), errorCodeFor(err), fmt.Sprintf("snapshot %d", id), err)
	}

	fields, err := sess.engine.Decode(s)
	if err != nil {
		return report(f, ExitFailure, "E_DECODE", fmt.Sprintf("snapshot %d", id), err)
	}
	lines, err := diff.Lines(fields)
	if err != nil {
		return report(f, ExitFailure, "E_DECODE", fmt.Sprintf("snapshot %d", id), err)
	}

	return f.Success(ShowResult{
		Version: newVersionView(s),
		Fields:  plain(fields),
		lines:   lines,
	})
}

// lookup fetches a snapshot and checks it belongs to ownerType, since
// several types may share one table.
func lookup(ctx context.Context, sess *session, ownerType string, id int64) (snapshot.Snapshot, error) {
	s, err := sess.engine.Snapshot(ctx, ownerType, id)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if s.OwnerType != ownerType {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot %d belongs to %s: %w", id, s.OwnerType, snapshot.ErrNotFound)
	}
	return s, nil
}

func parseSnapshotID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid snapshot id %q", raw))
	}
	return id, nil
}

func plain(m value.Map) map[string]any {
	out, _ := value.ToAny(m).(map[string]any)
	return out
}

func exitCodeFor(err error) int {
	if errors.Is(err, snapshot.ErrNotFound) {
		return ExitFailure
	}
	return ExitCommandError
}

func errorCodeFor(err error) string {
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		return "E_NOT_FOUND"
	case snapshot.IsDecodeError(err):
		return "E_DECODE"
	default:
		return "E_STORE"
	}
}
