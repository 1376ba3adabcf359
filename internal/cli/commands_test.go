package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/versionable/internal/codec"
	"github.com/roach88/versionable/internal/snapshot"
	"github.com/roach88/versionable/internal/store"
	"github.com/roach88/versionable/internal/value"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seedDB writes a database holding three versions of post#1 in the shared
// table and one version of user#1 in user_versions, plus a config file
// naming both. Snapshot IDs are 1, 2, 3 for the post and 1 for the user.
func seedDB(t *testing.T) (dbPath, configPath string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "versions.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	users, err := st.WithTable(ctx, "user_versions")
	require.NoError(t, err)

	enc := codec.JSON{}
	add := func(target snapshot.Store, typ string, n int, fields value.Map, reason string, actorID *string) {
		at := epoch.Add(time.Duration(n) * time.Second)
		fields["created_at"] = value.Time(epoch)
		fields["updated_at"] = value.Time(at)
		payload, err := enc.Encode(fields)
		require.NoError(t, err)
		_, err = target.Append(ctx, snapshot.Snapshot{
			OwnerType: typ,
			OwnerID:   "1",
			ActorID:   actorID,
			Payload:   payload,
			Reason:    snapshot.Reason(reason),
			CreatedAt: at,
			UpdatedAt: at,
		})
		require.NoError(t, err)
	}

	editor := "user-7"
	add(st, "post", 1, value.Map{"title": value.String("Hello")}, "", nil)
	add(st, "post", 2, value.Map{"title": value.String("Hello, world")}, "typo", &editor)
	add(st, "post", 3, value.Map{"title": value.String("Hello, world"), "body": value.String("x")}, "", nil)
	add(users, "user", 1, value.Map{"name": value.String("Ann")}, "", nil)

	configPath = filepath.Join(dir, "versionable.yaml")
	cfg := fmt.Sprintf("store:\n  driver: sqlite\n  dsn: %s\ntypes:\n  user:\n    table: user_versions\n", dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return dbPath, configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHistoryText(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "history", "post", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "REASON")
	assert.Contains(t, out, "user-7")
	assert.Contains(t, out, "typo")
	assert.Less(t, bytes.Index([]byte(out), []byte("\n3 ")), bytes.Index([]byte(out), []byte("\n1 ")),
		"newest version is listed first")
}

func TestHistoryJSON(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "history", "post", "1", "--limit", "2")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   HistoryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "post#1", resp.Data.Owner)
	require.Len(t, resp.Data.Versions, 2)
	assert.Equal(t, int64(3), resp.Data.Versions[0].ID)
	assert.Equal(t, int64(2), resp.Data.Versions[1].ID)
	assert.Equal(t, "user-7", resp.Data.Versions[1].ActorID)
	assert.Equal(t, "typo", resp.Data.Versions[1].Reason)
	assert.Equal(t, epoch.Add(2*time.Second), resp.Data.Versions[1].CreatedAt)
}

func TestHistoryEmpty(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "history", "post", "404")
	require.NoError(t, err)
	assert.Contains(t, out, "No versions found for post#404")
}

func TestHistoryUsesTypeTable(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "history", "user", "1")
	require.NoError(t, err)

	var resp struct {
		Data HistoryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Versions, 1)
	assert.Equal(t, "user", resp.Data.Versions[0].OwnerType)
}

func TestDatabaseFlagOverridesConfig(t *testing.T) {
	db, _ := seedDB(t)
	cfg := filepath.Join(t.TempDir(), "versionable.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("store:\n  dsn: /nonexistent/dir/versions.db\n"), 0o644))

	out, err := execute(t, "--config", cfg, "--db", db, "history", "post", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "typo")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "history", "post", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestShowText(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "show", "post", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "snapshot 2 of post#1")
	assert.Contains(t, out, "actor:   user-7")
	assert.Contains(t, out, `title: "Hello, world"`)
}

func TestShowYAML(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "--format", "yaml", "show", "post", "3")
	require.NoError(t, err)

	var resp struct {
		Status string `yaml:"status"`
		Data   struct {
			Version struct {
				ID int64 `yaml:"id"`
			} `yaml:"version"`
			Fields map[string]any `yaml:"fields"`
		} `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(3), resp.Data.Version.ID)
	assert.Equal(t, "x", resp.Data.Fields["body"])
}

func TestShowWrongOwnerType(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "show", "comment", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E_NOT_FOUND")
}

func TestShowMissingSnapshot(t *testing.T) {
	_, cfg := seedDB(t)

	_, err := execute(t, "--config", cfg, "show", "post", "99")
	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestShowInvalidID(t *testing.T) {
	_, err := execute(t, "show", "post", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid snapshot id "abc"`)
}

func TestDiffAgainstCurrent(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "diff", "post", "1")
	require.NoError(t, err)

	var resp struct {
		Data DiffResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(1), resp.Data.Base.ID)
	assert.Equal(t, int64(3), resp.Data.Target.ID)
	assert.Equal(t, map[string]any{"title": "Hello, world", "body": "x"}, resp.Data.Changes)
	assert.Empty(t, resp.Data.Unified)
}

func TestDiffExplicitTarget(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "diff", "post", "2", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "changes from 2 to 3:")
	assert.Contains(t, out, `body: "x"`)
	assert.NotContains(t, out, "title")
	assert.NotContains(t, out, "updated_at")
}

func TestDiffIdentical(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "diff", "post", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "snapshots 3 and 3 are identical")
}

func TestDiffUnified(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "diff", "post", "1", "2", "--unified")
	require.NoError(t, err)
	assert.Contains(t, out, "--- post#1@1")
	assert.Contains(t, out, "+++ post#1@2")
	assert.Contains(t, out, `-title: "Hello"`)
	assert.Contains(t, out, `+title: "Hello, world"`)
}

func TestDiffMissingTarget(t *testing.T) {
	_, cfg := seedDB(t)

	_, err := execute(t, "--config", cfg, "diff", "post", "1", "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestPurge(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "purge", "post", "1", "--keep", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 2 version(s) of post#1")

	out, err = execute(t, "--config", cfg, "--format", "json", "history", "post", "1")
	require.NoError(t, err)
	var resp struct {
		Data HistoryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Versions, 1)
	assert.Equal(t, int64(3), resp.Data.Versions[0].ID)
}

func TestPurgeNothingToDelete(t *testing.T) {
	_, cfg := seedDB(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "purge", "post", "1", "--keep", "5")
	require.NoError(t, err)

	var resp struct {
		Data PurgeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, PurgeResult{Owner: "post#1", Kept: 5, Deleted: 0}, resp.Data)
}

func TestPurgeRequiresKeep(t *testing.T) {
	_, err := execute(t, "purge", "post", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keep")

	_, err = execute(t, "purge", "post", "1", "--keep", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
