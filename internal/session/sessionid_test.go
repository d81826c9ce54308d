package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateIDWritesNewIdentifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "session_id")

	id, resumed, err := LoadOrCreateID(path)
	require.NoError(t, err)
	require.False(t, resumed)
	require.Len(t, id, 36)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, id+"\n", string(data))
}

func TestLoadOrCreateIDReusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_id")
	require.NoError(t, os.WriteFile(path, []byte("  abc-123 \n"), 0o644))
	before, err := os.Stat(path)
	require.NoError(t, err)

	id, resumed, err := LoadOrCreateID(path)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, "abc-123", id)

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime(), "existing id must not be rewritten")
}

func TestLoadOrCreateIDReplacesBlankFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_id")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o644))

	id, resumed, err := LoadOrCreateID(path)
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEmpty(t, id)
}

func TestBuildArgs(t *testing.T) {
	opts := Options{
		Model:           "m1",
		SkipPermissions: true,
		AllowedTools:    []string{"Read", "Bash"},
		ExtraArgs:       []string{"--add-dir", "/srv"},
	}
	require.Equal(t, []string{
		"--model", "m1",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
		"--allowedTools", "Read", "Bash",
		"--add-dir", "/srv",
		"--session-id", "id-1",
	}, BuildArgs(opts, "id-1", false))

	resumed := BuildArgs(Options{Model: "m1"}, "id-2", true)
	require.Equal(t, []string{"--resume", "id-2"}, resumed[len(resumed)-2:])
	require.NotContains(t, resumed, "--dangerously-skip-permissions")
}
