package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points every store at a temp dir and leaves entities in memory.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "jobs.db"))
	t.Setenv("STORAGE_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	cmd.ErrWriter = &out
	argv := append([]string{"impexctl", "--env", filepath.Join(t.TempDir(), "missing.env"), "--actor", "tester"}, args...)
	err := cmd.Run(context.Background(), argv)
	return out.String(), err
}

var jobIDPattern = regexp.MustCompile(`job:\s+(\S+)`)

func jobID(t *testing.T, out string) string {
	t.Helper()
	m := jobIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestImportConfirmAndStatus(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "bands.csv")
	writeFile(t, file, "Title\nQueen\nYes\n")

	out, err := run(t, "import", "--resource", "bands", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      PARSED")
	assert.Contains(t, out, "new")
	id := jobID(t, out)

	// Entities are in memory, so the confirming run parses against an
	// empty store again.
	out, err = run(t, "confirm", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      IMPORTED")

	out, err = run(t, "status", id)
	require.NoError(t, err)
	var view struct {
		Kind     string         `json:"kind"`
		Job      core.ImportJob `json:"job"`
		Progress core.Progress  `json:"progress"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	assert.Equal(t, "import", view.Kind)
	assert.Equal(t, "tester", view.Job.CreatedBy)
	assert.Equal(t, "IMPORTED", view.Progress.Status)

	out, err = run(t, "jobs", "--kind", "import")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "1 of 1 import jobs")

	_, err = run(t, "cancel", id)
	assert.ErrorIs(t, err, core.ErrWrongStatus)
}

func TestImportWithConfirmFlag(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "instruments.csv")
	writeFile(t, file, "Title\nGuitar\n")

	out, err := run(t, "import", "-r", "instruments", "--confirm", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      IMPORTED")
}

func TestImportRejects(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "albums.csv")
	writeFile(t, file, "Title\nA Night at the Opera\n")

	_, err := run(t, "import", "--resource", "albums", file)
	assert.ErrorIs(t, err, core.ErrUnknownResource)

	_, err = run(t, "import", "--resource", "bands")
	assert.ErrorContains(t, err, "file is required")
}

func TestImportDir(t *testing.T) {
	dir := setupEnv(t)
	root := filepath.Join(dir, "in")
	writeFile(t, filepath.Join(root, "instruments", "a.csv"), "Title\nGuitar\n")
	writeFile(t, filepath.Join(root, "bands", "b.csv"), "Title\nQueen\n")

	out, err := run(t, "import-dir", "--resources", "instruments", "--resources", "bands", "--confirm", "--remove", root)
	require.NoError(t, err)
	assert.Contains(t, out, "IMPORTED")

	_, err = os.Stat(filepath.Join(root, "bands", "b.csv"))
	assert.True(t, os.IsNotExist(err), "imported file is removed")
}

func TestExport(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "export", "--resource", "instruments", "--output", "-")
	require.NoError(t, err)
	assert.Equal(t, "ID,Title\n", out)

	target := filepath.Join(dir, "instruments.csv")
	out, err = run(t, "export", "--resource", "instruments", "--order=-title", "--output", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      EXPORTED")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "ID,Title\n", string(data))

	out, err = run(t, "jobs", "--kind", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 export jobs")

	_, err = run(t, "export", "--resource", "instruments", "--filter", "nonsense")
	assert.ErrorContains(t, err, "invalid filter")

	_, err = run(t, "export", "--resource", "instruments", "--format", "pdf")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestUnknownJob(t *testing.T) {
	setupEnv(t)

	for _, name := range []string{"status", "cancel", "confirm"} {
		_, err := run(t, name, "nope")
		assert.ErrorIs(t, err, core.ErrNotFound, name)
	}
}

func TestListings(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "formats")
	require.NoError(t, err)
	assert.Contains(t, out, "text/csv")
	assert.Contains(t, out, "xlsx")

	out, err = run(t, "resources")
	require.NoError(t, err)
	assert.Contains(t, out, "memberships")
	assert.Contains(t, out, "artists")

	_, err = run(t, "jobs", "--kind", "other")
	assert.ErrorContains(t, err, "unknown kind")
}

func TestReset(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "reset")
	assert.ErrorContains(t, err, "--yes")

	out, err := run(t, "reset", "--yes")
	require.NoError(t, err)
	assert.Regexp(t, `(?s)memberships.*bands.*instruments`, out)
}
