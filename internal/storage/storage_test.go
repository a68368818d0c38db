package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_SaveOpenRemove(t *testing.T) {
	f := NewMemory()
	ctx := context.Background()

	require.NoError(t, f.Save(ctx, "import/abc/artists.csv", strings.NewReader("Name\nFreddie\n")))
	assert.True(t, f.Exists("import/abc/artists.csv"))

	rc, err := f.Open(ctx, "import/abc/artists.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "Name\nFreddie\n", string(data))

	require.NoError(t, f.Save(ctx, "import/abc/artists.csv", strings.NewReader("replaced")))
	rc, err = f.Open(ctx, "import/abc/artists.csv")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, f.Remove(ctx, "import/abc/artists.csv"))
	require.NoError(t, f.Remove(ctx, "import/abc/artists.csv"))
	assert.False(t, f.Exists("import/abc/artists.csv"))

	_, err = f.Open(ctx, "import/abc/artists.csv")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFiles_RejectsEscapingNames(t *testing.T) {
	f := NewMemory()
	ctx := context.Background()

	for _, name := range []string{"", "/", "../secret", "import/../../etc/passwd"} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, f.Save(ctx, name, strings.NewReader("x")))
			_, err := f.Open(ctx, name)
			assert.Error(t, err)
		})
	}
}

func TestNewOS(t *testing.T) {
	dir := t.TempDir()
	f, err := NewOS(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.Save(ctx, "export/1/bands-2024-01-02.csv", strings.NewReader("Title\n")))
	assert.FileExists(t, dir+"/export/1/bands-2024-01-02.csv")
}
