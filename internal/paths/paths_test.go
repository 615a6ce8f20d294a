package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)

	dir, err := r.UploadDir(7)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "upload", "7"), dir)
	assert.DirExists(t, dir)

	idx, err := r.IndexRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "index"), idx)
	assert.DirExists(t, idx)
	assert.Equal(t, filepath.Join(idx, "7"), r.IndexPath(7))
	assert.NoDirExists(t, r.IndexPath(7))
}

func TestSQLiteFile(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)

	p, err := r.SQLiteFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sqlite", "system.sqlite"), p)
	assert.DirExists(t, filepath.Dir(p))
	assert.NoFileExists(t, p)
}

func TestUploadFileStripsDirectories(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)

	p, err := r.UploadFile(3, 12, "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "upload", "3", "12-passwd"), p)
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":      "report.pdf",
		"a/b/c.txt":       "c.txt",
		"":                "file",
		"..":              "file",
		"/":               "file",
		"dir/../notes.md": "notes.md",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeName(in), in)
	}
}
