package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveUnderWorkDir_RelativeJoinsWorkDir(t *testing.T) {
	resolved, err := resolveUnderWorkDir("/work", "sub/file.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Clean("/work/sub/file.txt"), resolved)
}

func TestResolveUnderWorkDir_AbsolutePassesThrough(t *testing.T) {
	resolved, err := resolveUnderWorkDir("/work", "/elsewhere/file.txt")
	require.NoError(t, err)
	require.Equal(t, "/elsewhere/file.txt", resolved)
}

func TestResolveUnderWorkDir_RejectsEmptyPath(t *testing.T) {
	_, err := resolveUnderWorkDir("/work", "")
	require.Error(t, err)
}

func TestWriteFileUnder_WritesAtomicallyAndCreatesParents(t *testing.T) {
	dir := t.TempDir()
	err := writeFileUnder(dir, "nested/out.json", []byte(`{"a":1}`))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "nested", "out.json"))
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file after a successful write")
}

func TestWriteFileUnder_OverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFileUnder(dir, "out.txt", []byte("first")))
	require.NoError(t, writeFileUnder(dir, "out.txt", []byte("second")))

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}
