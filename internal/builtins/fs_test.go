package builtins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRejectsEscapes(t *testing.T) {
	root := t.TempDir()

	for _, path := range []string{
		"../outside.txt",
		"sub/../../outside.txt",
		"../../etc/passwd",
	} {
		_, err := resolve(root, path)
		assert.ErrorContains(t, err, "outside the workspace", "path %q", path)
	}

	for _, path := range []string{"", ".", "a.txt", "sub/a.txt", "sub/../a.txt"} {
		full, err := resolve(root, path)
		require.NoError(t, err, "path %q", path)
		assert.True(t, strings.HasPrefix(full, filepath.Clean(root)), "path %q resolved to %q", path, full)
	}
}

func TestWriteThenReadRoundtrip(t *testing.T) {
	root := t.TempDir()
	fs := OSFileSystem{}
	ctx := context.Background()

	out, err := WriteFile(fs, root).Fn(ctx, map[string]any{
		"path":    "notes/today.md",
		"content": "line one\nline two",
	})
	require.NoError(t, err)

	var written struct {
		Path         string `json:"path"`
		BytesWritten int    `json:"bytes_written"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &written))
	assert.Equal(t, "notes/today.md", written.Path)
	assert.Equal(t, len("line one\nline two"), written.BytesWritten)

	out, err = ReadFile(fs, root).Fn(ctx, map[string]any{"path": "notes/today.md"})
	require.NoError(t, err)

	var read struct {
		Content   string `json:"content"`
		LineCount int    `json:"line_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &read))
	assert.Equal(t, "line one\nline two", read.Content)
	assert.Equal(t, 2, read.LineCount)
}

func TestReadMissingFile(t *testing.T) {
	_, err := ReadFile(OSFileSystem{}, t.TempDir()).Fn(context.Background(), map[string]any{"path": "nope.txt"})
	assert.Error(t, err)
}

func TestWriteOutsideWorkspaceFails(t *testing.T) {
	root := t.TempDir()
	_, err := WriteFile(OSFileSystem{}, root).Fn(context.Background(), map[string]any{
		"path":    "../escape.txt",
		"content": "x",
	})
	assert.ErrorContains(t, err, "outside the workspace")
	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestListDirDefaultsToRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	out, err := ListDir(OSFileSystem{}, root).Fn(context.Background(), map[string]any{})
	require.NoError(t, err)

	var listed struct {
		Entries []struct {
			Name string `json:"name"`
			Dir  bool   `json:"dir"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Entries, 2)

	byName := map[string]bool{}
	for _, e := range listed.Entries {
		byName[e.Name] = e.Dir
	}
	assert.False(t, byName["a.txt"])
	assert.True(t, byName["sub"])
}

func TestAllRegistersThreeCapabilities(t *testing.T) {
	caps := All(t.TempDir())
	require.Len(t, caps, 3)
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"read_file", "write_file", "list_dir"}, names)
}
