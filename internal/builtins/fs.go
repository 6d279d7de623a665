// Package builtins provides the stock capabilities wired into the default
// agent: workspace-confined file access and directory listing.
package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
)

// FileSystem abstracts the os calls so tests can substitute a fake.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
}

// OSFileSystem is the default FileSystem backed by the os package.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (OSFileSystem) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }

// resolve joins path under root and rejects escapes.
func resolve(root, path string) (string, error) {
	full := filepath.Clean(filepath.Join(root, path))
	if full != filepath.Clean(root) && !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace", path)
	}
	return full, nil
}

const readFileSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "File path relative to the workspace root."}
	},
	"required": ["path"],
	"additionalProperties": false
}`

// ReadFile returns a capability that reads files under root.
func ReadFile(fs FileSystem, root string) capability.Capability {
	return capability.Capability{
		Name:        "read_file",
		Description: "Read a file from the workspace and return its content.",
		SchemaJSON:  readFileSchema,
		Returns:     capability.ReturnJSON,
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			full, err := resolve(root, path)
			if err != nil {
				return "", err
			}
			data, err := fs.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", path, err)
			}
			out, err := json.Marshal(map[string]any{
				"path":       path,
				"content":    string(data),
				"line_count": strings.Count(string(data), "\n") + 1,
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

const writeFileSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "File path relative to the workspace root."},
		"content": {"type": "string", "description": "Full new content of the file."}
	},
	"required": ["path", "content"],
	"additionalProperties": false
}`

// WriteFile returns a capability that writes files under root, creating
// parent directories as needed.
func WriteFile(fs FileSystem, root string) capability.Capability {
	return capability.Capability{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, replacing it if it exists.",
		SchemaJSON:  writeFileSchema,
		Returns:     capability.ReturnJSON,
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			full, err := resolve(root, path)
			if err != nil {
				return "", err
			}
			if err := fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("create directories for %s: %w", path, err)
			}
			if err := fs.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("write %s: %w", path, err)
			}
			out, _ := json.Marshal(map[string]any{"path": path, "bytes_written": len(content)})
			return string(out), nil
		},
	}
}

const listDirSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Directory path relative to the workspace root; defaults to the root."}
	},
	"additionalProperties": false
}`

// ListDir returns a capability that lists a directory under root.
func ListDir(fs FileSystem, root string) capability.Capability {
	return capability.Capability{
		Name:        "list_dir",
		Description: "List the files and directories at a workspace path.",
		SchemaJSON:  listDirSchema,
		Returns:     capability.ReturnJSON,
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			full, err := resolve(root, path)
			if err != nil {
				return "", err
			}
			entries, err := fs.ReadDir(full)
			if err != nil {
				return "", fmt.Errorf("list %s: %w", path, err)
			}
			type item struct {
				Name string `json:"name"`
				Dir  bool   `json:"dir"`
			}
			items := make([]item, 0, len(entries))
			for _, e := range entries {
				items = append(items, item{Name: e.Name(), Dir: e.IsDir()})
			}
			out, err := json.Marshal(map[string]any{"path": path, "entries": items})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

// All returns the stock capability set rooted at root.
func All(root string) []capability.Capability {
	fs := OSFileSystem{}
	return []capability.Capability{
		ReadFile(fs, root),
		WriteFile(fs, root),
		ListDir(fs, root),
	}
}
