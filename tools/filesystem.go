package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}
func (t *ReadFileTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{"path": stringProperty("File to read.")}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}
	if err := checkHidden(path, t.fsAccess); err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}
func (t *WriteFileTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"path":    stringProperty("File to write."),
		"content": stringProperty("New content of the file."),
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}
	if err := checkHidden(path, t.fsAccess); err != nil {
		return "", err
	}

	readOnly, err := isPathRestricted(path, t.fsAccess.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", path)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ListDirTool lists a directory, leaving out hidden entries.
type ListDirTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ListDirTool) Name() string { return "read_dir" }
func (t *ListDirTool) Description() string {
	return "Lists the entries of a directory. Directories end with '/'. Args: path (string)."
}
func (t *ListDirTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{"path": stringProperty("Directory to list.")}, "path")
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}
	if err := checkHidden(path, t.fsAccess); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read directory '%s'", path)
	}
	var names []string
	for _, e := range entries {
		full := e.Name()
		if path != "." {
			full = strings.TrimSuffix(path, "/") + "/" + e.Name()
		}
		if hidden, _ := isPathRestricted(full, t.fsAccess.Hidden); hidden {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return strings.Join(names, "\n"), nil
}

func checkHidden(path string, fsAccess *config.FilesystemAccess) error {
	hidden, err := isPathRestricted(path, fsAccess.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	return nil
}
