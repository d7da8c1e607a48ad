package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ExecutionDir is the host directory of one execution attempt
type ExecutionDir struct {
	ID   string
	Path string
	fs   FileSystem
}

// NewExecutionID returns a fresh id without dashes
func NewExecutionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewExecutionDir creates <root>/<id> for the attempt id
func NewExecutionDir(fs FileSystem, root, id string) (*ExecutionDir, error) {
	if id == "" {
		id = NewExecutionID()
	}
	path := filepath.Join(root, id)
	if err := fs.MkdirAll(path, DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create execution directory: %w", err)
	}
	return &ExecutionDir{ID: id, Path: path, fs: fs}, nil
}

// Remove deletes the directory and everything in it
func (d *ExecutionDir) Remove() error {
	return d.fs.RemoveAll(d.Path)
}
