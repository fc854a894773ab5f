// ABOUTME: Atomic file writes on top of natefinch/atomic with explicit permissions
// ABOUTME: Used for config, OPML and metadata sidecars so a crash never leaves a half-written file

package fsutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// DirPerms is used for directories created on demand.
const DirPerms = 0755

// WriteFile writes data to path atomically and leaves it with perm.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), DirPerms); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return nil
}
