package cursor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileLayout is the single-line timestamp format of the fallback file.
const FileLayout = "2006-01-02 15:04:05"

// Fallback is the locally persisted cursor used when the history store has
// nothing for a key.
type Fallback struct {
	path string
}

// NewFallback returns a Fallback stored at path.
func NewFallback(path string) *Fallback {
	return &Fallback{path: path}
}

// Path returns the file location.
func (f *Fallback) Path() string { return f.path }

// Read returns the stored instant. A missing file yields ok=false and no
// error; an unreadable or malformed file yields an error.
func (f *Fallback) Read() (t time.Time, ok bool, err error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cursor: read fallback: %w", err)
	}
	line := strings.TrimSpace(string(data))
	if line == "" {
		return time.Time{}, false, nil
	}
	t, err = time.ParseInLocation(FileLayout, line, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cursor: parse fallback %q: %w", line, err)
	}
	return t, true, nil
}

// Write stores t atomically (write .tmp then rename).
func (f *Fallback) Write(t time.Time) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cursor: mkdir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.UTC().Format(FileLayout)+"\n"), 0o644); err != nil {
		return fmt.Errorf("cursor: write tmp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cursor: rename: %w", err)
	}
	return nil
}
