// Package files manages the local G-code library: the directory jobs are
// picked from and the directory printed files are archived to.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/john/beeprint/gcode"
)

// ErrNotFound is returned when a name does not resolve to a G-code file.
var ErrNotFound = errors.New("file not found")

var gcodeExts = []string{".gcode", ".gco", ".g"}

// IsGCode reports whether name has a G-code extension.
func IsGCode(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range gcodeExts {
		if ext == e {
			return true
		}
	}
	return false
}

// FileInfo describes one library file.
type FileInfo struct {
	Path     string          `json:"path"`
	Size     int64           `json:"size"`
	Modified time.Time       `json:"modified"`
	Meta     *gcode.Metadata `json:"meta,omitempty"`
}

// Manager handles local gcode file storage.
type Manager struct {
	gcodeDir string
	doneDir  string
}

// NewManager creates a file manager. doneDir may be empty to disable
// archiving.
func NewManager(gcodeDir, doneDir string) (*Manager, error) {
	if err := os.MkdirAll(gcodeDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating gcode dir %s: %w", gcodeDir, err)
	}
	if doneDir != "" {
		if err := os.MkdirAll(doneDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive dir %s: %w", doneDir, err)
		}
	}
	return &Manager{gcodeDir: gcodeDir, doneDir: doneDir}, nil
}

// Dir returns the library directory.
func (m *Manager) Dir() string { return m.gcodeDir }

// Resolve turns a name into a path. Existing paths are used as given;
// anything else is looked up inside the library, which it may not leave.
func (m *Manager) Resolve(name string) (string, error) {
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return name, nil
	}

	path := filepath.Join(m.gcodeDir, filepath.FromSlash(name))
	absRoot, _ := filepath.Abs(m.gcodeDir)
	absPath, _ := filepath.Abs(path)
	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: %s", name)
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// List returns the G-code files in the library, sorted by path. With
// scan set each file's metadata is read too; unreadable files are listed
// without it.
func (m *Manager) List(scan bool) ([]FileInfo, error) {
	var result []FileInfo

	err := filepath.WalkDir(m.gcodeDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != m.gcodeDir && path == m.doneDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsGCode(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		rel, _ := filepath.Rel(m.gcodeDir, path)
		fi := FileInfo{
			Path:     filepath.ToSlash(rel),
			Size:     info.Size(),
			Modified: info.ModTime(),
		}
		if scan {
			if meta, err := gcode.Scan(path); err == nil {
				fi.Meta = &meta
			}
		}
		result = append(result, fi)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", m.gcodeDir, err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	if result == nil {
		result = []FileInfo{}
	}
	return result, nil
}

// Archive moves a printed file into the archive directory and returns its
// new path. A name clash gets a timestamp suffix. Without an archive
// directory the file stays where it is.
func (m *Manager) Archive(path string) (string, error) {
	if m.doneDir == "" {
		return path, nil
	}

	base := filepath.Base(path)
	dest := filepath.Join(m.doneDir, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dest = filepath.Join(m.doneDir, fmt.Sprintf("%s-%s%s", stem, time.Now().Format("20060102-150405"), ext))
	}

	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("archiving %s: %w", path, err)
	}
	return dest, nil
}

// Usage returns disk usage for the library's filesystem.
func (m *Manager) Usage() DiskUsage {
	return diskUsage(m.gcodeDir)
}

// DiskUsage is in bytes. All zero where the platform cannot tell.
type DiskUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}
