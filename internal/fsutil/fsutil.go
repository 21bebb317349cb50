package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when the input directory is missing or unreadable.
var ErrNotFound = errors.New("input directory not found")

// OutputSuffix is appended to the stem of every enhanced file.
const OutputSuffix = "_upscaled"

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tiff": {},
	".webp": {},
}

// ListImages returns the regular image files directly inside dir, sorted.
func ListImages(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, dir, err)
	}

	var files []string
	for _, e := range entries {
		if !IsImageFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		// Stat follows symlinks so links to regular files are kept.
		st, err := os.Stat(path)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// IsImageFile checks the lowercased extension against the supported set.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := imageExts[ext]
	return ok
}

// IsEnhancedOutput reports whether path already carries the output suffix.
func IsEnhancedOutput(path string) bool {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.HasSuffix(stem, OutputSuffix)
}

// OutputPath builds <outDir>/<stem>_upscaled<ext> for src, keeping the
// original extension so the container format is preserved.
func OutputPath(outDir, src string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(outDir, stem+OutputSuffix+ext)
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if stat, err := os.Stat(dir); err == nil && !stat.IsDir() {
		return fmt.Errorf("cannot create output directory %s: file exists with same name", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
