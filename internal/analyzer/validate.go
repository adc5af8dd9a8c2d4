package analyzer

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

// validatePath checks that path is a regular, allow-listed file under root
// and returns its cleaned absolute form.
func (a *Analyzer) validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidDescriptor)
	}
	for _, seg := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if seg == ".." {
			return "", fmt.Errorf("%w: path traversal in %q", ErrInvalidDescriptor, path)
		}
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(a.opts.Root, abs)
	}
	abs = filepath.Clean(abs)

	if !within(a.opts.Root, abs) {
		return "", fmt.Errorf("%w: %q is outside %s", ErrInvalidDescriptor, path, a.opts.Root)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if !within(a.realRoot, resolved) {
		return "", fmt.Errorf("%w: %q resolves outside %s", ErrInvalidDescriptor, path, a.opts.Root)
	}

	ext := strings.ToLower(filepath.Ext(abs))
	if !slices.Contains(a.opts.AllowedExtensions, ext) {
		return "", fmt.Errorf("%w: extension %q not allowed", ErrInvalidDescriptor, ext)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q is not a regular file", ErrInvalidDescriptor, path)
	}
	if a.opts.MaxBytes > 0 && info.Size() > a.opts.MaxBytes {
		return "", fmt.Errorf("%w: %q is %d bytes, limit %d", ErrInvalidDescriptor, path, info.Size(), a.opts.MaxBytes)
	}
	return abs, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (a *Analyzer) readDescriptor(abs string) (string, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidDescriptor, abs)
	}
	return string(data), nil
}
