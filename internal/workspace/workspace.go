// Package workspace maps task IDs to isolated working directories.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnavailable means no working directory exists for a task.
var ErrUnavailable = errors.New("worktree not available")

// Resolver returns the working directory a task runs in.
type Resolver interface {
	Resolve(ctx context.Context, taskID string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, taskID string) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, taskID string) (string, error) {
	return f(ctx, taskID)
}

// DirResolver gives every task its own directory under Root.
type DirResolver struct {
	Root string
	// Create makes missing directories instead of reporting ErrUnavailable.
	Create bool
}

// Resolve implements Resolver.
func (r DirResolver) Resolve(ctx context.Context, taskID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := DirName(taskID)
	if name == "" {
		return "", fmt.Errorf("%w: invalid task id %q", ErrUnavailable, taskID)
	}
	dir := filepath.Join(r.Root, name)

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return dir, nil
	case err == nil:
		return "", fmt.Errorf("%w: %s is not a directory", ErrUnavailable, dir)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	case !r.Create:
		return "", fmt.Errorf("%w: %s does not exist", ErrUnavailable, dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
	}
	return dir, nil
}

// DirName converts a task ID into a single safe path element. IDs that need
// rewriting get a short hash of the original appended, so "a b" and "a_b"
// never share a directory.
func DirName(taskID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(taskID) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" || name == taskID {
		return name
	}
	sum := sha256.Sum256([]byte(taskID))
	return name + "-" + hex.EncodeToString(sum[:4])
}
