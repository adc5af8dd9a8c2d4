// Package logging sets up console logging and per-run log directories.
package logging

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventsFile is the JSONL event log written inside each run directory.
const EventsFile = "events.jsonl"

// ReportFile is the run report copy kept inside each run directory.
const ReportFile = "report.json"

// RunLogger owns one run's log directory and its JSONL event stream.
// Write is safe for concurrent use.
type RunLogger struct {
	Dir        string
	RunID      string
	EventsPath string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewRunLogger creates <baseDir>/runs/<project>/<stamp>-<runID>/ and opens its
// event log. An empty runID is replaced by a timestamp-pid identifier.
func NewRunLogger(baseDir, workDir, runID string) (*RunLogger, error) {
	projectDir, err := FindLogDir(baseDir, workDir)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = fmt.Sprintf("%d", os.Getpid())
	}

	dir := filepath.Join(projectDir, runDirName(time.Now(), runID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}

	eventsPath := filepath.Join(dir, EventsFile)
	file, err := os.Create(eventsPath)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}

	return &RunLogger{
		Dir:        dir,
		RunID:      runID,
		EventsPath: eventsPath,
		file:       file,
		enc:        json.NewEncoder(file),
	}, nil
}

// Write appends v to the event log as one JSON line.
func (r *RunLogger) Write(v any) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return fmt.Errorf("event log closed")
	}
	if err := r.enc.Encode(v); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Path returns name joined to the run directory.
func (r *RunLogger) Path(name string) string {
	return filepath.Join(r.Dir, sanitizeFileName(name))
}

// Close closes the event log.
func (r *RunLogger) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// FindLogDir returns the per-project directory holding run directories for
// workDir. The project is keyed by its git top level when available.
func FindLogDir(baseDir, workDir string) (string, error) {
	if baseDir == "" {
		return "", fmt.Errorf("log base dir is empty")
	}

	if workDir == "" {
		workDir = "."
	}
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	if !filepath.IsAbs(baseDir) {
		baseDir = filepath.Join(workDir, baseDir)
	}

	root := resolveProjectRoot(workDir)
	return filepath.Join(filepath.Clean(baseDir), "runs", projectSlug(root)), nil
}

// Run describes one run directory on disk.
type Run struct {
	ID      string
	Dir     string
	ModTime time.Time
}

// FindRuns lists run directories under logDir, newest first.
func FindRuns(logDir string) ([]Run, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		id := entry.Name()
		if i := strings.Index(id, "_"); i >= 0 {
			id = id[i+1:]
		}
		runs = append(runs, Run{
			ID:      id,
			Dir:     filepath.Join(logDir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].ModTime.Equal(runs[j].ModTime) {
			return runs[i].Dir > runs[j].Dir
		}
		return runs[i].ModTime.After(runs[j].ModTime)
	})
	return runs, nil
}

func runDirName(t time.Time, runID string) string {
	return t.UTC().Format("20060102-150405") + "_" + sanitizeFileName(runID)
}

func resolveProjectRoot(workDir string) string {
	if _, err := exec.LookPath("git"); err == nil {
		cmd := exec.Command("git", "-C", workDir, "rev-parse", "--show-toplevel")
		if output, err := cmd.Output(); err == nil {
			if root := strings.TrimSpace(string(output)); root != "" {
				return root
			}
		}
	}
	return workDir
}

func projectSlug(projectRoot string) string {
	sum := sha1.Sum([]byte(projectRoot))
	return fmt.Sprintf("%s-%s", slugify(filepath.Base(projectRoot)), hex.EncodeToString(sum[:])[:8])
}

// slugify collapses runs of characters outside [A-Za-z0-9._-] to a single
// underscore.
func slugify(input string) string {
	var b strings.Builder
	lastUnderscore := false
	for i := 0; i < len(input); i++ {
		c := input[i]
		if isSlugChar(c) || c == '.' {
			b.WriteByte(c)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	if slug := strings.Trim(b.String(), "_"); slug != "" {
		return slug
	}
	return "project"
}

func sanitizeFileName(input string) string {
	var b strings.Builder
	for i := 0; i < len(input); i++ {
		c := input[i]
		if isSlugChar(c) || c == '.' {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	if name := strings.Trim(b.String(), "_."); name != "" {
		return name
	}
	return "run"
}

func isSlugChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '-'
}
