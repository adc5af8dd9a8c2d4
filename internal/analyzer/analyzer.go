// Package analyzer turns task descriptors into task records, derives the
// dependency graph and file-conflict matrix between them, and partitions the
// records into ordered execution groups.
//
// Analysis is deterministic: the same descriptors always produce the same
// records, graph, matrix, and groups.
package analyzer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nibzard/parallax/internal/logging"
	"github.com/nibzard/parallax/internal/task"
)

var (
	// ErrTooManyDescriptors rejects a batch larger than Options.MaxDescriptors.
	ErrTooManyDescriptors = errors.New("too many task descriptors")
	// ErrInvalidDescriptor marks a single descriptor that failed validation.
	ErrInvalidDescriptor = errors.New("invalid task descriptor")
)

// Options configure an Analyzer.
type Options struct {
	// Root is the directory every descriptor must live under.
	Root string
	// SourceRoot is where target files are looked up for import analysis.
	// Defaults to the current working directory.
	SourceRoot        string
	MaxDescriptors    int
	MaxBytes          int64
	AllowedExtensions []string
	// ImportNamespace limits import analysis to modules under this prefix.
	ImportNamespace string
	MaxGroupSize    int

	Classifier TypeClassifier
	Scorer     ComplexityScorer
	Detector   ImplementedDetector
	Logger     *log.Logger
}

// Analyzer converts descriptors into task records.
type Analyzer struct {
	opts Options
	// realRoot is Root with symlinks resolved.
	realRoot string
}

// New creates an analyzer, filling unset options with defaults.
func New(opts Options) (*Analyzer, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("analyzer root is empty")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve analyzer root: %w", err)
	}
	opts.Root = root
	if opts.SourceRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.SourceRoot = wd
		}
	}
	if opts.MaxDescriptors <= 0 {
		opts.MaxDescriptors = 50
	}
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = []string{".md", ".markdown", ".txt"}
	}
	if opts.MaxGroupSize <= 0 {
		opts.MaxGroupSize = 4
	}
	if opts.Classifier == nil {
		opts.Classifier = NewKeywordClassifier()
	}
	if opts.Scorer == nil {
		opts.Scorer = NewWeightedScorer()
	}
	if opts.Detector == nil {
		opts.Detector = MarkerDetector{Marker: "<!-- implemented -->"}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	return &Analyzer{opts: opts, realRoot: realRoot}, nil
}

// Discover lists every allow-listed descriptor under the root in lexical
// order.
func (a *Analyzer) Discover() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(a.opts.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != a.opts.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(a.opts.AllowedExtensions, strings.ToLower(filepath.Ext(p))) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover descriptors in %s: %w", a.opts.Root, err)
	}
	return paths, nil
}

// Analyze parses every descriptor, then links the resulting records with
// dependencies, conflicts, and parallelizability. Descriptors that fail
// validation are logged and skipped. Records keep the order of paths.
func (a *Analyzer) Analyze(paths []string) ([]task.Record, error) {
	if len(paths) > a.opts.MaxDescriptors {
		return nil, fmt.Errorf("%w: got %d, limit %d", ErrTooManyDescriptors, len(paths), a.opts.MaxDescriptors)
	}

	records := make([]task.Record, 0, len(paths))
	ids := make(map[string]int)
	for _, p := range paths {
		rec, ok, err := a.analyzeOne(p)
		if err != nil {
			a.opts.Logger.Warn("skipping descriptor", "path", p, "err", err)
			continue
		}
		if !ok {
			a.opts.Logger.Debug("skipping implemented descriptor", "path", p)
			continue
		}
		rec.ID = uniqueID(rec.ID, ids)
		records = append(records, rec)
	}

	Link(records)
	return records, nil
}

// analyzeOne returns ok=false for descriptors marked as implemented.
func (a *Analyzer) analyzeOne(p string) (task.Record, bool, error) {
	abs, err := a.validatePath(p)
	if err != nil {
		return task.Record{}, false, err
	}
	content, err := a.readDescriptor(abs)
	if err != nil {
		return task.Record{}, false, err
	}

	firstLine, _, _ := strings.Cut(content, "\n")
	if a.opts.Detector.Implemented(firstLine) {
		return task.Record{}, false, nil
	}

	fm, bodyBytes, err := splitFrontmatter([]byte(content))
	if err != nil {
		return task.Record{}, false, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	body := string(bodyBytes)
	timeout, err := fm.TimeoutMinutes()
	if err != nil {
		return task.Record{}, false, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	rel, _ := filepath.Rel(a.opts.Root, abs)
	rec := task.Record{
		ID:             firstNonEmpty(fm.ID, idFromPath(abs)),
		Name:           firstNonEmpty(fm.Name, extractName(body)),
		Source:         filepath.ToSlash(rel),
		TimeoutMinutes: timeout,
	}
	if rec.Name == "" {
		rec.Name = rec.ID
	}

	targets, tests := extractFiles(body)
	mentions := len(targets) + len(tests)
	targets = append(targets, fm.TargetFiles...)
	tests = append(tests, fm.TestFiles...)
	if len(tests) == 0 {
		for _, t := range targets {
			if inferred := inferTestFile(t); inferred != "" {
				tests = append(tests, inferred)
			}
		}
	}
	rec.TargetFiles = task.SortedUnique(targets)
	rec.TestFiles = task.SortedUnique(tests)

	rec.Type = a.opts.Classifier.Classify(rec.Name + "\n" + body)
	rec.Complexity = a.opts.Scorer.Score(body, mentions)

	hints := append([]string{}, fm.DependsOn...)
	hints = append(hints, extractDependencyPhrases(body)...)
	hints = append(hints, importHints(a.opts.SourceRoot, a.opts.ImportNamespace, rec.TargetFiles)...)
	rec.DependencyHints = task.SortedUnique(hints)

	rec.EstimatedDuration = estimateDuration(rec.Complexity, rec.FileCount())
	rec.Resources = estimateResources(rec.Complexity, rec.FileCount())
	rec.Dependencies = []string{}
	rec.Conflicts = []string{}
	return rec, true, nil
}

// idFromPath derives a task ID from the descriptor's file name.
func idFromPath(p string) string {
	stem := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(stem) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	if id := strings.Trim(b.String(), "-"); id != "" {
		return id
	}
	return "task"
}

func uniqueID(id string, seen map[string]int) string {
	seen[id]++
	if seen[id] == 1 {
		return id
	}
	for {
		candidate := fmt.Sprintf("%s-%d", id, seen[id])
		if _, taken := seen[candidate]; !taken {
			seen[candidate] = 1
			return candidate
		}
		seen[id]++
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
