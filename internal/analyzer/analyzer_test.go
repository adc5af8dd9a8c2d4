package analyzer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/nibzard/parallax/internal/logging"
	"github.com/nibzard/parallax/internal/task"
)

// writeDescriptors writes name -> content files under a fresh root and
// returns the root and the paths in the order given.
func writeDescriptors(t *testing.T, files ...[2]string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f[0]))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(f[1]), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return root, paths
}

func newAnalyzer(t *testing.T, opts Options) *Analyzer {
	t.Helper()
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func byID(records []task.Record) map[string]task.Record {
	out := make(map[string]task.Record, len(records))
	for _, r := range records {
		out[r.ID] = r
	}
	return out
}

func TestSharedTargetFilesConflict(t *testing.T) {
	root, paths := writeDescriptors(t,
		[2]string{"parser.md", "# Update parser\n\nModify `src/a.py` so empty input is handled.\n"},
		[2]string{"tidy.md", "# Tidy module\n\nRework the helpers in src/a.py.\n"},
		[2]string{"other.md", "# Other module\n\nRework src/b.py.\n"},
	)
	a := newAnalyzer(t, Options{Root: root})
	records, err := a.Analyze(paths)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	recs := byID(records)

	if got := recs["parser"].Conflicts; !reflect.DeepEqual(got, []string{"tidy"}) {
		t.Errorf("parser conflicts: got %v", got)
	}
	if got := recs["tidy"].Conflicts; !reflect.DeepEqual(got, []string{"parser"}) {
		t.Errorf("tidy conflicts: got %v", got)
	}
	if recs["parser"].Parallelizable || recs["tidy"].Parallelizable {
		t.Error("conflicting tasks must not be parallelizable")
	}
	if !recs["other"].Parallelizable {
		t.Error("independent task should be parallelizable")
	}

	for _, g := range a.Group(records) {
		if !g.Parallelizable {
			continue
		}
		ids := strings.Join(g.TaskIDs(), ",")
		if strings.Contains(ids, "parser") || strings.Contains(ids, "tidy") {
			t.Errorf("conflicting task placed in parallel group %v", g.TaskIDs())
		}
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	tests := []struct {
		name string
		text string
		want task.Type
	}{
		{"test coverage", "Write a unit test with pytest and raise coverage", task.TypeTestCoverage},
		{"bug fix", "The importer crash is a regression", task.TypeBugFix},
		{"refactor", "Refactor and simplify the router", task.TypeRefactor},
		{"docs", "Update the README and the tutorial", task.TypeDocumentation},
		{"config", "Adjust the CI pipeline settings", task.TypeConfiguration},
		{"tie prefers earlier type", "fix the docs", task.TypeBugFix},
		{"no keywords", "lorem ipsum dolor", task.TypeFeature},
		{"word boundary", "prefixing and affixes", task.TypeFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s (scores %v)", tt.text, got, tt.want, c.Scores(tt.text))
			}
		})
	}
}

func TestWeightedScorer(t *testing.T) {
	s := NewWeightedScorer()
	long := strings.Repeat("word ", 2001)
	tests := []struct {
		name   string
		text   string
		files  int
		points int
		want   task.Complexity
	}{
		{"simple", "rename a variable", 0, 0, task.ComplexityLow},
		{"long text", strings.Repeat("word ", 1001), 0, 1, task.ComplexityLow},
		{"complex vocabulary", "a distributed concurrency algorithm", 0, 3, task.ComplexityMedium},
		{"files and integration", "security migration via oauth", 6, 4, task.ComplexityHigh},
		{"everything", long + " distributed algorithm comprehensive tests webhook", 11, 8, task.ComplexityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Points(tt.text, tt.files); got != tt.points {
				t.Errorf("Points = %d, want %d", got, tt.points)
			}
			if got := s.Score(tt.text, tt.files); got != tt.want {
				t.Errorf("Score = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"# Title\nbody", "Title"},
		{"intro line\n## Sub heading\n", "Sub heading"},
		{"\n\n  plain first line\nsecond", "plain first line"},
		{strings.Repeat("x", 60), strings.Repeat("x", 50)},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractName(tt.body); got != tt.want {
			t.Errorf("extractName(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestExtractFiles(t *testing.T) {
	targets, tests := extractFiles("Edit `src/app.py`, src/util.go and tests/test_app.py. See https://x.io/page.html and ./src/app.py")
	if !reflect.DeepEqual(targets, []string{"src/app.py", "src/util.go"}) {
		t.Errorf("targets: got %v", targets)
	}
	if !reflect.DeepEqual(tests, []string{"tests/test_app.py"}) {
		t.Errorf("tests: got %v", tests)
	}

	inferred := map[string]string{
		"src/cache.py":    "tests/test_cache.py",
		"pkg/store/db.go": "pkg/store/db_test.go",
		"web/app.ts":      "tests/test_app.ts",
		"README.md":       "",
	}
	for in, want := range inferred {
		if got := inferTestFile(in); got != want {
			t.Errorf("inferTestFile(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnalyzeValidation(t *testing.T) {
	root, paths := writeDescriptors(t,
		[2]string{"good.md", "# Good\n\nTouch src/good.py.\n"},
		[2]string{"done.md", "<!-- IMPLEMENTED -->\n# Done\n"},
		[2]string{"notes.pdf", "# Not allowed\n"},
		[2]string{"binary.txt", "\xff\xfe\xfd"},
		[2]string{"big.md", "# Big\n" + strings.Repeat("a", 2048)},
	)
	outside := filepath.Join(t.TempDir(), "outside.md")
	if err := os.WriteFile(outside, []byte("# Outside\n"), 0644); err != nil {
		t.Fatal(err)
	}
	paths = append(paths, outside, "../escape.md", filepath.Join(root, "missing.md"))

	var buf bytes.Buffer
	logger := logging.NewConsole(&buf, logging.ConsoleOptions{Level: log.DebugLevel, Formatter: log.LogfmtFormatter})
	a := newAnalyzer(t, Options{Root: root, MaxBytes: 1024, Logger: logger})

	records, err := a.Analyze(paths)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(records) != 1 || records[0].ID != "good" {
		t.Fatalf("expected only the good descriptor, got %+v", records)
	}

	out := buf.String()
	if n := strings.Count(out, "skipping descriptor"); n != 6 {
		t.Errorf("expected 6 warnings, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "path traversal") {
		t.Error("expected a path traversal warning")
	}
	if !strings.Contains(out, "skipping implemented descriptor") {
		t.Error("expected implemented descriptor to be logged at debug")
	}
}

func TestAnalyzeRejectsSymlinkOutsideRoot(t *testing.T) {
	root, paths := writeDescriptors(t, [2]string{"good.md", "# Good\n"})
	secret := filepath.Join(t.TempDir(), "secret.md")
	if err := os.WriteFile(secret, []byte("# Outside root task\n"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.md")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	inner := filepath.Join(root, "alias.md")
	if err := os.Symlink(paths[0], inner); err != nil {
		t.Fatal(err)
	}

	a := newAnalyzer(t, Options{Root: root})
	discovered, err := a.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	records, err := a.Analyze(discovered)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for _, r := range records {
		if r.Name == "Outside root task" {
			t.Errorf("descriptor behind %s was accepted", link)
		}
	}
	if len(records) != 2 {
		t.Errorf("expected good.md and its in-root alias, got %+v", records)
	}
}

func TestAnalyzeTooManyDescriptors(t *testing.T) {
	root, paths := writeDescriptors(t,
		[2]string{"a.md", "# A\n"},
		[2]string{"b.md", "# B\n"},
		[2]string{"c.md", "# C\n"},
	)
	a := newAnalyzer(t, Options{Root: root, MaxDescriptors: 2})
	_, err := a.Analyze(paths)
	if !errors.Is(err, ErrTooManyDescriptors) {
		t.Fatalf("expected ErrTooManyDescriptors, got %v", err)
	}
}

func TestFrontmatter(t *testing.T) {
	root, paths := writeDescriptors(t,
		[2]string{"fm.md", "---\nid: custom\nname: Custom name\ndepends_on: [other]\ntarget_files: [lib/x.go]\ntimeout: 45m\n---\n# Heading\n\nbody\n"},
		[2]string{"other.md", "# Other\n"},
		[2]string{"bad.md", "---\ntimeout: soon\n---\n# Bad\n"},
	)
	a := newAnalyzer(t, Options{Root: root})
	records, err := a.Analyze(paths)
	if err != nil {
		t.Fatal(err)
	}
	recs := byID(records)
	if _, ok := recs["bad"]; ok {
		t.Error("descriptor with an invalid timeout should be skipped")
	}
	r, ok := recs["custom"]
	if !ok {
		t.Fatalf("expected record with frontmatter id, got %v", records)
	}
	if r.Name != "Custom name" {
		t.Errorf("Name: got %q", r.Name)
	}
	if !reflect.DeepEqual(r.TargetFiles, []string{"lib/x.go"}) {
		t.Errorf("TargetFiles: got %v", r.TargetFiles)
	}
	if !reflect.DeepEqual(r.TestFiles, []string{"lib/x_test.go"}) {
		t.Errorf("TestFiles: got %v", r.TestFiles)
	}
	if r.TimeoutMinutes != 45 {
		t.Errorf("TimeoutMinutes: got %d", r.TimeoutMinutes)
	}
	if !reflect.DeepEqual(r.Dependencies, []string{"other"}) {
		t.Errorf("Dependencies: got %v", r.Dependencies)
	}
	if r.Source != "fm.md" {
		t.Errorf("Source: got %q", r.Source)
	}
}

func TestDuplicateIDs(t *testing.T) {
	root, paths := writeDescriptors(t,
		[2]string{"one/dup.md", "# First\n"},
		[2]string{"two/dup.md", "# Second\n"},
	)
	records, err := newAnalyzer(t, Options{Root: root}).Analyze(paths)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ID != "dup" || records[1].ID != "dup-2" {
		t.Errorf("unexpected ids: %v", []string{records[0].ID, records[1].ID})
	}
}

func TestDependenciesAndGrouping(t *testing.T) {
	root, paths := writeDescriptors(t,
		[2]string{"a-api.md", "# Expose API\n\nThis depends on `cache` being ready. Touch src/api.py.\n"},
		[2]string{"b-cache.md", "# Add cache layer\n\nCreate src/cache.py with an LRU.\n"},
		[2]string{"c-docs.md", "# Write guide\n\nrequires nonexistent-thing to exist. Update README.md.\n"},
	)
	a := newAnalyzer(t, Options{Root: root})
	records, err := a.Analyze(paths)
	if err != nil {
		t.Fatal(err)
	}
	recs := byID(records)

	if got := recs["a-api"].Dependencies; !reflect.DeepEqual(got, []string{"b-cache"}) {
		t.Errorf("a-api dependencies: got %v", got)
	}
	if got := recs["c-docs"].Dependencies; len(got) != 0 {
		t.Errorf("dangling reference should be dropped, got %v", got)
	}
	if recs["b-cache"].Parallelizable {
		t.Error("a prerequisite of another task must run sequentially")
	}
	if !recs["c-docs"].Parallelizable {
		t.Error("c-docs should be parallelizable")
	}

	groups := a.Group(records)
	var order []string
	for _, g := range groups {
		order = append(order, g.TaskIDs()...)
	}
	if want := []string{"b-cache", "a-api", "c-docs"}; !reflect.DeepEqual(order, want) {
		t.Errorf("group order: got %v, want %v", order, want)
	}
	if !groups[2].Parallelizable || groups[0].Parallelizable {
		t.Errorf("unexpected parallelizable flags: %+v", groups)
	}
}

func TestImportAnalysis(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"src/app.py":  "import os, src.utils\nfrom src.models import User\n",
		"cmd/main.go": "package main\n\nimport (\n\t\"fmt\"\n\t\"example.com/proj/internal/store\"\n)\n\nfunc main() { fmt.Println(store.X) }\n",
	}
	for name, content := range files {
		p := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if got := importHints(src, "src", []string{"src/app.py"}); !reflect.DeepEqual(got, []string{"src/utils", "src/models"}) {
		t.Errorf("python hints: got %v", got)
	}
	if got := importHints(src, "example.com/proj", []string{"cmd/main.go", "missing.go"}); !reflect.DeepEqual(got, []string{"internal/store"}) {
		t.Errorf("go hints: got %v", got)
	}

	root, paths := writeDescriptors(t,
		[2]string{"app.md", "# App\n\nExtend src/app.py.\n"},
		[2]string{"models.md", "# Models\n\nAdd fields to src/models.py.\n"},
	)
	records, err := newAnalyzer(t, Options{Root: root, SourceRoot: src, ImportNamespace: "src"}).Analyze(paths)
	if err != nil {
		t.Fatal(err)
	}
	if got := byID(records)["app"].Dependencies; !reflect.DeepEqual(got, []string{"models"}) {
		t.Errorf("app dependencies: got %v", got)
	}
}

func TestEstimates(t *testing.T) {
	if got := estimateDuration(task.ComplexityLow, 2); got != 60 {
		t.Errorf("low/2 files: got %d", got)
	}
	if got := estimateDuration(task.ComplexityCritical, 20); got != 480 {
		t.Errorf("duration should cap at 480, got %d", got)
	}
	want := task.Resources{CPU: 1, MemoryMB: 1228, DiskMB: 240}
	if got := estimateResources(task.ComplexityMedium, 2); got != want {
		t.Errorf("medium/2 files: got %+v, want %+v", got, want)
	}
	if got := estimateResources(task.ComplexityHigh, 50); got.MemoryMB != 4096 {
		t.Errorf("scaling should cap at 10 files, got %+v", got)
	}
}

func TestGroupPacksLongestFirst(t *testing.T) {
	durations := []int{30, 90, 60, 120, 45, 75}
	var records []task.Record
	for i, d := range durations {
		records = append(records, task.Record{
			ID:                string(rune('a' + i)),
			EstimatedDuration: d,
			Parallelizable:    true,
			Resources:         task.Resources{CPU: 1, MemoryMB: 100, DiskMB: 10},
		})
	}
	records = append(records, task.Record{ID: "seq", EstimatedDuration: 200})

	groups := group(records, 4, nil)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if ids := groups[0].TaskIDs(); !reflect.DeepEqual(ids, []string{"seq"}) {
		t.Errorf("singleton first, got %v", ids)
	}
	if ids := groups[1].TaskIDs(); !reflect.DeepEqual(ids, []string{"d", "b", "f", "c"}) {
		t.Errorf("first packed group: got %v", ids)
	}
	if ids := groups[2].TaskIDs(); !reflect.DeepEqual(ids, []string{"e", "a"}) {
		t.Errorf("second packed group: got %v", ids)
	}
	for i, g := range groups {
		if g.ID != i {
			t.Errorf("group %d has ID %d", i, g.ID)
		}
	}

	plan := Summarize(records, groups)
	if plan.EstimatedSequentialTime != 620 {
		t.Errorf("sequential time: got %d", plan.EstimatedSequentialTime)
	}
	if plan.EstimatedParallelTime != 200+120+45 {
		t.Errorf("parallel time: got %d", plan.EstimatedParallelTime)
	}
	if plan.SpeedImprovement != 1.7 {
		t.Errorf("speed improvement: got %v", plan.SpeedImprovement)
	}
	if plan.ResourceRequirements != (task.Resources{CPU: 4, MemoryMB: 400, DiskMB: 40}) {
		t.Errorf("peak resources: got %+v", plan.ResourceRequirements)
	}
	if plan.ParallelizableTasks != 6 || plan.SequentialTasks != 1 || plan.ExecutionGroups != 3 {
		t.Errorf("unexpected counts: %+v", plan)
	}
}

func TestGroupDependencyCycle(t *testing.T) {
	records := []task.Record{
		{ID: "x", Dependencies: []string{"y"}},
		{ID: "y", Dependencies: []string{"x"}},
		{ID: "z"},
	}
	var cycles [][]string
	groups := group(records, 4, func(ids []string) { cycles = append(cycles, ids) })

	var order []string
	for _, g := range groups {
		order = append(order, g.TaskIDs()...)
	}
	if want := []string{"z", "x", "y"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order: got %v, want %v", order, want)
	}
	if len(cycles) != 1 || !reflect.DeepEqual(cycles[0], []string{"x", "y"}) {
		t.Errorf("expected one reported cycle, got %v", cycles)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	root, paths := writeDescriptors(t,
		[2]string{"one.md", "# One\n\nImplement src/one.py and src/shared.py.\n"},
		[2]string{"two.md", "# Two\n\nFix the crash in src/shared.py, requires One.\n"},
		[2]string{"three.md", "# Three\n\nDocument docs/guide.md.\n"},
	)
	a := newAnalyzer(t, Options{Root: root})

	first, err := a.Analyze(paths)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Analyze(paths)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("records differ between runs")
	}
	if !reflect.DeepEqual(a.Group(first), a.Group(second)) {
		t.Error("groups differ between runs")
	}
	if !reflect.DeepEqual(BuildConflicts(first), BuildConflicts(second)) {
		t.Error("conflict matrices differ between runs")
	}
}

func TestDiscover(t *testing.T) {
	root, _ := writeDescriptors(t,
		[2]string{"b.md", "# B\n"},
		[2]string{"a.txt", "A\n"},
		[2]string{"nested/c.markdown", "# C\n"},
		[2]string{"skip.go", "package x\n"},
		[2]string{".hidden/d.md", "# D\n"},
	)
	paths, err := newAnalyzer(t, Options{Root: root}).Discover()
	if err != nil {
		t.Fatal(err)
	}
	var rel []string
	for _, p := range paths {
		r, _ := filepath.Rel(root, p)
		rel = append(rel, filepath.ToSlash(r))
	}
	if want := []string{"a.txt", "b.md", "nested/c.markdown"}; !reflect.DeepEqual(rel, want) {
		t.Errorf("Discover: got %v, want %v", rel, want)
	}
}
