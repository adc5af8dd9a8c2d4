package prompts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nibzard/parallax/internal/task"
)

func sampleRecord() task.Record {
	return task.Record{
		ID:           "add-cache",
		Name:         "Add cache",
		Source:       "add-cache.md",
		Type:         task.TypeFeature,
		Complexity:   task.ComplexityMedium,
		TargetFiles:  []string{"src/cache.py"},
		TestFiles:    []string{"tests/test_cache.py"},
		Dependencies: []string{"setup-db"},
	}
}

// TestNewData tests creating prompt data.
func TestNewData(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	data := NewData(sampleRecord(), "  body\n", "/work", now)

	if data.TaskID != "add-cache" || data.TaskName != "Add cache" {
		t.Errorf("identity = %q/%q", data.TaskID, data.TaskName)
	}
	if data.Type != "feature_implementation" || data.Complexity != "medium" {
		t.Errorf("classification = %q/%q", data.Type, data.Complexity)
	}
	if data.Instructions != "body" {
		t.Errorf("Instructions = %q, want trimmed body", data.Instructions)
	}
	if data.Now != "2024-01-01T11:00:00Z" {
		t.Errorf("Now = %q, want UTC RFC3339", data.Now)
	}
}

// TestRenderDefaultTemplate tests the built-in task template.
func TestRenderDefaultTemplate(t *testing.T) {
	r, err := NewRenderer("")
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	out, err := r.Render(NewData(sampleRecord(), "Add an LRU cache.", "/work/add-cache", time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{
		"task add-cache: Add cache",
		"Complexity: medium",
		"- src/cache.py",
		"- tests/test_cache.py",
		"already run: setup-db.",
		"Add an LRU cache.",
		"Working directory: /work/add-cache",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, out)
		}
	}

	rec := sampleRecord()
	rec.TargetFiles, rec.TestFiles, rec.Dependencies = nil, nil, nil
	out, err = r.Render(NewData(rec, "x", "/w", time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(out, "Files to change") || strings.Contains(out, "already run") {
		t.Errorf("empty sections should be omitted:\n%s", out)
	}
}

// TestRenderMissingRequiredVariable tests required variable checks.
func TestRenderMissingRequiredVariable(t *testing.T) {
	r, _ := NewRenderer("")
	base := NewData(sampleRecord(), "x", "/work", time.Now())

	tests := []struct {
		name   string
		mutate func(*Data)
		want   string
	}{
		{"missing task id", func(d *Data) { d.TaskID = "" }, "requires TaskID"},
		{"missing task name", func(d *Data) { d.TaskName = "" }, "requires TaskName"},
		{"missing workdir", func(d *Data) { d.WorkDir = "" }, "requires WorkDir"},
		{"missing now", func(d *Data) { d.Now = "" }, "requires Now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := base
			tt.mutate(&data)
			_, err := r.Render(data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Render() error = %v, want %q", err, tt.want)
			}
		})
	}

	var nilRenderer *Renderer
	if _, err := nilRenderer.Render(base); err == nil {
		t.Error("nil renderer should fail")
	}
}

// TestLoadRenderer tests custom template files.
func TestLoadRenderer(t *testing.T) {
	dir := t.TempDir()

	t.Run("custom template", func(t *testing.T) {
		path := filepath.Join(dir, "custom.tmpl")
		if err := os.WriteFile(path, []byte("{{.TaskID}} in {{.WorkDir}}"), 0644); err != nil {
			t.Fatal(err)
		}
		r, err := LoadRenderer(path)
		if err != nil {
			t.Fatalf("LoadRenderer() error = %v", err)
		}
		out, err := r.Render(NewData(sampleRecord(), "", "/w", time.Now()))
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if out != "add-cache in /w" {
			t.Errorf("Render() = %q", out)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(dir, "bad.tmpl")
		if err := os.WriteFile(path, []byte("{{.Nope}}"), 0644); err != nil {
			t.Fatal(err)
		}
		r, err := LoadRenderer(path)
		if err != nil {
			t.Fatalf("LoadRenderer() error = %v", err)
		}
		if _, err := r.Render(NewData(sampleRecord(), "", "/w", time.Now())); err == nil {
			t.Error("expected render error for unknown field")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.tmpl")
		if err := os.WriteFile(path, []byte("  \n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRenderer(path); err == nil {
			t.Error("expected error for empty template")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadRenderer(filepath.Join(dir, "missing.tmpl")); err == nil {
			t.Error("expected error for missing template")
		}
	})

	t.Run("parse error", func(t *testing.T) {
		if _, err := NewRenderer("{{.TaskID"); err == nil {
			t.Error("expected parse error")
		}
	})
}

// TestGeneratorCommand tests building the agent command line.
func TestGeneratorCommand(t *testing.T) {
	root := t.TempDir()
	descriptor := "---\nid: add-cache\n---\n# Add cache\n\nUse an LRU.\n"
	if err := os.WriteFile(filepath.Join(root, "add-cache.md"), []byte(descriptor), 0644); err != nil {
		t.Fatal(err)
	}

	g := NewGenerator("claude", []string{"--model", "opus"}, root, nil)
	g.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	argv, err := g.Command(context.Background(), sampleRecord(), "/work/add-cache")
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if len(argv) != 5 {
		t.Fatalf("argv = %q", argv)
	}
	if strings.Join(argv[:4], " ") != "claude --model opus -p" {
		t.Errorf("argv prefix = %q", argv[:4])
	}
	prompt := argv[4]
	if !strings.Contains(prompt, "Use an LRU.") {
		t.Errorf("prompt missing descriptor body:\n%s", prompt)
	}
	if strings.Contains(prompt, "id: add-cache") {
		t.Errorf("prompt should not contain frontmatter:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2024-01-01T00:00:00Z") {
		t.Errorf("prompt missing timestamp:\n%s", prompt)
	}

	t.Run("missing descriptor", func(t *testing.T) {
		rec := sampleRecord()
		rec.Source = "gone.md"
		if _, err := g.Command(context.Background(), rec, "/w"); err == nil {
			t.Error("expected error for missing descriptor")
		}
	})

	t.Run("record without source", func(t *testing.T) {
		rec := sampleRecord()
		rec.Source = ""
		argv, err := g.Command(context.Background(), rec, "/w")
		if err != nil {
			t.Fatalf("Command() error = %v", err)
		}
		if !strings.Contains(argv[len(argv)-1], "Instructions:\nAdd cache") {
			t.Errorf("expected name as instructions:\n%s", argv[len(argv)-1])
		}
	})

	t.Run("empty binary", func(t *testing.T) {
		if _, err := NewGenerator("", nil, root, nil).Command(context.Background(), sampleRecord(), "/w"); err == nil {
			t.Error("expected error for empty binary")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := g.Command(ctx, sampleRecord(), "/w"); err == nil {
			t.Error("expected context error")
		}
	})
}

func TestStripFrontmatter(t *testing.T) {
	tests := map[string]string{
		"# Plain\n":                    "# Plain\n",
		"---\nid: x\n---\nbody\n":      "body\n",
		"---\n---\nbody":               "body",
		"---\r\nid: x\r\n---\r\nb\r\n": "b\n",
		"---\nunterminated":            "---\nunterminated",
	}
	for in, want := range tests {
		if got := stripFrontmatter(in); got != want {
			t.Errorf("stripFrontmatter(%q) = %q, want %q", in, got, want)
		}
	}
}
