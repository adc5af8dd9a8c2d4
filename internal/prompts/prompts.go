// Package prompts renders a task's prompt and turns it into the command a
// backend executes.
package prompts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/nibzard/parallax/internal/task"
)

// TaskPrompt is the name of the per-task prompt template.
const TaskPrompt = "task.tmpl"

// defaultTaskTemplate is used when no custom template is configured.
const defaultTaskTemplate = `You are working on task {{.TaskID}}: {{.TaskName}}.
Task type: {{.Type}}. Complexity: {{.Complexity}}.
Working directory: {{.WorkDir}}
{{- if .TargetFiles}}

Files to change:
{{- range .TargetFiles}}
- {{.}}
{{- end}}
{{- end}}
{{- if .TestFiles}}

Tests to add or update:
{{- range .TestFiles}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Dependencies}}

These tasks have already run: {{join .Dependencies ", "}}.
{{- end}}

Instructions:
{{.Instructions}}

Only modify files inside the working directory. Started at {{.Now}}.
`

// Data holds prompt template variables.
type Data struct {
	TaskID       string
	TaskName     string
	Type         string
	Complexity   string
	Source       string
	Instructions string
	TargetFiles  []string
	TestFiles    []string
	Dependencies []string
	WorkDir      string
	Now          string
}

// NewData builds prompt data for rec with a UTC timestamp in RFC3339.
func NewData(rec task.Record, instructions, workDir string, now time.Time) Data {
	return Data{
		TaskID:       rec.ID,
		TaskName:     rec.Name,
		Type:         string(rec.Type),
		Complexity:   rec.Complexity.String(),
		Source:       rec.Source,
		Instructions: strings.TrimSpace(instructions),
		TargetFiles:  rec.TargetFiles,
		TestFiles:    rec.TestFiles,
		Dependencies: rec.Dependencies,
		WorkDir:      workDir,
		Now:          now.UTC().Format(time.RFC3339),
	}
}

var funcs = template.FuncMap{"join": strings.Join}

// Renderer renders the task template with strict missing-key behavior.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses text as the task template. Empty text selects the
// built-in template.
func NewRenderer(text string) (*Renderer, error) {
	if text == "" {
		text = defaultTaskTemplate
	}
	tmpl, err := template.New(TaskPrompt).Option("missingkey=error").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %q: %w", TaskPrompt, err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// LoadRenderer reads a template file. An empty path selects the built-in
// template.
func LoadRenderer(path string) (*Renderer, error) {
	if path == "" {
		return NewRenderer("")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("prompt template %s is empty", path)
	}
	return NewRenderer(string(data))
}

// Render executes the template after checking required variables.
func (r *Renderer) Render(data Data) (string, error) {
	if r == nil || r.tmpl == nil {
		return "", errors.New("prompt renderer is not initialized")
	}
	if err := validateRequired(TaskPrompt, data); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", TaskPrompt, err)
	}
	return buf.String(), nil
}

type requiredVar int

const (
	reqTaskID requiredVar = iota
	reqTaskName
	reqWorkDir
	reqNow
)

var requiredByPrompt = map[string][]requiredVar{
	TaskPrompt: {reqTaskID, reqTaskName, reqWorkDir, reqNow},
}

func validateRequired(name string, data Data) error {
	reqs, ok := requiredByPrompt[name]
	if !ok {
		return fmt.Errorf("unknown prompt %q", name)
	}
	for _, req := range reqs {
		switch req {
		case reqTaskID:
			if data.TaskID == "" {
				return fmt.Errorf("prompt %q requires TaskID", name)
			}
		case reqTaskName:
			if data.TaskName == "" {
				return fmt.Errorf("prompt %q requires TaskName", name)
			}
		case reqWorkDir:
			if data.WorkDir == "" {
				return fmt.Errorf("prompt %q requires WorkDir", name)
			}
		case reqNow:
			if data.Now == "" {
				return fmt.Errorf("prompt %q requires Now", name)
			}
		default:
			return fmt.Errorf("prompt %q has unsupported requirement", name)
		}
	}
	return nil
}

// Generator renders a task's prompt and builds the agent command line
// "<binary> <args...> -p <prompt>".
type Generator struct {
	Binary string
	Args   []string
	// DescriptorRoot is where record sources are read from.
	DescriptorRoot string
	Renderer       *Renderer
	Now            func() time.Time
}

// NewGenerator returns a generator using renderer, or the built-in template
// when renderer is nil.
func NewGenerator(binary string, args []string, descriptorRoot string, renderer *Renderer) *Generator {
	if renderer == nil {
		renderer, _ = NewRenderer("")
	}
	return &Generator{
		Binary:         binary,
		Args:           args,
		DescriptorRoot: descriptorRoot,
		Renderer:       renderer,
		Now:            time.Now,
	}
}

// Command implements backend.CommandGenerator.
func (g *Generator) Command(ctx context.Context, rec task.Record, workdir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.Binary == "" {
		return nil, errors.New("agent binary is empty")
	}
	instructions, err := g.instructions(rec)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	prompt, err := g.Renderer.Render(NewData(rec, instructions, workdir, now()))
	if err != nil {
		return nil, err
	}

	argv := make([]string, 0, len(g.Args)+3)
	argv = append(argv, g.Binary)
	argv = append(argv, g.Args...)
	return append(argv, "-p", prompt), nil
}

// instructions returns the descriptor body with any frontmatter removed.
func (g *Generator) instructions(rec task.Record) (string, error) {
	if rec.Source == "" {
		return rec.Name, nil
	}
	path := rec.Source
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.DescriptorRoot, filepath.FromSlash(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read descriptor for %s: %w", rec.ID, err)
	}
	return stripFrontmatter(string(data)), nil
}

func stripFrontmatter(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return content
	}
	rest := content[4:]
	if strings.HasPrefix(rest, "---\n") {
		return rest[4:]
	}
	if _, body, ok := strings.Cut(rest, "\n---\n"); ok {
		return body
	}
	return content
}
