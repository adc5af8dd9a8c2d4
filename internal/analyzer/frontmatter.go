package analyzer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Frontmatter holds the optional YAML header of a descriptor. Every field
// refines, rather than replaces, what the heuristics infer from the body.
type Frontmatter struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	DependsOn   []string `yaml:"depends_on"`
	TargetFiles []string `yaml:"target_files"`
	TestFiles   []string `yaml:"test_files"`
	Timeout     string   `yaml:"timeout"`
}

// TimeoutMinutes parses Timeout as a Go duration ("45m") or a bare number of
// minutes ("45"). Empty means no override.
func (f Frontmatter) TimeoutMinutes() (int, error) {
	s := strings.TrimSpace(f.Timeout)
	if s == "" {
		return 0, nil
	}
	if minutes, err := strconv.Atoi(s); err == nil {
		if minutes < 0 {
			return 0, fmt.Errorf("timeout must not be negative: %q", s)
		}
		return minutes, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive: %q", s)
	}
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m, nil
}

// splitFrontmatter separates a leading `---` fenced YAML block from the body.
// Documents without a fence return a zero Frontmatter and the full content.
func splitFrontmatter(content []byte) (Frontmatter, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Frontmatter{}, normalized, nil
	}
	rest := normalized[4:]

	var meta, body []byte
	switch {
	case bytes.HasPrefix(rest, []byte("---\n")):
		body = rest[4:]
	default:
		parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
		if len(parts) < 2 {
			if bytes.HasSuffix(rest, []byte("\n---")) {
				parts = [][]byte{bytes.TrimSuffix(rest, []byte("\n---")), nil}
			} else {
				return Frontmatter{}, nil, fmt.Errorf("unterminated frontmatter")
			}
		}
		meta, body = parts[0], parts[1]
	}

	var fm Frontmatter
	if len(bytes.TrimSpace(meta)) > 0 {
		if err := yaml.Unmarshal(meta, &fm); err != nil {
			return Frontmatter{}, nil, fmt.Errorf("parse frontmatter: %w", err)
		}
	}
	return fm, body, nil
}
