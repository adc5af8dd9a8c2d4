package analyzer

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var pythonImport = regexp.MustCompile(`(?m)^\s*(?:from\s+([A-Za-z_][\w.]*)\s+import\b|import\s+([A-Za-z_][\w.]*(?:\s*,\s*[A-Za-z_][\w.]*)*))`)

// importHints statically inspects the target files that already exist under
// sourceRoot and returns the in-namespace modules they import, as slash
// paths suitable for matching against other tasks' target files.
func importHints(sourceRoot, namespace string, targets []string) []string {
	if namespace == "" || sourceRoot == "" {
		return nil
	}
	var hints []string
	for _, target := range targets {
		full := filepath.Join(sourceRoot, filepath.FromSlash(target))
		switch filepath.Ext(target) {
		case ".go":
			hints = append(hints, goImports(full, namespace)...)
		case ".py":
			hints = append(hints, pythonImports(full, namespace)...)
		}
	}
	return hints
}

func goImports(file, namespace string) []string {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	if err != nil {
		return nil
	}
	var out []string
	for _, spec := range f.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(p, namespace+"/"):
			out = append(out, strings.TrimPrefix(p, namespace+"/"))
		case p == namespace:
			out = append(out, p)
		}
	}
	return out
}

func pythonImports(file, namespace string) []string {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range pythonImport.FindAllStringSubmatch(string(data), -1) {
		modules := []string{m[1]}
		if m[1] == "" {
			modules = strings.Split(m[2], ",")
		}
		for _, mod := range modules {
			mod = strings.TrimSpace(mod)
			if mod == namespace || strings.HasPrefix(mod, namespace+".") {
				out = append(out, strings.ReplaceAll(mod, ".", "/"))
			}
		}
	}
	return out
}
