// Package schema validates plan and report documents against embedded JSON
// Schemas.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports the first schema violation found in a document.
type ValidationError struct {
	Document string // schema resource name, e.g. "report.schema.json"
	Path     string // dot path to the offending value
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s validation failed at %s: %s", e.Document, e.Path, e.Message)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Document, e.Message)
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*jsonschema.Schema{}
)

// Validate checks data (a JSON document) against the schema source registered
// under name. Compiled schemas are cached by name.
func Validate(name, source string, data []byte) error {
	compiled, err := compile(name, source)
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Document: name, Message: fmt.Sprintf("invalid json: %v", err)}
	}

	if err := compiled.Validate(doc); err != nil {
		return toValidationError(name, err)
	}
	return nil
}

func compile(name, source string) (*jsonschema.Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[name]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	cache[name] = s
	return s, nil
}

func toValidationError(name string, err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{Document: name, Message: err.Error()}
	}
	leaf := firstLeaf(ve)
	return &ValidationError{
		Document: name,
		Path:     pointerToPath(leaf.InstanceLocation),
		Message:  leaf.Message,
	}
}

// firstLeaf descends to the first cause without further causes.
func firstLeaf(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// pointerToPath converts a JSON pointer such as "/groups/0/tasks" to
// "groups[0].tasks".
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}

	var b strings.Builder
	for _, part := range strings.Split(ptr, "/") {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		if part == "" {
			continue
		}
		if idx, err := strconv.Atoi(part); err == nil {
			fmt.Fprintf(&b, "[%d]", idx)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
