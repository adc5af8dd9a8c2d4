package analyzer

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxNameLength = 50

var (
	// filePattern matches relative paths with a known source or config
	// extension. Group 1 is the path.
	filePattern = regexp.MustCompile("(?:^|[\\s`\"'(\\[,])((?:[A-Za-z0-9_.\\-]+/)*[A-Za-z0-9_\\-][A-Za-z0-9_.\\-]*\\." +
		"(?:py|go|js|jsx|ts|tsx|rs|java|kt|rb|php|c|h|cc|cpp|hpp|cs|swift|sh|sql|html|css|scss|vue|yaml|yml|json|toml|ini|cfg|md))\\b")

	dependencyPattern = regexp.MustCompile("(?i)\\b(?:depends on|requires|after)\\s+" +
		"(?:`([^`\\n]+)`|\"([^\"\\n]+)\"|'([^'\\n]+)'|([^\\n.,;:!?()]+))")

	codeExtensions = map[string]bool{
		".py": true, ".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
		".rs": true, ".java": true, ".kt": true, ".rb": true, ".php": true, ".c": true,
		".cc": true, ".cpp": true, ".cs": true, ".swift": true,
	}
)

// extractName returns the first markdown heading, or the first non-empty line
// truncated to 50 characters.
func extractName(body string) string {
	var fallback string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if name := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); name != "" {
				return name
			}
			continue
		}
		if fallback == "" {
			fallback = trimmed
		}
	}
	return truncateRunes(fallback, maxNameLength)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// extractFiles returns the distinct file paths mentioned in body split into
// target and test files, in order of first mention.
func extractFiles(body string) (targets, tests []string) {
	seen := make(map[string]bool)
	for _, m := range filePattern.FindAllStringSubmatch(body, -1) {
		p := strings.TrimPrefix(path.Clean(m[1]), "./")
		if seen[p] || strings.HasPrefix(p, "../") {
			continue
		}
		seen[p] = true
		if isTestFile(p) {
			tests = append(tests, p)
		} else {
			targets = append(targets, p)
		}
	}
	return targets, tests
}

func isTestFile(p string) bool {
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	switch {
	case strings.HasPrefix(base, "test_"),
		strings.HasSuffix(stem, "_test"),
		strings.HasSuffix(stem, ".test"),
		strings.HasSuffix(stem, ".spec"):
		return true
	}
	for _, dir := range strings.Split(path.Dir(p), "/") {
		if dir == "tests" || dir == "test" || dir == "__tests__" {
			return true
		}
	}
	return false
}

// inferTestFile returns the conventional test file for a source file, or ""
// for files that are not code.
func inferTestFile(target string) string {
	ext := path.Ext(target)
	if !codeExtensions[ext] {
		return ""
	}
	stem := strings.TrimSuffix(path.Base(target), ext)
	switch ext {
	case ".go":
		return path.Join(path.Dir(target), stem+"_test.go")
	default:
		return path.Join("tests", "test_"+stem+ext)
	}
}

// extractDependencyPhrases returns the objects of "depends on X",
// "requires X" and "after X" phrases.
func extractDependencyPhrases(body string) []string {
	var out []string
	for _, m := range dependencyPattern.FindAllStringSubmatch(body, -1) {
		var phrase string
		for _, g := range m[1:] {
			if g != "" {
				phrase = g
				break
			}
		}
		phrase = strings.TrimSpace(phrase)
		if words := strings.Fields(phrase); len(words) > 8 {
			phrase = strings.Join(words[:8], " ")
		}
		if phrase != "" {
			out = append(out, phrase)
		}
	}
	return out
}
