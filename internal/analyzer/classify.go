package analyzer

import (
	"regexp"
	"strings"

	"github.com/nibzard/parallax/internal/task"
)

// TypeClassifier decides what kind of work a descriptor describes.
type TypeClassifier interface {
	Classify(text string) task.Type
}

// ComplexityScorer rates how hard a descriptor is. fileMentions is the number
// of distinct file paths the descriptor mentions.
type ComplexityScorer interface {
	Score(text string, fileMentions int) task.Complexity
}

// ImplementedDetector reports whether a descriptor's first line marks it as
// already done.
type ImplementedDetector interface {
	Implemented(firstLine string) bool
}

// MarkerDetector matches the first line against a fixed marker, ignoring
// surrounding whitespace and case.
type MarkerDetector struct {
	Marker string
}

// Implemented implements ImplementedDetector.
func (d MarkerDetector) Implemented(firstLine string) bool {
	marker := strings.TrimSpace(d.Marker)
	return marker != "" && strings.EqualFold(strings.TrimSpace(firstLine), marker)
}

// keywordSet matches whole words or phrases, case-insensitively.
type keywordSet []*regexp.Regexp

func newKeywordSet(words ...string) keywordSet {
	set := make(keywordSet, 0, len(words))
	for _, w := range words {
		set = append(set, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return set
}

// count returns how many distinct keywords occur in text.
func (s keywordSet) count(text string) int {
	n := 0
	for _, re := range s {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// KeywordClassifier scores each task type by the number of distinct keywords
// found. The highest score wins, ties go to the earlier type in task.Types,
// and a zero score yields task.TypeFeature.
type KeywordClassifier struct {
	keywords map[task.Type]keywordSet
}

// NewKeywordClassifier returns the default keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: map[task.Type]keywordSet{
		task.TypeTestCoverage: newKeywordSet("test coverage", "unit test", "unit tests", "integration test",
			"pytest", "coverage", "test suite", "testing", "go test", "tests"),
		task.TypeBugFix: newKeywordSet("bug", "fix", "error", "issue", "crash", "broken", "regression", "defect"),
		task.TypeFeature: newKeywordSet("implement", "feature", "add", "new", "create", "build", "support"),
		task.TypeRefactor: newKeywordSet("refactor", "restructure", "cleanup", "clean up", "reorganize",
			"simplify", "optimize", "performance"),
		task.TypeDocumentation: newKeywordSet("document", "documentation", "readme", "docs", "docstring",
			"guide", "tutorial"),
		task.TypeConfiguration: newKeywordSet("config", "configuration", "setup", "settings", "environment",
			"deploy", "ci", "pipeline"),
	}}
}

// Scores returns the score of every type.
func (c *KeywordClassifier) Scores(text string) map[task.Type]int {
	scores := make(map[task.Type]int, len(c.keywords))
	for t, set := range c.keywords {
		scores[t] = set.count(text)
	}
	return scores
}

// Classify implements TypeClassifier.
func (c *KeywordClassifier) Classify(text string) task.Type {
	scores := c.Scores(text)
	best, bestScore := task.TypeFeature, 0
	for _, t := range task.Types() {
		if scores[t] > bestScore {
			best, bestScore = t, scores[t]
		}
	}
	return best
}

// WeightedScorer rates complexity from length, vocabulary, and file spread.
type WeightedScorer struct {
	complex       keywordSet
	comprehensive keywordSet
	integration   keywordSet
}

// NewWeightedScorer returns the default complexity scorer.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{
		complex: newKeywordSet("algorithm", "concurrency", "concurrent", "distributed", "parallel",
			"asynchronous", "async", "architecture", "migration", "security", "encryption", "scalability",
			"transaction", "state machine"),
		comprehensive: newKeywordSet("comprehensive test", "comprehensive tests", "comprehensive testing",
			"full test coverage", "100% coverage", "end-to-end", "e2e"),
		integration: newKeywordSet("integration", "external api", "third-party", "third party", "webhook",
			"oauth", "api client"),
	}
}

// Points returns the raw complexity score.
func (s *WeightedScorer) Points(text string, fileMentions int) int {
	points := 0

	switch words := len(strings.Fields(text)); {
	case words > 2000:
		points += 2
	case words > 1000:
		points++
	}

	points += s.complex.count(text)

	switch {
	case fileMentions > 10:
		points += 2
	case fileMentions > 5:
		points++
	}

	if s.comprehensive.count(text) > 0 {
		points++
	}
	if s.integration.count(text) > 0 {
		points++
	}
	return points
}

// Score implements ComplexityScorer.
func (s *WeightedScorer) Score(text string, fileMentions int) task.Complexity {
	switch p := s.Points(text, fileMentions); {
	case p >= 6:
		return task.ComplexityCritical
	case p >= 4:
		return task.ComplexityHigh
	case p >= 2:
		return task.ComplexityMedium
	default:
		return task.ComplexityLow
	}
}
