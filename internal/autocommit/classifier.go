package autocommit

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Outcome is the classification of a tool execution's textual output.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
	OutcomeBuildSuccess
	OutcomeTestSuccess
)

// OutcomeClassifier inspects a tool's name and output and classifies the
// result. Classification is best-effort string matching; there is no
// ground-truth success signal from the bridge, so it may misclassify.
type OutcomeClassifier interface {
	Classify(toolName, output string) Outcome
}

var (
	failureMarkers     = []string{"error", "failed", "fatal", "exception", "cannot", "permission denied"}
	positiveIndicators = []string{"success", "completed", "✓", "passed", "ok"}
	buildVocabulary    = []string{"build", "compile", "npm", "yarn", "webpack", "vite", "tsc", "make", "gradle", "cargo"}
	testVocabulary     = []string{"test", "jest", "pytest", "mocha", "cypress", "vitest", "rspec", "junit"}
)

// MarkerClassifier is the default heuristic classifier.
type MarkerClassifier struct{}

// Classify applies the marker vocabulary case-insensitively. Absence of all
// failure markers means success; build/test success additionally requires a
// matching tool name and a positive indicator.
func (MarkerClassifier) Classify(toolName, output string) Outcome {
	lowerOut := strings.ToLower(output)
	for _, marker := range failureMarkers {
		if strings.Contains(lowerOut, marker) {
			return OutcomeFailure
		}
	}

	positive := false
	for _, indicator := range positiveIndicators {
		if strings.Contains(lowerOut, indicator) {
			positive = true
			break
		}
	}

	if positive {
		lowerName := strings.ToLower(toolName)
		for _, word := range testVocabulary {
			if strings.Contains(lowerName, word) {
				return OutcomeTestSuccess
			}
		}
		for _, word := range buildVocabulary {
			if strings.Contains(lowerName, word) {
				return OutcomeBuildSuccess
			}
		}
	}

	return OutcomeSuccess
}

// fileMentionPattern scans for filenames with extensions mentioned in
// creation/write/edit contexts.
var fileMentionPattern = regexp.MustCompile(
	`(?i)(?:creat\w*|wrot\w*|writ\w*|edit\w*|sav\w*|updat\w*|modif\w*)\s+(?:file\s+)?['"` + "`" + `]?([\w@./-]+\.[A-Za-z0-9]{1,8})`)

// ExtractChangedFiles scans tool output for file paths that appear to have
// been created or modified. Heuristic: may both over- and under-report.
// Duplicates are removed and path prefixes stripped to the basename.
func ExtractChangedFiles(output string) []string {
	matches := fileMentionPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var files []string
	for _, m := range matches {
		name := filepath.Base(m[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		files = append(files, name)
	}
	return files
}
