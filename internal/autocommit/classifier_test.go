package autocommit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerClassifier(t *testing.T) {
	c := MarkerClassifier{}

	tests := []struct {
		name     string
		toolName string
		output   string
		want     Outcome
	}{
		{"plain success", "write_file", "Wrote 120 bytes", OutcomeSuccess},
		{"error marker", "write_file", "Error: disk full", OutcomeFailure},
		{"failed marker", "bash", "command FAILED with code 1", OutcomeFailure},
		{"fatal marker", "bash", "fatal: not a git repository", OutcomeFailure},
		{"permission denied", "bash", "Permission denied (publickey)", OutcomeFailure},
		{"cannot marker", "bash", "cannot open file", OutcomeFailure},
		{"build success", "npm-build", "webpack compiled, build completed", OutcomeBuildSuccess},
		{"tsc build success", "tsc", "Compilation OK", OutcomeBuildSuccess},
		{"test success", "pytest", "42 passed in 1.2s", OutcomeTestSuccess},
		{"checkmark test success", "jest", "✓ all suites", OutcomeTestSuccess},
		{"build tool without positive indicator", "npm-build", "emitted 3 assets", OutcomeSuccess},
		{"build output with failure marker wins", "npm-build", "build completed with 2 errors", OutcomeFailure},
		{"non-build tool with positive word", "read_file", "operation completed", OutcomeSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.toolName, tt.output))
		})
	}
}

func TestExtractChangedFiles(t *testing.T) {
	out := `Created file src/components/App.tsx
Updated config/settings.json with new values
wrote 'data/output.csv'
Edited src/components/App.tsx again
reading docs/readme.md`

	files := ExtractChangedFiles(out)
	assert.Equal(t, []string{"App.tsx", "settings.json", "output.csv"}, files)
}

func TestExtractChangedFilesEmpty(t *testing.T) {
	assert.Nil(t, ExtractChangedFiles("no files here"))
	assert.Nil(t, ExtractChangedFiles(""))
}
