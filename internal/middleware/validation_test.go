package middleware

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("fix the bug"))
	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", 100001)))
	assert.Error(t, ValidateMessageContent("bad \xff utf8"))
}

func TestValidateIDs(t *testing.T) {
	id := uuid.Must(uuid.NewV7()).String()
	assert.NoError(t, ValidateProjectID(id))
	assert.NoError(t, ValidateConversationID(id))
	assert.NoError(t, ValidateMessageID(id))

	assert.Error(t, ValidateProjectID("not-a-uuid"))
	assert.Error(t, ValidateConversationID(""))
	assert.Error(t, ValidateMessageID("../../etc/passwd"))
}

func TestValidateBranchName(t *testing.T) {
	valid := []string{
		"main",
		"conversation/0190a1b2-c3d4",
		"feature/add_login.v2",
		"release-1.0",
	}
	for _, name := range valid {
		assert.NoError(t, ValidateBranchName(name), name)
	}

	invalid := []string{
		"",
		"-starts-with-dash",
		"/starts-with-slash",
		"has space",
		"semi;colon",
		"back\\slash",
		strings.Repeat("a", 251),
	}
	for _, name := range invalid {
		assert.Error(t, ValidateBranchName(name), name)
	}
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle("Fix login bug"))
	assert.Error(t, ValidateTitle(strings.Repeat("t", 257)))
}
