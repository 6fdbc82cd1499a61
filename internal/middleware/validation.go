package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Branch names accept the refs git itself allows in practice, minus the
// characters Sanitize strips.
var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_.-]*$`)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateProjectID validates a project ID.
func ValidateProjectID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid project ID format")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateBranchName validates a branch name supplied by a client.
func ValidateBranchName(name string) error {
	if len(name) == 0 {
		return errors.New("branch name cannot be empty")
	}
	if len(name) > 250 {
		return errors.New("branch name exceeds maximum length")
	}
	if !branchNamePattern.MatchString(name) {
		return errors.New("branch name contains invalid characters")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
