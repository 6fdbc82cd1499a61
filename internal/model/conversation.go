package model

import (
	"time"
)

// ConversationStatus is the lifecycle status of a conversation's workspace.
type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusReverted ConversationStatus = "reverted"
)

// Conversation represents a conversation thread within a project. Once a
// conversation has produced at least one commit it maps 1:1 to a
// version-control branch.
type Conversation struct {
	ID           string             `json:"id"`
	ProjectID    string             `json:"project_id"`
	Title        string             `json:"title"`
	BranchName   string             `json:"branch_name,omitempty"`
	CommitHash   string             `json:"commit_hash,omitempty"`
	MessageCount int                `json:"message_count,omitempty"`
	Status       ConversationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	LastMessage  *Message           `json:"last_message,omitempty"`
	Deleted      bool               `json:"deleted,omitempty"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateConversationRequest is the request to update a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
