package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentBlock is a structured content element within a message. Plain text
// messages leave Blocks empty and use Content directly.
type ContentBlock struct {
	Type      string         `json:"type"` // "text", "tool_use", "tool_result"
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// Message represents a conversation message.
//
// Invariant: CanRevert is true only if CommitHash is set. At most the most
// recent user message without a CommitHash may receive one when a new commit
// is associated.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	ProjectID      string `json:"project_id"`

	// Content
	Role    Role           `json:"role"`
	Content string         `json:"content"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`

	// Checkpoint association
	CommitHash string `json:"commit_hash,omitempty"`
	CanRevert  bool   `json:"can_revert,omitempty"`

	// LLM metadata (nullable for non-assistant messages)
	Model      *string `json:"model,omitempty"`
	TokensIn   *int    `json:"tokens_in,omitempty"`
	TokensOut  *int    `json:"tokens_out,omitempty"`
	LatencyMs  *int64  `json:"latency_ms,omitempty"`
	StopReason *string `json:"stop_reason,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`

	// JetStream metadata (populated on publish)
	Sequence uint64 `json:"sequence,omitempty"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Stream  bool   `json:"stream"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message  *Message `json:"message,omitempty"`
	Sequence uint64   `json:"sequence,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// TokenEvent represents a streaming token event.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// MessageCompleteEvent represents a message completion event.
type MessageCompleteEvent struct {
	Message  Message `json:"message"`
	Sequence uint64  `json:"sequence"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
