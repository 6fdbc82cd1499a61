package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/bridge"
	"github.com/forgechat/checkpoint-platform/internal/llm"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
	"github.com/forgechat/checkpoint-platform/pkg/metrics"
)

// maxToolRounds bounds the number of tool execution cycles per request.
const maxToolRounds = 5

// MessagePublisher appends messages to the durable stream.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
}

// ToolObserver is notified after every tool execution so that checkpoint
// decisions can be made from tool output.
type ToolObserver interface {
	HandleToolResult(ctx context.Context, projectID, conversationID, path, toolName, output string)
}

// MessageService handles message operations. Messages are held in a mutable
// in-memory index so that commit associations can be applied after the fact;
// the JetStream stream is the durable append-only log.
type MessageService struct {
	publisher     MessagePublisher
	projects      *ProjectService
	conversations *ConversationService
	llmClient     llm.Client
	tools         bridge.Bridge
	observer      ToolObserver
	logger        *logger.Logger

	mu    sync.RWMutex
	index map[string][]*model.Message
}

// NewMessageService creates a new message service.
func NewMessageService(
	publisher MessagePublisher,
	projects *ProjectService,
	conversations *ConversationService,
	llmClient llm.Client,
	tools bridge.Bridge,
	observer ToolObserver,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		publisher:     publisher,
		projects:      projects,
		conversations: conversations,
		llmClient:     llmClient,
		tools:         tools,
		observer:      observer,
		logger:        log,
		index:         make(map[string][]*model.Message),
	}
}

// TokenCallback is called for each token during streaming.
type TokenCallback func(token string, index int) error

func (s *MessageService) append(ctx context.Context, msg *model.Message) error {
	seq, err := s.publisher.PublishMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	msg.Sequence = seq

	s.mu.Lock()
	s.index[msg.ConversationID] = append(s.index[msg.ConversationID], msg)
	s.mu.Unlock()

	s.conversations.UpdateLastMessage(ctx, msg.ProjectID, msg.ConversationID, msg)
	metrics.MessagesTotal.WithLabelValues(msg.ProjectID, string(msg.Role)).Inc()

	return nil
}

// Send appends a user message to the conversation.
func (s *MessageService) Send(ctx context.Context, projectID, conversationID string, req *model.SendMessageRequest) (*model.Message, uint64, error) {
	if _, err := s.conversations.Get(ctx, projectID, conversationID); err != nil {
		return nil, 0, err
	}

	userMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		ProjectID:      projectID,
		Role:           model.RoleUser,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}

	if err := s.append(ctx, userMsg); err != nil {
		return nil, 0, err
	}

	return userMsg, userMsg.Sequence, nil
}

// SendWithStream sends a user message and streams the assistant response,
// executing any tools the model requests along the way.
func (s *MessageService) SendWithStream(
	ctx context.Context,
	projectID, conversationID string,
	req *model.SendMessageRequest,
	onToken TokenCallback,
) (*model.Message, *model.Message, error) {
	userMsg, _, err := s.Send(ctx, projectID, conversationID, req)
	if err != nil {
		return nil, nil, err
	}

	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return userMsg, nil, err
	}

	chatMessages := s.history(conversationID)

	modelName := req.Model
	var assistantMsg *model.Message
	tokenIndex := 0

	for round := 0; round <= maxToolRounds; round++ {
		streamStart := time.Now()

		resp, err := s.llmClient.CompleteStream(ctx, &llm.CompletionRequest{
			Model:     modelName,
			Messages:  chatMessages,
			Tools:     toolDefinitions(),
			MaxTokens: 4096,
			Stream:    true,
		}, func(token string, _ int) error {
			err := onToken(token, tokenIndex)
			tokenIndex++
			return err
		})
		if err != nil {
			metrics.RecordLLMStream(modelName, "error", time.Since(streamStart).Seconds(), 0, 0)
			return userMsg, nil, fmt.Errorf("LLM stream failed: %w", err)
		}

		assistantMsg = &model.Message{
			ID:             uuid.Must(uuid.NewV7()).String(),
			ConversationID: conversationID,
			ProjectID:      projectID,
			Role:           model.RoleAssistant,
			Content:        resp.Content,
			Model:          &resp.Model,
			TokensIn:       &resp.TokensIn,
			TokensOut:      &resp.TokensOut,
			LatencyMs:      &resp.LatencyMs,
			StopReason:     &resp.StopReason,
			CreatedAt:      time.Now(),
		}
		for _, call := range resp.ToolCalls {
			assistantMsg.Blocks = append(assistantMsg.Blocks, model.ContentBlock{
				Type:      "tool_use",
				ToolName:  call.Name,
				ToolInput: call.Input,
			})
		}

		if err := s.append(ctx, assistantMsg); err != nil {
			return userMsg, nil, err
		}
		metrics.RecordLLMStream(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)

		if len(resp.ToolCalls) == 0 {
			break
		}

		chatMessages = append(chatMessages, llm.ChatMessage{
			Role:    string(model.RoleAssistant),
			Content: resp.Content,
		})

		for _, call := range resp.ToolCalls {
			output := s.runTool(ctx, project, conversationID, call)
			chatMessages = append(chatMessages, llm.ChatMessage{
				Role:    string(model.RoleUser),
				Content: fmt.Sprintf("Tool %s result:\n%s", call.Name, output),
			})
		}
	}

	s.maybeGenerateTitle(projectID, conversationID, userMsg, assistantMsg)

	return userMsg, assistantMsg, nil
}

// runTool executes a single tool call, records its result as a tool message
// and notifies the checkpoint observer. Tool failures are reported back to
// the model rather than aborting the exchange.
func (s *MessageService) runTool(ctx context.Context, project *model.Project, conversationID string, call llm.ToolCall) string {
	args := make(map[string]string, len(call.Input))
	for k, v := range call.Input {
		args[k] = fmt.Sprintf("%v", v)
	}
	if _, ok := args["cwd"]; !ok {
		args["cwd"] = project.WorkspaceRoot
	}

	output, err := s.tools.ExecuteTool(ctx, "local", call.Name, args)
	isError := err != nil
	if isError {
		output = err.Error()
	}

	toolMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		ProjectID:      project.ID,
		Role:           model.RoleTool,
		Content:        output,
		Blocks: []model.ContentBlock{{
			Type:      "tool_result",
			Text:      output,
			ToolName:  call.Name,
			ToolInput: call.Input,
			IsError:   isError,
		}},
		CreatedAt: time.Now(),
	}
	if err := s.append(ctx, toolMsg); err != nil {
		s.logger.Error("failed to record tool result",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}

	if s.observer != nil {
		// For shell tools the command line is the meaningful descriptor:
		// the outcome classifier keys build/test detection off it.
		toolDesc := call.Name
		if cmd, ok := call.Input["command"].(string); ok && cmd != "" {
			toolDesc = cmd
		}
		s.observer.HandleToolResult(ctx, project.ID, conversationID, project.WorkspaceRoot, toolDesc, output)
	}

	return output
}

// maybeGenerateTitle asks the model for a conversation title after the first
// exchange if none was supplied at creation time.
func (s *MessageService) maybeGenerateTitle(projectID, conversationID string, userMsg, assistantMsg *model.Message) {
	if assistantMsg == nil {
		return
	}
	conv, err := s.conversations.Get(context.Background(), projectID, conversationID)
	if err != nil || conv.Title != "" || conv.MessageCount > 3 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		title, err := s.llmClient.GenerateTitle(ctx, userMsg.Content, assistantMsg.Content)
		if err != nil {
			s.logger.Warn("title generation failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
			return
		}
		s.conversations.SetTitle(conversationID, title)
	}()
}

func (s *MessageService) history(conversationID string) []llm.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.index[conversationID]
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == model.RoleTool {
			continue
		}
		out = append(out, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

// Messages returns a snapshot of a conversation's messages in order.
func (s *MessageService) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.index[conversationID]
	out := make([]model.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = *msg
	}
	return out
}

// AttachCommit marks a message as the revert target for a commit. Returns
// false if the message is not in the index.
func (s *MessageService) AttachCommit(conversationID, messageID, commitHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.index[conversationID] {
		if msg.ID == messageID {
			msg.CommitHash = commitHash
			msg.CanRevert = true
			return true
		}
	}
	return false
}

// GetMessages retrieves messages for a conversation after a sequence number.
func (s *MessageService) GetMessages(ctx context.Context, projectID, conversationID string, afterSequence uint64, limit int) (*model.ListMessagesResponse, error) {
	if _, err := s.conversations.Get(ctx, projectID, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, msg := range s.index[conversationID] {
		if msg.Sequence > afterSequence {
			out = append(out, *msg)
		}
		if len(out) == limit {
			break
		}
	}

	return &model.ListMessagesResponse{
		Messages: out,
		HasMore:  len(out) == limit,
	}, nil
}

func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{
		Name:        bridge.ToolBashCommand,
		Description: "Run a shell command in the project workspace and return its combined output.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run.",
				},
				"cwd": map[string]any{
					"type":        "string",
					"description": "Working directory for the command. Defaults to the project workspace root.",
				},
			},
			"required": []string{"command"},
		},
	}}
}
