package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicClient{client: client}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}
}

func (c *AnthropicClient) buildParams(req *CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}

	if req.System != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{{
			Type: anthropic.F(anthropic.TextBlockParamTypeText),
			Text: anthropic.F(req.System),
		}})
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolParam, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = anthropic.ToolParam{
				Name:        anthropic.F(tool.Name),
				Description: anthropic.F(tool.Description),
				InputSchema: anthropic.F[interface{}](tool.InputSchema),
			}
		}
		params.Tools = anthropic.F(tools)
	}

	return params
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, err
	}

	var content string
	var toolCalls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.ContentBlockTypeText:
			content += block.Text
		case anthropic.ContentBlockTypeToolUse:
			toolCalls = append(toolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: decodeToolInput(block.Input),
			})
		}
	}

	return &CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))

	var acc anthropic.Message
	var content string
	index := 0

	for stream.Next() {
		event := stream.Current()
		acc.Accumulate(event)

		delta, _ := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
		if event.Type == anthropic.MessageStreamEventTypeContentBlockDelta &&
			delta.Type == "text_delta" {
			token := delta.Text
			content += token
			if err := callback(token, index); err != nil {
				return nil, err
			}
			index++
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	var toolCalls []ToolCall
	for _, block := range acc.Content {
		if block.Type == anthropic.ContentBlockTypeToolUse {
			toolCalls = append(toolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: decodeToolInput(block.Input),
			})
		}
	}

	return &CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		Model:      acc.Model,
		TokensIn:   int(acc.Usage.InputTokens),
		TokensOut:  int(acc.Usage.OutputTokens),
		StopReason: string(acc.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// GenerateTitle produces a short conversation title from the opening exchange.
func (c *AnthropicClient) GenerateTitle(ctx context.Context, firstUserMsg, firstAssistantMsg string) (string, error) {
	resp, err := c.Complete(ctx, &CompletionRequest{
		Model:     "claude-3-5-haiku-20241022",
		System:    titlePrompt,
		MaxTokens: 32,
		Messages: []ChatMessage{
			{Role: "user", Content: "User: " + firstUserMsg + "\nAssistant: " + firstAssistantMsg},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(resp.Content), `"`), nil
}

func decodeToolInput(raw json.RawMessage) map[string]any {
	input := make(map[string]any)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &input)
	}
	return input
}
