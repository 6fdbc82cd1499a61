package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	client := openai.NewClient(apiKey)

	return &OpenAIClient{
		client: client,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}
}

func (c *OpenAIClient) buildRequest(req *CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = "gpt-4o"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return out
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	var content string
	var stopReason string
	var toolCalls []ToolCall
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		content = choice.Message.Content
		stopReason = string(choice.FinishReason)
		for _, call := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: decodeFunctionArguments(call.Function.Arguments),
			})
		}
	}

	return &CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content string
	var stopReason string
	var model string
	index := 0

	// Tool call fragments arrive incrementally, keyed by index.
	pending := make(map[int]*ToolCall)
	pendingArgs := make(map[int]string)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		model = response.Model
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		delta := choice.Delta.Content
		if delta != "" {
			content += delta
			if err := callback(delta, index); err != nil {
				return nil, err
			}
			index++
		}

		for _, call := range choice.Delta.ToolCalls {
			pos := 0
			if call.Index != nil {
				pos = *call.Index
			}
			if _, ok := pending[pos]; !ok {
				pending[pos] = &ToolCall{}
			}
			if call.ID != "" {
				pending[pos].ID = call.ID
			}
			if call.Function.Name != "" {
				pending[pos].Name = call.Function.Name
			}
			pendingArgs[pos] += call.Function.Arguments
		}

		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
	}

	var toolCalls []ToolCall
	for pos := 0; pos < len(pending); pos++ {
		call, ok := pending[pos]
		if !ok {
			continue
		}
		call.Input = decodeFunctionArguments(pendingArgs[pos])
		toolCalls = append(toolCalls, *call)
	}

	return &CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		Model:      model,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// GenerateTitle produces a short conversation title from the opening exchange.
func (c *OpenAIClient) GenerateTitle(ctx context.Context, firstUserMsg, firstAssistantMsg string) (string, error) {
	resp, err := c.Complete(ctx, &CompletionRequest{
		Model:     "gpt-4o-mini",
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

func decodeFunctionArguments(raw string) map[string]any {
	input := make(map[string]any)
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &input)
	}
	return input
}
