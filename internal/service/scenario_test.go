package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/checkpoint-platform/internal/autocommit"
	"github.com/forgechat/checkpoint-platform/internal/branchstate"
	"github.com/forgechat/checkpoint-platform/internal/bridge"
	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/llm"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/internal/vcs"
)

// scriptedBridge serves canned outputs for shell commands, keyed by prefix,
// and records everything it executed.
type scriptedBridge struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string]string
}

func (b *scriptedBridge) ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	command := args["command"]
	b.commands = append(b.commands, command)
	for prefix, out := range b.outputs {
		if strings.HasPrefix(command, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (b *scriptedBridge) executed(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// scriptedLLM returns a tool call on the first round and plain text after.
type scriptedLLM struct {
	mu    sync.Mutex
	round int
}

func (s *scriptedLLM) Name() string     { return "scripted" }
func (s *scriptedLLM) Models() []string { return []string{"scripted-model"} }

func (s *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return s.CompleteStream(ctx, req, func(string, int) error { return nil })
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	s.round++
	round := s.round
	s.mu.Unlock()

	if round == 1 {
		return &llm.CompletionResponse{
			Content: "Running the test suite to confirm the fix.",
			ToolCalls: []llm.ToolCall{{
				ID:    "call-1",
				Name:  bridge.ToolBashCommand,
				Input: map[string]any{"command": "npm test"},
			}},
			Model:      "scripted-model",
			StopReason: "tool_use",
		}, nil
	}

	content := "The bug is fixed and all tests pass."
	for i, token := range strings.SplitAfter(content, " ") {
		if err := callback(token, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{
		Content:    content,
		Model:      "scripted-model",
		StopReason: "end_turn",
	}, nil
}

func (s *scriptedLLM) GenerateTitle(ctx context.Context, firstUserMsg, firstAssistantMsg string) (string, error) {
	return "Bug fix", nil
}

// TestFixTheBugScenario drives a full exchange: a user request leads to a
// tool call, the successful test run triggers an immediate auto-commit, the
// resulting hash attaches to the original user message and the project's
// current branch is left untouched.
func TestFixTheBugScenario(t *testing.T) {
	log := testLogger(t)
	ctx := context.Background()
	bus := events.NewBus()
	defer bus.Close()

	fb := &scriptedBridge{outputs: map[string]string{
		"npm test":          "All 42 tests passed",
		"git status":        "## conversation/work\nM  fix.go",
		"git rev-parse":     "cafe1234",
		"git branch --list": "main\nconversation/work",
		"git checkout -b":   "",
	}}

	gateway := vcs.NewGateway(fb, vcs.Author{Name: "Checkpoint Bot", Email: "bot@forgechat.dev"}, log)

	cfg := autocommit.NewConfigStore(autocommit.DefaultConfig())
	engine := autocommit.NewEngine(cfg, gateway, nil, bus, log)
	defer engine.Close()

	store := branchstate.NewStore(gateway, bus, log)
	defer store.Close()

	projects := NewProjectService(nil, bus, log)
	project, err := projects.Create(ctx, &model.CreateProjectRequest{
		Name:          "demo",
		WorkspaceRoot: t.TempDir(),
	})
	require.NoError(t, err)

	conversations := NewConversationService(projects, gateway, log)
	conv, err := conversations.Create(ctx, project.ID, &model.CreateConversationRequest{})
	require.NoError(t, err)

	messages := NewMessageService(&fakePublisher{}, projects, conversations, &scriptedLLM{}, fb, engine, log)

	assoc := NewAssociationService(messages, conversations, log)
	assoc.Start(bus)
	defer assoc.Stop()

	_, err = store.RefreshCurrentBranch(ctx, project.ID, project.WorkspaceRoot)
	require.NoError(t, err)
	branchBefore := store.CurrentBranch(project.ID)

	var tokens []string
	userMsg, assistantMsg, err := messages.SendWithStream(ctx, project.ID, conv.ID,
		&model.SendMessageRequest{Content: "fix the bug"},
		func(token string, _ int) error {
			tokens = append(tokens, token)
			return nil
		})
	require.NoError(t, err)
	require.NotNil(t, assistantMsg)
	assert.NotEmpty(t, tokens)

	// Tool ran and the successful test output triggered a commit.
	assert.Equal(t, 1, fb.executed("npm test"))
	require.Eventually(t, func() bool {
		return fb.executed("git commit") >= 1 || fb.executed("git -c user.name") >= 1
	}, time.Second, 10*time.Millisecond)

	// The commit hash lands on the original user message.
	require.Eventually(t, func() bool {
		for _, msg := range messages.Messages(conv.ID) {
			if msg.ID == userMsg.ID && msg.CommitHash != "" {
				return msg.CanRevert
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	got := messages.Messages(conv.ID)
	var target *model.Message
	for i := range got {
		if got[i].ID == userMsg.ID {
			target = &got[i]
		}
	}
	require.NotNil(t, target)
	assert.Equal(t, "cafe1234", target.CommitHash)
	assert.True(t, target.CanRevert)

	// Auto-commit never creates or switches branches.
	assert.Equal(t, branchBefore, store.CurrentBranch(project.ID))
}
