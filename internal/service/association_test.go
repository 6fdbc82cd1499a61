package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// fakePublisher counts published messages and hands out sequence numbers.
type fakePublisher struct {
	mu  sync.Mutex
	seq uint64
}

func (f *fakePublisher) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq, nil
}

// fakeProvisioner records created branches.
type fakeProvisioner struct {
	mu       sync.Mutex
	branches []string
}

func (f *fakeProvisioner) CreateBranch(ctx context.Context, path, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, name)
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewDevelopment()
	require.NoError(t, err)
	return log
}

func TestFindAssociationTarget(t *testing.T) {
	tests := []struct {
		name string
		msgs []model.Message
		want int
	}{
		{
			name: "empty list",
			msgs: nil,
			want: -1,
		},
		{
			name: "latest user message wins",
			msgs: []model.Message{
				{Role: model.RoleUser},
				{Role: model.RoleAssistant},
				{Role: model.RoleUser},
				{Role: model.RoleAssistant},
			},
			want: 2,
		},
		{
			name: "assistant tail does not block the scan",
			msgs: []model.Message{
				{Role: model.RoleUser},
				{Role: model.RoleAssistant},
				{Role: model.RoleTool},
			},
			want: 0,
		},
		{
			name: "stops at an already associated message",
			msgs: []model.Message{
				{Role: model.RoleUser},
				{Role: model.RoleUser, CommitHash: "abc123"},
				{Role: model.RoleAssistant},
			},
			want: -1,
		},
		{
			name: "only assistant messages",
			msgs: []model.Message{
				{Role: model.RoleAssistant},
				{Role: model.RoleAssistant},
			},
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindAssociationTarget(tt.msgs))
		})
	}
}

func TestAssociationIdempotency(t *testing.T) {
	log := testLogger(t)
	ctx := context.Background()

	projects := NewProjectService(nil, events.NewBus(), log)
	project, err := projects.Create(ctx, &model.CreateProjectRequest{
		Name:          "demo",
		WorkspaceRoot: t.TempDir(),
	})
	require.NoError(t, err)

	conversations := NewConversationService(projects, &fakeProvisioner{}, log)
	conv, err := conversations.Create(ctx, project.ID, &model.CreateConversationRequest{Title: "fixing"})
	require.NoError(t, err)

	messages := NewMessageService(&fakePublisher{}, projects, conversations, nil, nil, nil, log)
	userMsg, _, err := messages.Send(ctx, project.ID, conv.ID, &model.SendMessageRequest{Content: "fix the bug"})
	require.NoError(t, err)

	assoc := NewAssociationService(messages, conversations, log)
	ev := model.SyncEvent{
		Type:           model.EventCommitCreated,
		ProjectID:      project.ID,
		ConversationID: conv.ID,
		CommitHash:     "deadbeef",
		Timestamp:      time.Now(),
	}

	assoc.HandleCommit(ev)

	got := messages.Messages(conv.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "deadbeef", got[0].CommitHash)
	assert.True(t, got[0].CanRevert)

	// A second user message follows, then the same event is re-delivered.
	// The new message must stay untouched.
	_, _, err = messages.Send(ctx, project.ID, conv.ID, &model.SendMessageRequest{Content: "now add tests"})
	require.NoError(t, err)

	assoc.HandleCommit(ev)

	got = messages.Messages(conv.ID)
	require.Len(t, got, 2)
	assert.Equal(t, "deadbeef", got[0].CommitHash)
	assert.Empty(t, got[1].CommitHash)
	assert.False(t, got[1].CanRevert)

	require.NoError(t, err)
	assert.Equal(t, userMsg.ID, got[0].ID)
}

func TestAssociationIgnoresIncompleteEvents(t *testing.T) {
	log := testLogger(t)

	projects := NewProjectService(nil, events.NewBus(), log)
	conversations := NewConversationService(projects, &fakeProvisioner{}, log)
	messages := NewMessageService(&fakePublisher{}, projects, conversations, nil, nil, nil, log)
	assoc := NewAssociationService(messages, conversations, log)

	// Neither of these should panic or associate anything.
	assoc.HandleCommit(model.SyncEvent{Type: model.EventCommitCreated, CommitHash: "abc"})
	assoc.HandleCommit(model.SyncEvent{Type: model.EventCommitCreated, ConversationID: "conv-1"})
}
