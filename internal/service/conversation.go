package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/branchname"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// ErrConversationNotFound is returned when a conversation does not exist.
var ErrConversationNotFound = fmt.Errorf("conversation not found")

// BranchProvisioner creates and checks out workspace branches.
type BranchProvisioner interface {
	CreateBranch(ctx context.Context, path, name string) error
}

// ConversationService handles conversation operations. Each conversation is
// provisioned its own workspace branch so that commits produced while the
// conversation is active stay isolated from other conversations.
type ConversationService struct {
	projects    *ProjectService
	provisioner BranchProvisioner
	logger      *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*model.Conversation
}

// NewConversationService creates a new conversation service.
func NewConversationService(projects *ProjectService, provisioner BranchProvisioner, log *logger.Logger) *ConversationService {
	return &ConversationService{
		projects:      projects,
		provisioner:   provisioner,
		logger:        log,
		conversations: make(map[string]*model.Conversation),
	}
}

// Create creates a new conversation and provisions its workspace branch.
func (s *ConversationService) Create(ctx context.Context, projectID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ProjectID: projectID,
		Title:     req.Title,
		Status:    model.ConversationStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	conv.BranchName = "conversation/" + branchname.Sanitize(conv.ID)

	if err := s.provisioner.CreateBranch(ctx, project.WorkspaceRoot, conv.BranchName); err != nil {
		return nil, fmt.Errorf("failed to provision conversation branch: %w", err)
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("project_id", projectID),
		zap.String("branch", conv.BranchName))

	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, projectID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	conv, exists := s.conversations[conversationID]
	s.mu.RUnlock()

	if !exists || conv.ProjectID != projectID || conv.Deleted {
		return nil, ErrConversationNotFound
	}

	return conv, nil
}

// List retrieves conversations for a project.
func (s *ConversationService) List(ctx context.Context, projectID string, limit, offset int) (*model.ListConversationsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.ProjectID == projectID && !conv.Deleted {
			convs = append(convs, *conv)
		}
	}

	// Simple pagination
	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListConversationsResponse{
		Conversations: convs[start:end],
		Total:         total,
		HasMore:       end < total,
	}, nil
}

// Update updates a conversation.
func (s *ConversationService) Update(ctx context.Context, projectID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.ProjectID != projectID {
		return nil, ErrConversationNotFound
	}

	if req.Title != "" {
		conv.Title = req.Title
	}
	conv.UpdatedAt = time.Now()

	return conv, nil
}

// Delete soft deletes a conversation.
func (s *ConversationService) Delete(ctx context.Context, projectID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.ProjectID != projectID {
		return ErrConversationNotFound
	}

	conv.Deleted = true
	conv.UpdatedAt = time.Now()

	return nil
}

// UpdateLastMessage records the latest message on a conversation.
func (s *ConversationService) UpdateLastMessage(ctx context.Context, projectID, conversationID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.ProjectID != projectID {
		return ErrConversationNotFound
	}

	conv.LastMessage = msg
	conv.MessageCount++
	conv.UpdatedAt = time.Now()

	return nil
}

// SetTitle updates the conversation title if it is still empty.
func (s *ConversationService) SetTitle(conversationID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.Title != "" {
		return
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
}

// RecordCommit stores the most recent commit hash on a conversation.
func (s *ConversationService) RecordCommit(conversationID, commitHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, exists := s.conversations[conversationID]; exists {
		conv.CommitHash = commitHash
		conv.UpdatedAt = time.Now()
	}
}

// MarkReverted flags a conversation as reverted to an earlier checkpoint.
func (s *ConversationService) MarkReverted(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, exists := s.conversations[conversationID]; exists {
		conv.Status = model.ConversationStatusReverted
		conv.UpdatedAt = time.Now()
	}
}

// BranchFor returns the workspace branch name for a conversation.
func (s *ConversationService) BranchFor(conversationID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, exists := s.conversations[conversationID]; exists {
		return conv.BranchName
	}
	return ""
}
