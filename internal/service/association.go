package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// AssociationService links newly created commits to the message that
// triggered them. Association is idempotent: a commit hash is applied at
// most once, and replaying an event for an already associated hash is a
// no-op.
type AssociationService struct {
	messages      *MessageService
	conversations *ConversationService
	logger        *logger.Logger

	mu         sync.Mutex
	associated map[string]bool

	stop func()
	done chan struct{}
}

// NewAssociationService creates a new association service.
func NewAssociationService(messages *MessageService, conversations *ConversationService, log *logger.Logger) *AssociationService {
	return &AssociationService{
		messages:      messages,
		conversations: conversations,
		logger:        log,
		associated:    make(map[string]bool),
	}
}

// Start subscribes to the event bus and applies associations for commit
// events until Stop is called.
func (s *AssociationService) Start(bus *events.Bus) {
	ch, cancel := bus.Subscribe()
	s.stop = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for ev := range ch {
			if ev.Type == model.EventCommitCreated {
				s.HandleCommit(ev)
			}
		}
	}()
}

// Stop unsubscribes from the event bus and waits for the worker to drain.
func (s *AssociationService) Stop() {
	if s.stop != nil {
		s.stop()
		<-s.done
	}
}

// HandleCommit associates a commit with the most recent unassociated user
// message in its conversation.
func (s *AssociationService) HandleCommit(ev model.SyncEvent) {
	if ev.CommitHash == "" || ev.ConversationID == "" {
		return
	}

	s.mu.Lock()
	if s.associated[ev.CommitHash] {
		s.mu.Unlock()
		return
	}
	s.associated[ev.CommitHash] = true
	s.mu.Unlock()

	msgs := s.messages.Messages(ev.ConversationID)
	target := FindAssociationTarget(msgs)
	if target < 0 {
		s.logger.Debug("no association target for commit",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("commit", ev.CommitHash))
		return
	}

	s.messages.AttachCommit(ev.ConversationID, msgs[target].ID, ev.CommitHash)
	s.conversations.RecordCommit(ev.ConversationID, ev.CommitHash)

	s.logger.Info("commit associated",
		zap.String("conversation_id", ev.ConversationID),
		zap.String("message_id", msgs[target].ID),
		zap.String("commit", ev.CommitHash))
}

// FindAssociationTarget scans a conversation's messages from newest to
// oldest and returns the index of the most recent user message that has no
// commit associated yet. The scan stops at the first message that already
// carries a commit hash, since everything older belongs to an earlier
// checkpoint. Returns -1 when no target exists.
func FindAssociationTarget(msgs []model.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].CommitHash != "" {
			return -1
		}
		if msgs[i].Role == model.RoleUser {
			return i
		}
	}
	return -1
}
