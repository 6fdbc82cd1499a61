package autocommit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/internal/vcs"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// TriggerKind identifies the event that may cause an automatic commit.
type TriggerKind string

const (
	TriggerToolExecution TriggerKind = "tool_execution"
	TriggerBuildSuccess  TriggerKind = "build_success"
	TriggerTestSuccess   TriggerKind = "test_success"
	TriggerFileChange    TriggerKind = "file_change"
	TriggerManual        TriggerKind = "manual"
)

// immediate reports whether a trigger kind commits without debounce.
func (k TriggerKind) immediate() bool {
	return k == TriggerBuildSuccess || k == TriggerTestSuccess || k == TriggerManual
}

// Trigger is a candidate auto-commit event for one project.
type Trigger struct {
	Kind           TriggerKind
	ProjectID      string
	ConversationID string
	WorkspacePath  string
	ToolName       string
	Files          []string
}

// CommitGateway is the subset of the version-control gateway the engine
// needs. Narrowed to an interface so tests can substitute fakes.
type CommitGateway interface {
	ExecuteAutoCommit(ctx context.Context, projectID, conversationID, path string, opts vcs.AutoCommitOptions) (*vcs.CommitResult, error)
	Push(ctx context.Context, path string) error
}

// State is the process-wide auto-commit state published after each commit.
type State struct {
	LastCommitHash      string
	LastCommitTimestamp time.Time
	LastPushTimestamp   time.Time
}

// projectState tracks per-project pending changes and in-flight work.
// Per project the engine moves Idle -> Debouncing -> Committing -> Idle;
// a skipped decision returns to Idle without committing.
type projectState struct {
	pending    map[string]struct{}
	timer      *time.Timer
	committing bool
	last       Trigger
}

// Engine is the auto-commit decision engine.
type Engine struct {
	cfg        *ConfigStore
	gateway    CommitGateway
	classifier OutcomeClassifier
	bus        *events.Bus
	logger     *logger.Logger

	mu       sync.Mutex
	projects map[string]*projectState
	state    State
	closed   bool
}

// NewEngine creates an auto-commit engine.
func NewEngine(cfg *ConfigStore, gw CommitGateway, classifier OutcomeClassifier, bus *events.Bus, log *logger.Logger) *Engine {
	if classifier == nil {
		classifier = MarkerClassifier{}
	}
	return &Engine{
		cfg:        cfg,
		gateway:    gw,
		classifier: classifier,
		bus:        bus,
		logger:     log,
		projects:   make(map[string]*projectState),
	}
}

func (e *Engine) project(projectID string) *projectState {
	ps, ok := e.projects[projectID]
	if !ok {
		ps = &projectState{pending: make(map[string]struct{})}
		e.projects[projectID] = ps
	}
	return ps
}

// ShouldAutoCommit is the decision function: false when disabled or a commit
// is already processing for the project; true for immediate trigger kinds or
// once the pending-change count meets the configured minimum.
func (e *Engine) ShouldAutoCommit(projectID string, kind TriggerKind) bool {
	cfg := e.cfg.Get()
	if !cfg.Enabled {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ps := e.project(projectID)
	if ps.committing {
		return false
	}
	if kind.immediate() {
		return true
	}
	return len(ps.pending) >= cfg.Conditions.MinimumChanges
}

// HandleToolResult classifies a tool execution and, when it qualifies, feeds
// the engine a trigger. Failed tool runs never trigger commits.
func (e *Engine) HandleToolResult(ctx context.Context, projectID, conversationID, path, toolName, output string) {
	outcome := e.classifier.Classify(toolName, output)
	if outcome == OutcomeFailure {
		return
	}

	trigger := Trigger{
		ProjectID:      projectID,
		ConversationID: conversationID,
		WorkspacePath:  path,
		ToolName:       toolName,
		Files:          ExtractChangedFiles(output),
	}

	switch outcome {
	case OutcomeBuildSuccess:
		trigger.Kind = TriggerBuildSuccess
	case OutcomeTestSuccess:
		trigger.Kind = TriggerTestSuccess
	default:
		trigger.Kind = TriggerToolExecution
	}

	e.HandleTrigger(ctx, trigger)
}

// HandleTrigger processes a trigger event. Immediate kinds execute
// synchronously; file_change and tool_execution debounce, restarting the
// pending timer on every qualifying event.
func (e *Engine) HandleTrigger(ctx context.Context, t Trigger) {
	cfg := e.cfg.Get()
	if !cfg.Enabled {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ps := e.project(t.ProjectID)
	for _, f := range t.Files {
		ps.pending[f] = struct{}{}
	}
	ps.last = t

	if t.Kind.immediate() {
		if ps.committing {
			e.mu.Unlock()
			e.logger.Debug("auto-commit already in progress, skipping trigger",
				zap.String("project_id", t.ProjectID), zap.String("kind", string(t.Kind)))
			return
		}
		ps.committing = true
		e.mu.Unlock()
		e.execute(ctx, t)
		return
	}

	// Debounce: any new qualifying event restarts the pending timer.
	delay := cfg.Conditions.DelayAfterLastChange
	if ps.timer != nil {
		ps.timer.Stop()
	}
	projectID := t.ProjectID
	ps.timer = time.AfterFunc(delay, func() {
		e.debounceFired(projectID)
	})
	e.mu.Unlock()
}

// debounceFired runs when a project's debounce timer elapses. The commit
// decision is re-checked here: a commit may have started during the wait.
func (e *Engine) debounceFired(projectID string) {
	cfg := e.cfg.Get()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ps := e.project(projectID)
	ps.timer = nil
	if ps.committing {
		e.mu.Unlock()
		return
	}
	if len(ps.pending) < cfg.Conditions.MinimumChanges {
		e.mu.Unlock()
		e.logger.Debug("auto-commit skipped, below minimum changes",
			zap.String("project_id", projectID), zap.Int("pending", len(ps.pending)))
		return
	}
	ps.committing = true
	t := ps.last
	e.mu.Unlock()

	e.execute(context.Background(), t)
}

// execute performs the commit. Failures are logged and swallowed: an
// auto-commit must never fail the user's primary action. The caller has
// already set the committing flag.
func (e *Engine) execute(ctx context.Context, t Trigger) {
	defer func() {
		e.mu.Lock()
		e.project(t.ProjectID).committing = false
		e.mu.Unlock()
	}()

	cfg := e.cfg.Get()

	message := fmt.Sprintf("Auto-commit: %s", t.Kind)
	if t.ToolName != "" {
		message = fmt.Sprintf("Auto-commit after %s (%s)", t.ToolName, t.Kind)
	}

	result, err := e.gateway.ExecuteAutoCommit(ctx, t.ProjectID, t.ConversationID, t.WorkspacePath, vcs.AutoCommitOptions{
		CommitMessage: message,
	})
	if err != nil {
		e.logger.Warn("auto-commit failed", zap.String("project_id", t.ProjectID), zap.Error(err))
		return
	}
	if !result.Success {
		e.logger.Debug("auto-commit skipped",
			zap.String("project_id", t.ProjectID), zap.String("reason", result.Error))
		return
	}

	now := time.Now()
	e.mu.Lock()
	ps := e.project(t.ProjectID)
	ps.pending = make(map[string]struct{})
	e.state.LastCommitHash = result.CommitSHA
	e.state.LastCommitTimestamp = now
	e.mu.Unlock()

	e.bus.Publish(model.SyncEvent{
		Type:           model.EventCommitCreated,
		ProjectID:      t.ProjectID,
		ConversationID: t.ConversationID,
		BranchName:     result.BranchName,
		CommitHash:     result.CommitSHA,
		Timestamp:      now,
	})

	if cfg.AutoPushToRemote {
		if err := e.gateway.Push(ctx, t.WorkspacePath); err != nil {
			e.logger.Warn("auto-push failed", zap.String("project_id", t.ProjectID), zap.Error(err))
		} else {
			e.mu.Lock()
			e.state.LastPushTimestamp = time.Now()
			e.mu.Unlock()
		}
	}
}

// State returns a snapshot of the process-wide auto-commit state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PendingCount returns the number of pending changed files for a project.
func (e *Engine) PendingCount(projectID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.project(projectID).pending)
}

// ResetPending clears the pending change set for a project.
func (e *Engine) ResetPending(projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.project(projectID).pending = make(map[string]struct{})
}

// Close stops all debounce timers. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, ps := range e.projects {
		if ps.timer != nil {
			ps.timer.Stop()
			ps.timer = nil
		}
	}
}
