// Package vcs provides a caching, deduplicating gateway over shell-level
// version-control commands executed through the tool bridge.
package vcs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/bridge"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
	"github.com/forgechat/checkpoint-platform/pkg/metrics"
)

// Author is the commit identity used for automatic commits. Empty fields fall
// back to the environment-level git identity.
type Author struct {
	Name  string
	Email string
}

// Status is the parsed working-tree state of a workspace.
type Status struct {
	HasChanges     bool     `json:"has_changes"`
	StagedFiles    []string `json:"staged_files"`
	UnstagedFiles  []string `json:"unstaged_files"`
	UntrackedFiles []string `json:"untracked_files"`
	CurrentBranch  string   `json:"current_branch"`
}

// Commit is a single parsed log entry.
type Commit struct {
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// AutoCommitOptions control ExecuteAutoCommit.
type AutoCommitOptions struct {
	CommitMessage   string
	ForceCommit     bool
	SkipStatusCheck bool
}

// CommitResult is the outcome of an automatic commit attempt.
type CommitResult struct {
	Success      bool     `json:"success"`
	BranchName   string   `json:"branch_name,omitempty"`
	CommitSHA    string   `json:"commit_sha,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Gateway executes version-control operations through the bridge while
// minimizing redundant calls. Read queries consult per-path TTL caches;
// mutating operations bypass the cache and invalidate the path afterwards.
type Gateway struct {
	bridge bridge.Bridge
	logger *logger.Logger
	author Author
	cache  *commandCache

	// One mutex per workspace path: mutating operations against the same
	// working tree must never interleave.
	mu      sync.Mutex
	pathMus map[string]*sync.Mutex
}

// NewGateway creates a gateway issuing commands through the given bridge.
func NewGateway(b bridge.Bridge, author Author, log *logger.Logger) *Gateway {
	return &Gateway{
		bridge:  b,
		logger:  log,
		author:  author,
		cache:   newCommandCache(nil),
		pathMus: make(map[string]*sync.Mutex),
	}
}

// newGatewayWithClock is used by tests to control TTL expiry.
func newGatewayWithClock(b bridge.Bridge, author Author, log *logger.Logger, now func() time.Time) *Gateway {
	g := NewGateway(b, author, log)
	g.cache = newCommandCache(now)
	return g
}

func (g *Gateway) pathLock(path string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.pathMus[path]
	if !ok {
		m = &sync.Mutex{}
		g.pathMus[path] = m
	}
	return m
}

// run executes a read-only command, consulting the cache unless forceRefresh.
func (g *Gateway) run(ctx context.Context, path, command string, ttl time.Duration, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if result, ok := g.cache.get(path, command); ok {
			metrics.VCSCacheLookups.WithLabelValues("hit").Inc()
			return result, nil
		}
	}
	metrics.VCSCacheLookups.WithLabelValues("miss").Inc()

	result, err := g.exec(ctx, path, command)
	if err != nil {
		return "", err
	}
	g.cache.put(path, command, result, ttl)
	return result, nil
}

// runUncached executes a mutating command and drops all cached queries for
// the path.
func (g *Gateway) runUncached(ctx context.Context, path, command string) (string, error) {
	result, err := g.exec(ctx, path, command)
	g.cache.invalidatePath(path)
	return result, err
}

func (g *Gateway) exec(ctx context.Context, path, command string) (string, error) {
	return g.bridge.ExecuteTool(ctx, "local", bridge.ToolBashCommand, map[string]string{
		"command": command,
		"cwd":     path,
	})
}

// GetStatus returns the parsed working-tree status for a workspace.
func (g *Gateway) GetStatus(ctx context.Context, path string, forceRefresh bool) (*Status, error) {
	out, err := g.run(ctx, path, "git status --porcelain -b", StatusTTL, forceRefresh)
	if err != nil {
		return nil, fmt.Errorf("status failed: %w", err)
	}
	return parseStatus(out), nil
}

// parseStatus reads the short-status-with-branch format line by line.
func parseStatus(out string) *Status {
	st := &Status{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			branch := strings.TrimPrefix(line, "## ")
			if i := strings.Index(branch, "..."); i >= 0 {
				branch = branch[:i]
			}
			st.CurrentBranch = strings.TrimSpace(branch)
			continue
		}
		if len(line) < 3 {
			continue
		}

		x, y := line[0], line[1]
		file := strings.TrimSpace(line[3:])

		if x != ' ' && x != '?' {
			st.StagedFiles = append(st.StagedFiles, file)
		}
		switch {
		case y == '?':
			st.UntrackedFiles = append(st.UntrackedFiles, file)
		case y != ' ':
			st.UnstagedFiles = append(st.UnstagedFiles, file)
		}
	}
	st.HasChanges = len(st.StagedFiles)+len(st.UnstagedFiles)+len(st.UntrackedFiles) > 0
	return st
}

// GetLog returns the most recent limit commits for a workspace.
func (g *Gateway) GetLog(ctx context.Context, path string, limit int, forceRefresh bool) ([]Commit, error) {
	if limit <= 0 {
		limit = 20
	}
	command := fmt.Sprintf("git log -n %d --pretty=format:'%%H|%%an|%%ct|%%s'", limit)
	out, err := g.run(ctx, path, command, LogTTL, forceRefresh)
	if err != nil {
		return nil, fmt.Errorf("log failed: %w", err)
	}
	return parseLog(out), nil
}

// parseLog reads the pipe-delimited one-line-per-commit format. The subject
// is the last field so that pipes inside commit messages survive.
func parseLog(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		epoch, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		commits = append(commits, Commit{
			SHA:       parts[0],
			Author:    parts[1],
			Timestamp: time.Unix(epoch, 0),
			Message:   parts[3],
		})
	}
	return commits
}

// GetCurrentRevision returns the current HEAD revision id.
func (g *Gateway) GetCurrentRevision(ctx context.Context, path string, forceRefresh bool) (string, error) {
	out, err := g.run(ctx, path, "git rev-parse HEAD", RevisionTTL, forceRefresh)
	if err != nil {
		return "", fmt.Errorf("rev-parse failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ListBranches returns all local branch names for a workspace.
func (g *Gateway) ListBranches(ctx context.Context, path string, forceRefresh bool) ([]string, error) {
	out, err := g.run(ctx, path, "git branch --list --format='%(refname:short)'", LogTTL, forceRefresh)
	if err != nil {
		return nil, fmt.Errorf("branch list failed: %w", err)
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// Checkout switches the workspace to the given branch or revision.
func (g *Gateway) Checkout(ctx context.Context, path, ref string) error {
	lock := g.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if out, err := g.runUncached(ctx, path, "git checkout "+shellQuote(ref)); err != nil {
		return fmt.Errorf("checkout failed: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

// CreateBranch creates and checks out a new branch. Used at conversation
// start; the auto-commit path never creates branches.
func (g *Gateway) CreateBranch(ctx context.Context, path, name string) error {
	lock := g.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if out, err := g.runUncached(ctx, path, "git checkout -b "+shellQuote(name)); err != nil {
		return fmt.Errorf("create branch failed: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

// Push pushes the current branch to origin.
func (g *Gateway) Push(ctx context.Context, path string) error {
	lock := g.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if out, err := g.runUncached(ctx, path, "git push origin HEAD"); err != nil {
		return fmt.Errorf("push failed: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

// ExecuteAutoCommit stages all pending changes and commits them to whatever
// branch is currently checked out. It never creates a branch. A workspace
// with no changes yields {Success:false, Error:"No changes to commit"} unless
// ForceCommit is set; that guard short-circuits before any mutation.
func (g *Gateway) ExecuteAutoCommit(ctx context.Context, projectID, conversationID, path string, opts AutoCommitOptions) (*CommitResult, error) {
	lock := g.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	var status *Status
	if !opts.SkipStatusCheck {
		var err error
		status, err = g.GetStatus(ctx, path, opts.ForceCommit)
		if err != nil {
			return &CommitResult{Success: false, Error: err.Error()}, nil
		}
		if !status.HasChanges && !opts.ForceCommit {
			return &CommitResult{Success: false, Error: "No changes to commit"}, nil
		}
	}

	if _, err := g.runUncached(ctx, path, "git add -A"); err != nil {
		metrics.AutoCommitsTotal.WithLabelValues("error").Inc()
		return &CommitResult{Success: false, Error: fmt.Sprintf("stage failed: %v", err)}, nil
	}

	message := opts.CommitMessage
	if message == "" {
		message = fmt.Sprintf("Auto-commit at %s", time.Now().Format("2006-01-02 15:04:05"))
	}

	commitCmd := "git commit -m " + shellQuote(message)
	if g.author.Name != "" && g.author.Email != "" {
		commitCmd = fmt.Sprintf("git -c user.name=%s -c user.email=%s commit -m %s",
			shellQuote(g.author.Name), shellQuote(g.author.Email), shellQuote(message))
	}

	if out, err := g.runUncached(ctx, path, commitCmd); err != nil {
		metrics.AutoCommitsTotal.WithLabelValues("error").Inc()
		return &CommitResult{Success: false, Error: fmt.Sprintf("commit failed: %s", strings.TrimSpace(out))}, nil
	}

	sha, err := g.GetCurrentRevision(ctx, path, true)
	if err != nil {
		return &CommitResult{Success: false, Error: err.Error()}, nil
	}

	branch := ""
	var files []string
	if status != nil {
		branch = status.CurrentBranch
		files = append(files, status.StagedFiles...)
		files = append(files, status.UnstagedFiles...)
		files = append(files, status.UntrackedFiles...)
	} else {
		if st, err := g.GetStatus(ctx, path, true); err == nil {
			branch = st.CurrentBranch
		}
	}

	g.logger.Info("auto-commit created",
		zap.String("project_id", projectID),
		zap.String("conversation_id", conversationID),
		zap.String("branch", branch),
		zap.String("sha", sha),
		zap.Int("files", len(files)),
	)
	metrics.AutoCommitsTotal.WithLabelValues("success").Inc()

	return &CommitResult{
		Success:      true,
		BranchName:   branch,
		CommitSHA:    sha,
		FilesChanged: files,
	}, nil
}

// shellQuote single-quotes a string for the bridge's shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
