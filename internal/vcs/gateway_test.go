package vcs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// fakeBridge records executed commands and serves canned outputs keyed by
// command prefix.
type fakeBridge struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string]string
	errors   map[string]error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		outputs: make(map[string]string),
		errors:  make(map[string]error),
	}
}

func (f *fakeBridge) ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	command := args["command"]
	f.commands = append(f.commands, command)
	for prefix, err := range f.errors {
		if strings.HasPrefix(command, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(command, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeBridge) executed(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func testGateway(t *testing.T, fb *fakeBridge, now func() time.Time) *Gateway {
	t.Helper()
	log, err := logger.NewDevelopment()
	require.NoError(t, err)
	if now == nil {
		now = time.Now
	}
	return newGatewayWithClock(fb, Author{Name: "Checkpoint Bot", Email: "bot@forgechat.dev"}, log, now)
}

func TestParseStatus(t *testing.T) {
	out := strings.Join([]string{
		"## feature/login...origin/feature/login",
		"M  staged.go",
		" M unstaged.go",
		"?? new_file.txt",
		"A  added.go",
		"MM both.go",
	}, "\n")

	st := parseStatus(out)
	assert.Equal(t, "feature/login", st.CurrentBranch)
	assert.True(t, st.HasChanges)
	assert.Equal(t, []string{"staged.go", "added.go", "both.go"}, st.StagedFiles)
	assert.Equal(t, []string{"unstaged.go", "both.go"}, st.UnstagedFiles)
	assert.Equal(t, []string{"new_file.txt"}, st.UntrackedFiles)
}

func TestParseStatusClean(t *testing.T) {
	st := parseStatus("## main")
	assert.Equal(t, "main", st.CurrentBranch)
	assert.False(t, st.HasChanges)
}

func TestParseLog(t *testing.T) {
	out := strings.Join([]string{
		"abc123|Ada|1709990000|Fix the parser",
		"def456|Grace|1709980000|Add pipe | handling",
		"garbage line",
	}, "\n")

	commits := parseLog(out)
	require.Len(t, commits, 2)
	assert.Equal(t, "abc123", commits[0].SHA)
	assert.Equal(t, "Ada", commits[0].Author)
	assert.Equal(t, "Fix the parser", commits[0].Message)
	assert.Equal(t, time.Unix(1709990000, 0), commits[0].Timestamp)
	assert.Equal(t, "Add pipe | handling", commits[1].Message)
}

func TestStatusCacheTTL(t *testing.T) {
	fb := newFakeBridge()
	fb.outputs["git status"] = "## main\nM  a.go"

	current := time.Unix(1_700_000_000, 0)
	gw := testGateway(t, fb, func() time.Time { return current })
	ctx := context.Background()

	_, err := gw.GetStatus(ctx, "/ws", false)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.executed("git status"))

	// Inside the TTL: served from cache.
	current = current.Add(StatusTTL - time.Millisecond)
	_, err = gw.GetStatus(ctx, "/ws", false)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.executed("git status"))

	// Past the TTL: fresh query.
	current = current.Add(2 * time.Millisecond)
	_, err = gw.GetStatus(ctx, "/ws", false)
	require.NoError(t, err)
	assert.Equal(t, 2, fb.executed("git status"))
}

func TestStatusForceRefreshBypassesCache(t *testing.T) {
	fb := newFakeBridge()
	fb.outputs["git status"] = "## main"
	gw := testGateway(t, fb, nil)
	ctx := context.Background()

	_, _ = gw.GetStatus(ctx, "/ws", false)
	_, _ = gw.GetStatus(ctx, "/ws", true)
	assert.Equal(t, 2, fb.executed("git status"))
}

func TestExecuteAutoCommitNoChanges(t *testing.T) {
	fb := newFakeBridge()
	fb.outputs["git status"] = "## main"
	gw := testGateway(t, fb, nil)

	result, err := gw.ExecuteAutoCommit(context.Background(), "p1", "c1", "/ws", AutoCommitOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "No changes to commit", result.Error)
	assert.Equal(t, 0, fb.executed("git commit"), "commit must not be invoked")
	assert.Equal(t, 0, fb.executed("git add"))
}

func TestExecuteAutoCommit(t *testing.T) {
	fb := newFakeBridge()
	fb.outputs["git status"] = "## feature/login\nM  a.go\n?? b.txt"
	fb.outputs["git rev-parse HEAD"] = "deadbeef"
	gw := testGateway(t, fb, nil)

	result, err := gw.ExecuteAutoCommit(context.Background(), "p1", "c1", "/ws", AutoCommitOptions{
		CommitMessage: "checkpoint: tool run",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "deadbeef", result.CommitSHA)
	assert.Equal(t, "feature/login", result.BranchName, "commit lands on the checked-out branch")
	assert.ElementsMatch(t, []string{"a.go", "b.txt"}, result.FilesChanged)

	assert.Equal(t, 1, fb.executed("git add -A"))
	assert.Equal(t, 1, fb.executed("git -c user.name="))
	assert.Equal(t, 0, fb.executed("git checkout"), "auto-commit never creates or switches branches")
}

func TestExecuteAutoCommitInvalidatesCache(t *testing.T) {
	fb := newFakeBridge()
	fb.outputs["git status"] = "## main\nM  a.go"
	fb.outputs["git rev-parse HEAD"] = "cafe01"
	gw := testGateway(t, fb, nil)
	ctx := context.Background()

	_, err := gw.GetStatus(ctx, "/ws", false)
	require.NoError(t, err)

	_, err = gw.ExecuteAutoCommit(ctx, "p1", "c1", "/ws", AutoCommitOptions{ForceCommit: true})
	require.NoError(t, err)

	before := fb.executed("git status")
	_, err = gw.GetStatus(ctx, "/ws", false)
	require.NoError(t, err)
	assert.Equal(t, before+1, fb.executed("git status"), "post-commit status must not come from the stale cache")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s quoted'`, shellQuote("it's quoted"))
}
