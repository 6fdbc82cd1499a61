package projection

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func commitFile(t *testing.T, dir string, repo *git.Repository, name, content, message string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "Tester", Email: "tester@forgechat.dev", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestBuild(t *testing.T) {
	dir, repo := initRepo(t)
	log, err := logger.NewDevelopment()
	require.NoError(t, err)

	first := commitFile(t, dir, repo, "a.txt", "one\ntwo\n", "Initial commit")
	second := commitFile(t, dir, repo, "b.txt", "hello\n", "Add b.txt\n\nBody text")

	b := NewBuilder(log)
	meta, err := b.Build("p1", "demo", dir)
	require.NoError(t, err)

	assert.Equal(t, "p1", meta.ProjectID)
	assert.Equal(t, "demo", meta.ProjectName)
	assert.Equal(t, 1, meta.TotalBranches)
	assert.Equal(t, 2, meta.TotalCommits)
	assert.False(t, meta.LastActivity.IsZero())

	require.Len(t, meta.Branches, 1)
	branch := meta.Branches[0]
	assert.Equal(t, second, branch.CommitHash)
	assert.Equal(t, "Add b.txt", branch.CommitMessage, "message truncated to first line")
	assert.True(t, branch.IsMainBranch)
	assert.Equal(t, []string{"b.txt"}, branch.FilesChanged)
	assert.Equal(t, 1, branch.LinesAdded)
	assert.Equal(t, 0, branch.LinesRemoved)

	_ = first
}

func TestBuildMissingRepo(t *testing.T) {
	log, err := logger.NewDevelopment()
	require.NoError(t, err)

	_, err = NewBuilder(log).Build("p1", "demo", t.TempDir())
	assert.Error(t, err)
}
