// Package projection builds the server-held JSON view of a project's
// version-control history consumed by the checkpoint manager.
package projection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// maxHistoryDepth bounds how far Build walks when counting commits.
const maxHistoryDepth = 1000

// Builder derives ProjectMetadata from a workspace's repository. The
// resulting data is read-only derived state, rebuilt on demand.
type Builder struct {
	logger *logger.Logger
}

// NewBuilder creates a projection builder.
func NewBuilder(log *logger.Logger) *Builder {
	return &Builder{logger: log}
}

// Build walks all local branches of the repository at path and produces the
// metadata projection for the project.
func (b *Builder) Build(projectID, projectName, path string) (*model.ProjectMetadata, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	tags := b.tagIndex(repo)

	meta := &model.ProjectMetadata{
		ProjectID:   projectID,
		ProjectName: projectName,
	}

	branches, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer branches.Close()

	err = branches.ForEach(func(ref *plumbing.Reference) error {
		info, err := b.branchInfo(repo, ref, tags)
		if err != nil {
			b.logger.Debug("skipping unreadable branch",
				zap.String("branch", ref.Name().Short()), zap.Error(err))
			return nil
		}
		meta.Branches = append(meta.Branches, *info)
		if info.Timestamp.After(meta.LastActivity) {
			meta.LastActivity = info.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk branches: %w", err)
	}

	sort.Slice(meta.Branches, func(i, j int) bool {
		return meta.Branches[i].Timestamp.After(meta.Branches[j].Timestamp)
	})

	meta.TotalBranches = len(meta.Branches)
	meta.TotalCommits = b.countCommits(repo)
	return meta, nil
}

func (b *Builder) branchInfo(repo *git.Repository, ref *plumbing.Reference, tags map[plumbing.Hash][]string) (*model.BranchInfo, error) {
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, err
	}

	name := ref.Name().Short()
	info := &model.BranchInfo{
		BranchName:    name,
		CommitHash:    commit.Hash.String(),
		CommitMessage: firstLine(commit.Message),
		Timestamp:     commit.Committer.When,
		IsMainBranch:  name == "main" || name == "master",
		Tags:          tags[commit.Hash],
	}

	stats, err := commit.Stats()
	if err == nil {
		for _, fs := range stats {
			info.FilesChanged = append(info.FilesChanged, fs.Name)
			info.LinesAdded += fs.Addition
			info.LinesRemoved += fs.Deletion
		}
	}
	return info, nil
}

// tagIndex maps commit hashes to tag names.
func (b *Builder) tagIndex(repo *git.Repository) map[plumbing.Hash][]string {
	index := make(map[plumbing.Hash][]string)
	iter, err := repo.Tags()
	if err != nil {
		return index
	}
	defer iter.Close()

	_ = iter.ForEach(func(ref *plumbing.Reference) error {
		hash := ref.Hash()
		if tag, err := repo.TagObject(hash); err == nil {
			hash = tag.Target
		}
		index[hash] = append(index[hash], ref.Name().Short())
		return nil
	})
	return index
}

func (b *Builder) countCommits(repo *git.Repository) int {
	iter, err := repo.Log(&git.LogOptions{All: true})
	if err != nil {
		return 0
	}
	defer iter.Close()

	count := 0
	_ = iter.ForEach(func(*object.Commit) error {
		count++
		if count >= maxHistoryDepth {
			return fmt.Errorf("depth limit")
		}
		return nil
	})
	return count
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
