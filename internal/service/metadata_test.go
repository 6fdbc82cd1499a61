package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
)

func TestMetadataClientFetch(t *testing.T) {
	meta := model.ProjectMetadata{
		ProjectID:     "p1",
		ProjectName:   "demo",
		TotalBranches: 2,
		TotalCommits:  7,
		Branches: []model.BranchInfo{
			{BranchName: "main", CommitHash: "aaa111", IsMainBranch: true},
			{BranchName: "conversation/abc", CommitHash: "bbb222"},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/projects/p1":
			json.NewEncoder(w).Encode(meta)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewMetadataClient(srv.URL, testLogger(t))

	got, err := client.FetchProjectMetadata(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, meta.TotalCommits, got.TotalCommits)
	assert.Len(t, got.Branches, 2)
}

func TestMetadataClientNotFoundMeansEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewMetadataClient(srv.URL, testLogger(t))

	got, err := client.FetchProjectMetadata(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "missing", got.ProjectID)
	assert.Zero(t, got.TotalBranches)
	assert.Zero(t, got.TotalCommits)
	assert.Empty(t, got.Branches)
}

func TestMetadataClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewMetadataClient(srv.URL, testLogger(t))

	_, err := client.FetchProjectMetadata(context.Background(), "p1")
	require.Error(t, err)
}

func TestRemoteMetadataBuilder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.ProjectMetadata{ProjectID: "p1", TotalCommits: 3})
	}))
	defer srv.Close()

	builder := NewRemoteMetadataBuilder(NewMetadataClient(srv.URL, testLogger(t)))

	got, err := builder.Build("p1", "demo", "/tmp/ignored")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, 3, got.TotalCommits)
}

// fakeBuilder serves a canned projection.
type fakeBuilder struct {
	meta *model.ProjectMetadata
	err  error
}

func (f *fakeBuilder) Build(projectID, projectName, path string) (*model.ProjectMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	meta := *f.meta
	meta.ProjectID = projectID
	meta.ProjectName = projectName
	return &meta, nil
}

// fakeSwitcher records branch switches.
type fakeSwitcher struct {
	mu       sync.Mutex
	switches []string
}

func (f *fakeSwitcher) SwitchToBranch(ctx context.Context, projectID, path, branchName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches = append(f.switches, branchName)
	return nil
}

// fakeCheckout records raw ref checkouts.
type fakeCheckout struct {
	mu   sync.Mutex
	refs []string
}

func (f *fakeCheckout) Checkout(ctx context.Context, path, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	return nil
}

func revertFixture(t *testing.T) (*ProjectService, *ConversationService, *model.Project, *model.Conversation) {
	t.Helper()
	log := testLogger(t)
	ctx := context.Background()

	builder := &fakeBuilder{meta: &model.ProjectMetadata{
		TotalBranches: 2,
		Branches: []model.BranchInfo{
			{BranchName: "main", CommitHash: "aaa111", IsMainBranch: true},
			{BranchName: "conversation/abc", CommitHash: "bbb222"},
		},
	}}

	projects := NewProjectService(builder, events.NewBus(), log)
	project, err := projects.Create(ctx, &model.CreateProjectRequest{
		Name:          "demo",
		WorkspaceRoot: t.TempDir(),
	})
	require.NoError(t, err)

	conversations := NewConversationService(projects, &fakeProvisioner{}, log)
	conv, err := conversations.Create(ctx, project.ID, &model.CreateConversationRequest{Title: "work"})
	require.NoError(t, err)

	return projects, conversations, project, conv
}

func TestRevertPrefersBranchSwitch(t *testing.T) {
	projects, conversations, project, conv := revertFixture(t)
	ctx := context.Background()

	// Seed the metadata projection so the commit can be resolved to a branch.
	require.NoError(t, projects.Generate(ctx, project.ID))
	require.Eventually(t, func() bool {
		return projects.Metadata(project.ID) != nil
	}, time.Second, 10*time.Millisecond)

	switcher := &fakeSwitcher{}
	checkout := &fakeCheckout{}
	orch := NewRevertOrchestrator(projects, conversations, switcher, checkout, testLogger(t))
	orch.pollInterval = 5 * time.Millisecond
	orch.pollTimeout = time.Second

	require.NoError(t, orch.Revert(ctx, project.ID, conv.ID, "bbb222"))

	assert.Equal(t, []string{"conversation/abc"}, switcher.switches)
	assert.Empty(t, checkout.refs)

	got, err := conversations.Get(ctx, project.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationStatusReverted, got.Status)
}

func TestRevertFallsBackToCheckout(t *testing.T) {
	projects, conversations, project, conv := revertFixture(t)
	ctx := context.Background()

	switcher := &fakeSwitcher{}
	checkout := &fakeCheckout{}
	orch := NewRevertOrchestrator(projects, conversations, switcher, checkout, testLogger(t))
	orch.pollInterval = 5 * time.Millisecond
	orch.pollTimeout = time.Second

	// No metadata projection exists yet, so the commit cannot be resolved
	// to a branch tip and the raw hash is checked out instead.
	require.NoError(t, orch.Revert(ctx, project.ID, conv.ID, "ccc333"))

	assert.Empty(t, switcher.switches)
	assert.Equal(t, []string{"ccc333"}, checkout.refs)
}
