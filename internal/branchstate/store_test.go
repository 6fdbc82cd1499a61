package branchstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/internal/vcs"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

type fakeBranchGateway struct {
	mu        sync.Mutex
	branch    string
	branches  []string
	checkouts []string
	blockCk   chan struct{}
	ckErr     error
}

func (f *fakeBranchGateway) GetStatus(ctx context.Context, path string, forceRefresh bool) (*vcs.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &vcs.Status{CurrentBranch: f.branch}, nil
}

func (f *fakeBranchGateway) ListBranches(ctx context.Context, path string, forceRefresh bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches, nil
}

func (f *fakeBranchGateway) Checkout(ctx context.Context, path, ref string) error {
	if f.blockCk != nil {
		<-f.blockCk
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ckErr != nil {
		return f.ckErr
	}
	f.checkouts = append(f.checkouts, ref)
	f.branch = ref
	return nil
}

func (f *fakeBranchGateway) checkoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checkouts)
}

func testStore(t *testing.T, gw BranchGateway) (*Store, *events.Bus) {
	t.Helper()
	log, err := logger.NewDevelopment()
	require.NoError(t, err)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	s := NewStore(gw, bus, log)
	t.Cleanup(s.Close)
	return s, bus
}

func TestCurrentBranchDefault(t *testing.T) {
	s, _ := testStore(t, &fakeBranchGateway{})
	assert.Equal(t, "main", s.CurrentBranch("never-seen"))
}

func TestRefreshCurrentBranch(t *testing.T) {
	gw := &fakeBranchGateway{branch: "conversation/abc"}
	s, bus := testStore(t, gw)

	ch, cancel := bus.Subscribe()
	defer cancel()

	branch, err := s.RefreshCurrentBranch(context.Background(), "p1", "/ws")
	require.NoError(t, err)
	assert.Equal(t, "conversation/abc", branch)
	assert.Equal(t, "conversation/abc", s.CurrentBranch("p1"))

	ev := <-ch
	assert.Equal(t, model.EventNewBranchDetected, ev.Type)
	assert.Equal(t, "conversation/abc", ev.BranchName)
}

func TestSwitchToBranch(t *testing.T) {
	gw := &fakeBranchGateway{branch: "main"}
	s, bus := testStore(t, gw)

	ch, cancel := bus.Subscribe()
	defer cancel()

	err := s.SwitchToBranch(context.Background(), "p1", "/ws", "feature/x")
	require.NoError(t, err)
	assert.Equal(t, "feature/x", s.CurrentBranch("p1"))
	assert.False(t, s.State("p1").IsSwitching, "switching flag cleared on success")

	ev := <-ch
	assert.Equal(t, model.EventBranchSwitched, ev.Type)
	assert.Equal(t, "p1", ev.ProjectID)
	assert.Equal(t, "feature/x", ev.BranchName)
}

func TestSwitchToBranchFailure(t *testing.T) {
	gw := &fakeBranchGateway{ckErr: errors.New("pathspec did not match")}
	s, bus := testStore(t, gw)

	ch, cancel := bus.Subscribe()
	defer cancel()

	err := s.SwitchToBranch(context.Background(), "p1", "/ws", "missing")
	require.Error(t, err)
	assert.Equal(t, "main", s.CurrentBranch("p1"), "failed switch must not update the branch")
	assert.False(t, s.State("p1").IsSwitching, "switching flag cleared on failure")

	ev := <-ch
	assert.Equal(t, model.EventBranchSwitchFailed, ev.Type)
}

func TestAtMostOneSwitchInFlight(t *testing.T) {
	gw := &fakeBranchGateway{blockCk: make(chan struct{})}
	s, _ := testStore(t, gw)

	first := make(chan error, 1)
	go func() {
		first <- s.SwitchToBranch(context.Background(), "p1", "/ws", "feature/a")
	}()

	require.Eventually(t, func() bool { return s.State("p1").IsSwitching },
		time.Second, time.Millisecond)

	// Second switch for the same project is rejected, never interleaved.
	err := s.SwitchToBranch(context.Background(), "p1", "/ws", "feature/b")
	assert.ErrorIs(t, err, ErrSwitchInProgress)

	// A different project is independent.
	gw2 := &fakeBranchGateway{}
	s2, _ := testStore(t, gw2)
	require.NoError(t, s2.SwitchToBranch(context.Background(), "p2", "/ws2", "feature/c"))

	close(gw.blockCk)
	require.NoError(t, <-first)
	assert.Equal(t, 1, gw.checkoutCount())
}

func TestListProjectBranches(t *testing.T) {
	gw := &fakeBranchGateway{branches: []string{"main", "conversation/abc", "auto/2025-03-09-14-05"}}
	s, _ := testStore(t, gw)

	branches, err := s.ListProjectBranches(context.Background(), "p1", "/ws")
	require.NoError(t, err)
	assert.Len(t, branches, 3)
	assert.Equal(t, branches, s.CachedBranches("p1"))
	assert.Equal(t, "main", s.CurrentBranch("p1"), "listing must not mutate currentBranch")
}

func TestAutoRefresh(t *testing.T) {
	gw := &fakeBranchGateway{branch: "main"}
	s, _ := testStore(t, gw)

	s.StartAutoRefresh("p1", "/ws", 10*time.Millisecond)

	gw.mu.Lock()
	gw.branch = "feature/poll"
	gw.mu.Unlock()

	require.Eventually(t, func() bool { return s.CurrentBranch("p1") == "feature/poll" },
		time.Second, 5*time.Millisecond)

	s.StopAutoRefresh("p1")
}
