package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

func testBridge(t *testing.T) *LocalBridge {
	t.Helper()
	log, err := logger.NewDevelopment()
	require.NoError(t, err)
	return NewLocalBridge(log)
}

func TestLocalBridgeExecute(t *testing.T) {
	b := testBridge(t)

	out, err := b.ExecuteTool(context.Background(), "local", ToolBashCommand, map[string]string{
		"command": "echo hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestLocalBridgeWorkingDirectory(t *testing.T) {
	b := testBridge(t)
	dir := t.TempDir()

	out, err := b.ExecuteTool(context.Background(), "local", ToolBashCommand, map[string]string{
		"command": "pwd",
		"cwd":     dir,
	})
	require.NoError(t, err)
	assert.Contains(t, out, dir)
}

func TestLocalBridgeErrors(t *testing.T) {
	b := testBridge(t)
	ctx := context.Background()

	_, err := b.ExecuteTool(ctx, "local", "UnknownTool", nil)
	assert.Error(t, err)

	_, err = b.ExecuteTool(ctx, "local", ToolBashCommand, map[string]string{})
	assert.Error(t, err)

	// Failure output is preserved in the error for callers to classify.
	_, err = b.ExecuteTool(ctx, "local", ToolBashCommand, map[string]string{
		"command": "echo oops >&2; exit 3",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}
