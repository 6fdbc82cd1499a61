// Package bridge defines the tool-execution contract used for both
// user-facing tools and internal version-control shell commands.
package bridge

import (
	"context"
)

// Bridge executes a named tool with string arguments and returns its raw
// textual result. Implementations may be local command executors or remote
// RPC services; errors represent execution failure, not tool-level failure
// markers in the output.
type Bridge interface {
	ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]string) (string, error)
}
