package bridge

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// ToolBashCommand is the tool name for shell command execution.
const ToolBashCommand = "BashCommand"

// LocalBridge executes tools as local shell commands. It is the default
// execution bridge for single-process deployments; the version-control
// gateway issues all of its git commands through it.
type LocalBridge struct {
	logger *logger.Logger
}

// NewLocalBridge creates a local command-execution bridge.
func NewLocalBridge(log *logger.Logger) *LocalBridge {
	return &LocalBridge{logger: log}
}

// ExecuteTool runs the named tool. Only BashCommand is supported locally;
// args["command"] is the shell command and args["cwd"] the working directory.
func (b *LocalBridge) ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]string) (string, error) {
	switch toolName {
	case ToolBashCommand, "bash":
	default:
		return "", fmt.Errorf("unknown tool %q", toolName)
	}

	command := args["command"]
	if command == "" {
		return "", fmt.Errorf("command argument required")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if cwd := args["cwd"]; cwd != "" {
		cmd.Dir = cwd
	}

	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")
	if err != nil {
		b.logger.Debug("bridge command failed",
			zap.String("command", command),
			zap.String("output", output),
			zap.Error(err),
		)
		return output, fmt.Errorf("%s: %w: %s", toolName, err, output)
	}

	return output, nil
}
