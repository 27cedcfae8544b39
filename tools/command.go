package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/m4xw311/panelrelay/errors"
	"go.uber.org/zap"
)

// ExecuteCommandTool implements the tool for running OS commands.
type ExecuteCommandTool struct {
	allowedCommands []string
	logger          *zap.Logger
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a command. No commands are currently allowed. Args: command (string)."
	}

	var sb strings.Builder
	sb.WriteString("Executes a command without a shell. Args: command (string).\nAllowed command patterns:\n")
	for _, cmd := range t.allowedCommands {
		fmt.Fprintf(&sb, "- %s\n", cmd)
	}
	return sb.String()
}
func (t *ExecuteCommandTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{"command": stringProperty("Command line to run.")}, "command")
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := args["command"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'command' argument")
	}

	logger := t.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !isCommandAllowed(command, t.allowedCommands, logger) {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}
	return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
}
