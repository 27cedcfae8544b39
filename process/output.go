package process

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/errors"
	"go.uber.org/zap"
)

// Output runs the backend's executable once with args (placeholders
// substituted from req) and returns its stdout. It is used for agent commands
// that answer with a document instead of a frame stream, such as history
// queries. A non-zero exit is an abnormal exit error.
func Output(ctx context.Context, backend config.Backend, req Request, args []string, logger *zap.Logger) ([]byte, error) {
	backend = backend.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	executable, err := resolve(backend)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, executable, Substitute(args, req)...)
	cmd.Dir = backend.WorkingDirectory
	cmd.Env = Environment(os.Environ(), backend.EnvironmentPassthrough, backend.Environment)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = backend.ExitGrace

	if err := cmd.Start(); err != nil {
		return nil, errors.Spawn(err, "could not start %s", backend.Executable)
	}
	err = cmd.Wait()
	if stderr.Len() > 0 {
		logger.Debug("agent stderr",
			zap.String("session_id", req.SessionID),
			zap.String("stderr", stderr.String()),
		)
	}
	if ctx.Err() != nil {
		return nil, errors.Cancelled(ctx.Err())
	}
	if status := exitStatus(err); !status.Success() {
		return nil, status.AsError()
	}
	return stdout.Bytes(), nil
}
