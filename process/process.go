// Package process runs one agent process per relayed request and turns its
// stdout into a stream of decoded frames.
//
// The request's session id and prompt always travel as explicit parameters of
// the spawned process (argv, stdin or argv of a per-request script). Nothing
// is passed through shared files or state that another request could see.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/frame"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Request is one prompt for one session.
type Request struct {
	ID        string
	SessionID string
	Prompt    string
}

// ExitStatus is how the process ended.
type ExitStatus struct {
	Code int
	// Signal is set when the process was killed by a signal.
	Signal string
	Err    error
}

func (s ExitStatus) Success() bool { return s.Code == 0 && s.Signal == "" && s.Err == nil }

// AsError converts the status into an abnormal exit error.
func (s ExitStatus) AsError() error {
	return errors.AbnormalExit(s.Code, s.Signal)
}

const (
	readBufferSize = 4096
	stderrTailSize = 4096
	framesBuffer   = 16
)

// Process is a running agent process.
type Process struct {
	req     Request
	backend config.Backend
	cmd     *exec.Cmd
	logger  *zap.Logger

	frames chan frame.Frame
	exit   chan ExitStatus
	done   chan struct{}
	stop   chan struct{}

	script     string
	removeOnce sync.Once
	closeOnce  sync.Once
	stopOnce   sync.Once

	// Read ends of the stdout and stderr pipes.
	pipes     []*os.File
	pipesOnce sync.Once

	stderr *tail
}

// Start spawns the backend's executable for req. It fails with a spawn error
// when the working directory or the executable cannot be reached, and with a
// cancellation error when ctx is done before the process starts.
func Start(ctx context.Context, backend config.Backend, req Request, logger *zap.Logger) (*Process, error) {
	backend = backend.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("backend", backend.Name),
		zap.String("session_id", req.SessionID),
		zap.String("request_id", req.ID),
	)

	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	executable, err := resolve(backend)
	if err != nil {
		return nil, err
	}

	p := &Process{
		req:     req,
		backend: backend,
		logger:  logger,
		frames:  make(chan frame.Frame, framesBuffer),
		exit:    make(chan ExitStatus, 1),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		stderr:  newTail(stderrTailSize),
	}

	var args []string
	switch backend.Delivery {
	case config.DeliveryStdin:
		args = append(args, backend.Args...)
	case config.DeliveryScript:
		script, err := writeScript(backend)
		if err != nil {
			return nil, errors.Spawn(err, "could not write entry script")
		}
		p.script = script
		args = append([]string{script}, Substitute(backend.Args, req)...)
	default:
		args = Substitute(backend.Args, req)
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = backend.WorkingDirectory
	cmd.Env = Environment(os.Environ(), backend.EnvironmentPassthrough, backend.Environment)
	p.cmd = cmd

	// Wait must not depend on the pipes reaching EOF. A grandchild may hold
	// the write ends long after the agent exits.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		p.removeScript()
		return nil, errors.Spawn(err, "could not open stdout")
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdout.Close()
		_ = stdoutW.Close()
		p.removeScript()
		return nil, errors.Spawn(err, "could not open stderr")
	}
	p.pipes = []*os.File{stdout, stderr}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	var stdin io.WriteCloser
	if backend.Delivery == config.DeliveryStdin {
		if stdin, err = cmd.StdinPipe(); err != nil {
			_ = stdoutW.Close()
			_ = stderrW.Close()
			p.closePipes()
			p.removeScript()
			return nil, errors.Spawn(err, "could not open stdin")
		}
	}

	err = cmd.Start()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if err != nil {
		p.closePipes()
		p.removeScript()
		if ctx.Err() != nil {
			return nil, errors.Cancelled(ctx.Err())
		}
		return nil, errors.Spawn(err, "could not start %s", backend.Executable)
	}
	logger.Debug("agent process started", zap.Int("pid", cmd.Process.Pid), zap.String("delivery", string(backend.Delivery)))

	if stdin != nil {
		go p.writeRequest(stdin)
	}

	var g errgroup.Group
	g.Go(func() error { return p.readFrames(stdout) })
	g.Go(func() error { return p.readStderr(stderr) })

	drained := make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			logger.Debug("agent output read failed", zap.Error(err))
		}
		close(p.frames)
		close(drained)
	}()

	go func() {
		status := exitStatus(cmd.Wait())
		logger.Debug("agent process exited",
			zap.Int("code", status.Code),
			zap.String("signal", status.Signal),
		)
		grace := time.NewTimer(backend.ExitGrace)
		select {
		case <-drained:
		case <-grace.C:
			logger.Debug("agent output still open after exit, closing it")
			p.closePipes()
			<-drained
		}
		grace.Stop()
		p.closePipes()
		p.exit <- status
		close(p.done)
	}()

	return p, nil
}

// Frames yields decoded frames in emission order. The channel is closed once
// stdout ends. Nothing follows the first terminal frame.
func (p *Process) Frames() <-chan frame.Frame { return p.frames }

// Exit delivers the exit status once, after Frames has been closed.
func (p *Process) Exit() <-chan ExitStatus { return p.exit }

// Stderr returns the most recent stderr output.
func (p *Process) Stderr() string { return p.stderr.String() }

// ScriptPath is the per-request entry script, empty unless script delivery is used.
func (p *Process) ScriptPath() string { return p.script }

// Terminate kills the process. It is best effort.
func (p *Process) Terminate() {
	if p.cmd.Process == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("could not kill agent process", zap.Error(err))
	}
}

// Close stops frame delivery, gives the process the backend's exit grace to
// finish, kills it otherwise and removes temporary resources. Close is
// idempotent.
func (p *Process) Close() {
	p.closeOnce.Do(func() {
		p.stopOnce.Do(func() { close(p.stop) })
		timer := time.NewTimer(p.backend.ExitGrace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.logger.Debug("agent process still running after exit grace, killing")
			p.Terminate()
			<-p.done
		}
	})
	p.removeScript()
}

func (p *Process) closePipes() {
	p.pipesOnce.Do(func() {
		for _, f := range p.pipes {
			_ = f.Close()
		}
	})
}

func (p *Process) writeRequest(w io.WriteCloser) {
	defer w.Close()
	data, err := json.Marshal(map[string]string{
		"session_id": p.req.SessionID,
		"prompt":     p.req.Prompt,
	})
	if err != nil {
		p.logger.Debug("could not encode request", zap.Error(err))
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		p.logger.Debug("could not write request to stdin", zap.Error(err))
	}
}

func (p *Process) readFrames(r io.Reader) error {
	var (
		re       frame.Reassembler
		terminal bool
		stopped  bool
	)
	deliver := func(line string) {
		if terminal {
			return
		}
		f, ok := frame.Decode(line)
		if !ok {
			p.logger.Debug("ignoring non-protocol line", zap.String("line", line))
			return
		}
		terminal = f.IsTerminal()
		if stopped {
			return
		}
		select {
		case p.frames <- f:
		case <-p.stop:
			stopped = true
		}
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		for line := range re.Lines(buf[:n]) {
			deliver(line)
		}
		if err == io.EOF {
			if line, ok := re.Flush(); ok {
				deliver(line)
			}
			return nil
		}
		if err != nil {
			if line, ok := re.Flush(); ok {
				deliver(line)
			}
			return errors.Wrapf(err, "stdout")
		}
	}
}

func (p *Process) readStderr(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, readBufferSize), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.stderr.Write(line)
		p.logger.Debug("agent stderr", zap.String("line", line))
	}
	if err := scanner.Err(); err != nil {
		// Keep the pipe drained so the process cannot block on a full stderr.
		_, _ = io.Copy(io.Discard, r)
		return errors.Wrapf(err, "stderr")
	}
	return nil
}

func (p *Process) removeScript() {
	if p.script == "" {
		return
	}
	p.removeOnce.Do(func() {
		if err := RemoveFile(p.script); err != nil {
			p.logger.Warn("could not remove entry script", zap.Error(err))
		}
	})
}

// RemoveFile deletes a temporary file. A file that is already gone is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Cleanup(err, "could not remove %s", path)
	}
	return nil
}

// Substitute replaces the session id and prompt placeholders in args.
func Substitute(args []string, req Request) []string {
	r := strings.NewReplacer(
		config.PlaceholderSessionID, req.SessionID,
		config.PlaceholderPrompt, req.Prompt,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// Environment builds a child environment: the variables of parent whose names
// match one of the passthrough glob patterns (all of them when the list is
// empty), then overrides.
func Environment(parent []string, passthrough []string, overrides map[string]string) []string {
	env := make([]string, 0, len(parent)+len(overrides))
	for _, kv := range parent {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, overridden := overrides[name]; overridden {
			continue
		}
		if len(passthrough) > 0 && !matchAny(passthrough, name) {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func writeScript(backend config.Backend) (string, error) {
	f, err := os.CreateTemp(backend.ScriptDir, "panelrelay-*"+backend.ScriptExtension)
	if err != nil {
		return "", err
	}
	path := f.Name()
	_, werr := f.WriteString(backend.Script)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	if err := os.Chmod(path, 0700); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// resolve checks the working directory and finds the executable.
func resolve(backend config.Backend) (string, error) {
	dir := backend.WorkingDirectory
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return "", errors.Spawn(err, "working directory %s is not reachable", dir)
		}
		if !info.IsDir() {
			return "", errors.Spawn(nil, "working directory %s is not a directory", dir)
		}
	}

	executable := backend.Executable
	if dir != "" && !filepath.IsAbs(executable) && strings.ContainsRune(executable, filepath.Separator) {
		executable = filepath.Join(dir, executable)
	}
	path, err := exec.LookPath(executable)
	if err != nil {
		return "", errors.Spawn(err, "executable %s not found", backend.Executable)
	}
	return path, nil
}

func exitStatus(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		state := exitErr.ProcessState
		if code := state.ExitCode(); code >= 0 {
			return ExitStatus{Code: code}
		}
		return ExitStatus{Code: -1, Signal: state.String()}
	}
	return ExitStatus{Code: -1, Err: err}
}
