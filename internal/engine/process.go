package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ScriptPrefix starts the name of every script file the executor writes.
// The sweeper relies on it to find orphans.
const ScriptPrefix = "run-"

// SystemFault is an infrastructure failure (cannot write the script, cannot
// start the interpreter). Repairing the script cannot fix it.
type SystemFault struct {
	Op  string
	Err error
}

func (e *SystemFault) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *SystemFault) Unwrap() error { return e.Err }

type ExecutorConfig struct {
	Interpreter  string
	Args         []string
	ScriptDir    string
	ScriptExt    string
	Timeout      time.Duration
	MaxLineBytes int
	Env          []string
}

// Executor writes scripts to disk and runs them as child processes.
type Executor struct {
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.ScriptDir == "" {
		cfg.ScriptDir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Executor{cfg: cfg}
}

func (e *Executor) Timeout() time.Duration { return e.cfg.Timeout }

// WriteScript persists script to a freshly named file in the script dir.
// The caller removes the file when the attempt is over.
func (e *Executor) WriteScript(runID string, attempt int, script string) (string, error) {
	if err := os.MkdirAll(e.cfg.ScriptDir, 0o755); err != nil {
		return "", &SystemFault{Op: "create script dir", Err: err}
	}

	pattern := fmt.Sprintf("%s%s-%d-*%s", ScriptPrefix, shortID(runID), attempt, e.cfg.ScriptExt)
	f, err := os.CreateTemp(e.cfg.ScriptDir, pattern)
	if err != nil {
		return "", &SystemFault{Op: "create script file", Err: err}
	}

	_, werr := io.WriteString(f, script)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", &SystemFault{Op: "write script file", Err: err}
	}
	return f.Name(), nil
}

// Process is a started child. Drain Lines until it is closed, then call Wait.
type Process struct {
	cmd     *exec.Cmd
	ctx     context.Context
	cancel  context.CancelFunc
	lines   <-chan Line
	started time.Time
}

type ExecutionResult struct {
	ExitCode int
	TimedOut bool
	Err      error // set when Wait failed for a reason other than a non-zero exit
	Duration time.Duration
}

// Start launches the interpreter on path under the executor's wall-clock
// timeout. On expiry the whole process group is killed.
func (e *Executor) Start(ctx context.Context, path string) (*Process, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)

	args := append(append([]string{}, e.cfg.Args...), path)
	cmd := exec.CommandContext(runCtx, e.cfg.Interpreter, args...)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, e.cfg.Env...)
	cmd.WaitDelay = time.Second
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &SystemFault{Op: "open stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, &SystemFault{Op: "open stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &SystemFault{Op: "start interpreter", Err: err}
	}

	return &Process{
		cmd:     cmd,
		ctx:     runCtx,
		cancel:  cancel,
		lines:   Multiplex(stdout, stderr, e.cfg.MaxLineBytes),
		started: time.Now(),
	}, nil
}

func (p *Process) Lines() <-chan Line { return p.lines }

// Wait reaps the child. Lines must have been drained first.
func (p *Process) Wait() ExecutionResult {
	defer p.cancel()

	err := p.cmd.Wait()
	res := ExecutionResult{Duration: time.Since(p.started)}
	if err == nil {
		return res
	}

	if errors.Is(p.ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
		return res
	}

	res.ExitCode = -1
	res.Err = err
	return res
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
