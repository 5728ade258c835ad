package pool

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/remote"
	"github.com/mattjoyce/pxshell/internal/render"
)

// engine is one serial executor. sem admits a single command at a time.
type engine struct {
	id        int
	dir       string
	sem       chan struct{}
	completed atomic.Int64

	mu   sync.Mutex
	pgid int
}

func (e *engine) setRunning(pgid int) {
	e.mu.Lock()
	e.pgid = pgid
	e.mu.Unlock()
}

func (e *engine) runningPgid() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pgid
}

// run executes code for t once the engine is free.
func (p *Pool) run(e *engine, t *task, code string) {
	defer p.running.Done()

	select {
	case e.sem <- struct{}{}:
	case <-p.ctx.Done():
		t.fail(e.id, ErrClosed)
		return
	}
	defer func() { <-e.sem }()
	if p.ctx.Err() != nil {
		t.fail(e.id, ErrClosed)
		return
	}

	logger := log.WithEngine(e.id).With("submission_id", t.submission)

	cmd := exec.Command(p.opts.Shell, "-c", code)
	cmd.Dir = e.dir
	cmd.Env = p.environ(e.id)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outR, outW, err := os.Pipe()
	if err != nil {
		t.fail(e.id, fmt.Errorf("create stdout pipe: %w", err))
		return
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		t.fail(e.id, fmt.Errorf("create stderr pipe: %w", err))
		return
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			f.Close()
		}
		t.fail(e.id, fmt.Errorf("start process: %w", err))
		return
	}
	// The child holds its own copies; output is complete once every holder exits.
	outW.Close()
	errW.Close()
	e.setRunning(cmd.Process.Pid)
	logger.Debug("command started", "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go t.drain(outR, false, &readers)
	go t.drain(errR, true, &readers)
	go func() {
		readers.Wait()
		t.closeOutput()
	}()

	waitErr := cmd.Wait()
	e.setRunning(0)
	e.completed.Add(1)

	exitCode, engErr := exitStatus(e.id, cmd.ProcessState, waitErr)
	if engErr != nil {
		logger.Debug("command failed", "exit_code", exitCode, "error", engErr)
	} else {
		logger.Debug("command finished")
	}
	t.finish(exitCode, engErr)
}

// exitStatus converts the process outcome into an exit code and, on failure, an *EngineError.
func exitStatus(id int, state *os.ProcessState, waitErr error) (int, error) {
	if state == nil {
		return -1, &remote.EngineError{Engine: id, ExitCode: -1, Err: waitErr}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, &remote.EngineError{Engine: id, ExitCode: -1, Err: fmt.Errorf("terminated by %s", ws.Signal())}
	}
	code := state.ExitCode()
	if code != 0 {
		return code, &remote.EngineError{Engine: id, ExitCode: code}
	}
	return 0, nil
}

// sink receives a task's output as it arrives.
type sink struct {
	stdout *render.LineWriter
	stderr *render.LineWriter
}

// task is one engine's share of a submission.
type task struct {
	engine     int
	submission string

	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	sinks    []*sink
	exitCode int
	err      error

	done       chan struct{}
	outputDone chan struct{}
	outputOnce sync.Once
}

func newTask(engine int, submission string) *task {
	return &task{
		engine:     engine,
		submission: submission,
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
	}
}

func (t *task) drain(r io.ReadCloser, stderr bool, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.append(stderr, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (t *task) append(stderr bool, p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stderr {
		t.stderr.Write(p)
	} else {
		t.stdout.Write(p)
	}
	for _, s := range t.sinks {
		if stderr {
			_, _ = s.stderr.Write(p)
		} else {
			_, _ = s.stdout.Write(p)
		}
	}
}

// attach replays what has been collected so far into s and subscribes it to the rest.
func (t *task) attach(s *sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdout.Len() > 0 {
		_, _ = s.stdout.Write(t.stdout.Bytes())
	}
	if t.stderr.Len() > 0 {
		_, _ = s.stderr.Write(t.stderr.Bytes())
	}
	t.sinks = append(t.sinks, s)
}

func (t *task) detach(s *sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.sinks {
		if cur == s {
			t.sinks = append(t.sinks[:i], t.sinks[i+1:]...)
			return
		}
	}
}

func (t *task) finish(code int, err error) {
	t.mu.Lock()
	t.exitCode = code
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

func (t *task) fail(engine int, err error) {
	t.finish(-1, &remote.EngineError{Engine: engine, ExitCode: -1, Err: err})
	t.closeOutput()
}

func (t *task) closeOutput() {
	t.outputOnce.Do(func() { close(t.outputDone) })
}

func (t *task) isDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// snapshot returns the collected output and outcome.
func (t *task) snapshot() (stdout, stderr string, code int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stdout.String(), t.stderr.String(), t.exitCode, t.err
}
