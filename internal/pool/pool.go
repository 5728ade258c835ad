// Package pool runs shell engines as local subprocess groups.
//
// Each engine executes one command at a time in its own working directory.
// A command is started as `<shell> -c <code>` in a fresh process group so that
// signals reach everything it spawned. Submissions never block: Execute returns
// a handle immediately and the work proceeds in the background.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/remote"
	"github.com/mattjoyce/pxshell/internal/workspace"
)

var (
	// ErrUnknownEngine is returned when a submission or signal names an engine outside the pool.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrNoTargets is returned when a submission resolves to no engines.
	ErrNoTargets = errors.New("no target engines")
	// ErrClosed is returned once the pool has been closed.
	ErrClosed = errors.New("engine pool is closed")
)

const (
	defaultKillGrace = 5 * time.Second
	// outputSettle bounds how long Get waits for trailing output after the engines finish.
	outputSettle = time.Second
)

// Options configures a Pool.
type Options struct {
	Engines   int
	Shell     string
	Env       map[string]string
	KillGrace time.Duration
	// Workspaces provides per-engine working directories. nil runs every engine in
	// the current directory.
	Workspaces workspace.Manager
	// ProgressOut receives the interactive progress view. Defaults to os.Stderr.
	ProgressOut   io.Writer
	ProgressLabel string
}

// EngineStatus is a point-in-time view of one engine.
type EngineStatus struct {
	ID        int    `json:"id"`
	Dir       string `json:"dir,omitempty"`
	Busy      bool   `json:"busy"`
	Completed int64  `json:"completed"`
}

// Pool is a fixed set of local engines.
type Pool struct {
	opts    Options
	ids     []int
	engines map[int]*engine
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var (
	_ remote.View         = (*Pool)(nil)
	_ remote.SignalSender = (*Pool)(nil)
)

// New creates a pool with opts.Engines engines numbered from zero.
func New(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Engines < 1 {
		return nil, fmt.Errorf("pool needs at least one engine, got %d", opts.Engines)
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.ProgressOut == nil {
		opts.ProgressOut = os.Stderr
	}
	if opts.ProgressLabel == "" {
		opts.ProgressLabel = "%px"
	}

	logger := log.WithComponent("pool")

	if opts.Workspaces != nil {
		report, err := opts.Workspaces.Prune(ctx, opts.Engines)
		if err != nil {
			return nil, fmt.Errorf("prune engine workspaces: %w", err)
		}
		if report.DeletedDirs > 0 {
			logger.Info("removed stale engine workspaces", "count", report.DeletedDirs)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:    opts,
		ids:     make([]int, 0, opts.Engines),
		engines: make(map[int]*engine, opts.Engines),
		logger:  logger,
		ctx:     runCtx,
		cancel:  cancel,
	}

	for id := 0; id < opts.Engines; id++ {
		e := &engine{id: id, sem: make(chan struct{}, 1)}
		if opts.Workspaces != nil {
			ws, err := opts.Workspaces.Ensure(ctx, id)
			if err != nil {
				cancel()
				return nil, fmt.Errorf("prepare engine %d: %w", id, err)
			}
			e.dir = ws.Dir
		}
		p.ids = append(p.ids, id)
		p.engines[id] = e
	}

	logger.Info("engine pool started", "engines", opts.Engines, "shell", opts.Shell)
	return p, nil
}

// IDs returns the engine ids in ascending order.
func (p *Pool) IDs() []int {
	out := make([]int, len(p.ids))
	copy(out, p.ids)
	return out
}

// Execute submits code to every target engine and returns without waiting.
// Engines busy with an earlier command run this one once they are free.
func (p *Pool) Execute(ctx context.Context, code string, targets []int) (remote.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if err := p.checkTargets(targets); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	h := newHandle(uuid.NewString(), time.Now(), targets, p)
	logger := log.WithSubmission(h.id)
	logger.Debug("submitting command", "targets", targets)

	for _, t := range h.tasks {
		p.running.Add(1)
		go p.run(p.engines[t.engine], t, code)
	}
	go h.track()

	return h, nil
}

// Status reports every engine in id order.
func (p *Pool) Status() []EngineStatus {
	out := make([]EngineStatus, 0, len(p.ids))
	for _, id := range p.ids {
		e := p.engines[id]
		out = append(out, EngineStatus{
			ID:        id,
			Dir:       e.dir,
			Busy:      e.runningPgid() != 0,
			Completed: e.completed.Load(),
		})
	}
	return out
}

// Close stops accepting work, terminates running commands and waits for them.
// Commands get SIGTERM first and SIGKILL once KillGrace has passed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.signalAll(syscall.SIGTERM)

	finished := make(chan struct{})
	go func() {
		p.running.Wait()
		close(finished)
	}()

	grace := time.NewTimer(p.opts.KillGrace)
	defer grace.Stop()

	select {
	case <-finished:
	case <-grace.C:
		p.logger.Warn("engines did not exit after SIGTERM, sending SIGKILL")
		p.signalAll(syscall.SIGKILL)
		<-finished
	}

	p.logger.Info("engine pool stopped")
	return nil
}

func (p *Pool) signalAll(sig syscall.Signal) {
	for _, id := range p.ids {
		if pgid := p.engines[id].runningPgid(); pgid != 0 {
			if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
				p.logger.Error("failed to signal engine", "engine", id, "signal", sig.String(), "error", err)
			}
		}
	}
}

func (p *Pool) checkTargets(targets []int) error {
	for _, id := range targets {
		if _, ok := p.engines[id]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownEngine, id)
		}
	}
	return nil
}

// environ is the environment of a command on engine id.
func (p *Pool) environ(id int) []string {
	env := os.Environ()
	keys := make([]string, 0, len(p.opts.Env))
	for k := range p.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.opts.Env[k])
	}
	return append(env,
		"PX_ENGINE_ID="+strconv.Itoa(id),
		"PX_ENGINE_COUNT="+strconv.Itoa(len(p.ids)),
	)
}
