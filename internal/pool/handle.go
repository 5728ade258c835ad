package pool

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/mattjoyce/pxshell/internal/remote"
	"github.com/mattjoyce/pxshell/internal/render"
	"github.com/mattjoyce/pxshell/internal/tui"
)

// handle tracks one submission across its target engines.
type handle struct {
	id          string
	submittedAt time.Time
	targets     []int
	tasks       []*task
	pool        *Pool

	done        chan struct{}
	outputReady chan struct{}
}

var (
	_ remote.Handle = (*handle)(nil)
	_ tui.Source    = (*handle)(nil)
)

func newHandle(id string, submittedAt time.Time, targets []int, p *Pool) *handle {
	h := &handle{
		id:          id,
		submittedAt: submittedAt,
		targets:     append([]int(nil), targets...),
		pool:        p,
		done:        make(chan struct{}),
		outputReady: make(chan struct{}),
	}
	for _, id := range h.targets {
		h.tasks = append(h.tasks, newTask(id, h.id))
	}
	return h
}

// track closes done once every task finished, then outputReady once every stream drained.
func (h *handle) track() {
	for _, t := range h.tasks {
		<-t.done
	}
	close(h.done)
	for _, t := range h.tasks {
		<-t.outputDone
	}
	close(h.outputReady)
}

func (h *handle) ID() string             { return h.id }
func (h *handle) SubmittedAt() time.Time { return h.submittedAt }

func (h *handle) Targets() []int {
	return append([]int(nil), h.targets...)
}

func (h *handle) Wait(ctx context.Context, deadline time.Time) error {
	return waitUntil(ctx, h.done, time.Until(deadline))
}

func (h *handle) WaitForOutput(ctx context.Context, timeout time.Duration) error {
	return waitUntil(ctx, h.outputReady, timeout)
}

func (h *handle) WaitInteractive(ctx context.Context) error {
	return tui.RunProgress(ctx, h.pool.opts.ProgressOut, h, h.pool.opts.ProgressLabel, h.submittedAt)
}

func (h *handle) Done() bool        { return closed(h.done) }
func (h *handle) OutputReady() bool { return closed(h.outputReady) }

// Progress implements tui.Source.
func (h *handle) Progress() (done, total int) {
	for _, t := range h.tasks {
		if t.isDone() {
			done++
		}
	}
	return done, len(h.tasks)
}

// Finished implements tui.Source.
func (h *handle) Finished() <-chan struct{} {
	return h.done
}

// Get waits for the engines, allows trailing output a moment to arrive and
// returns results in target order.
func (h *handle) Get(ctx context.Context) ([]remote.Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := waitUntil(ctx, h.outputReady, outputSettle); err != nil {
		return nil, err
	}

	results := make([]remote.Result, 0, len(h.tasks))
	failures := map[int]error{}
	for _, t := range h.tasks {
		stdout, stderr, code, err := t.snapshot()
		results = append(results, remote.Result{
			Engine:   t.engine,
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: code,
		})
		if err != nil {
			var ee *remote.EngineError
			if errors.As(err, &ee) {
				withStderr := *ee
				withStderr.Stderr = stderr
				err = &withStderr
			}
			failures[t.engine] = err
		}
	}
	if len(failures) > 0 {
		return results, &remote.CompositeError{Errors: failures}
	}
	return results, nil
}

func (h *handle) DisplayOutputs(w io.Writer, groupBy render.GroupBy) error {
	outputs := make([]render.EngineOutput, 0, len(h.tasks))
	for _, t := range h.tasks {
		stdout, stderr, _, err := t.snapshot()
		outputs = append(outputs, render.EngineOutput{
			Engine: t.engine,
			Stdout: stdout,
			Stderr: stderr,
			Err:    err,
		})
	}
	return render.Display(w, outputs, groupBy)
}

// StreamOutput replays collected output to w, then forwards new lines until stop is called.
func (h *handle) StreamOutput(w io.Writer) (stop func()) {
	printer := render.NewStreamPrinter(w)
	sinks := make([]*sink, len(h.tasks))
	for i, t := range h.tasks {
		sinks[i] = &sink{
			stdout: printer.LineWriter("stdout", t.engine),
			stderr: printer.LineWriter("stderr", t.engine),
		}
		t.attach(sinks[i])
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i, t := range h.tasks {
				t.detach(sinks[i])
				sinks[i].stdout.Flush()
				sinks[i].stderr.Flush()
			}
		})
	}
}

// waitUntil blocks until ch closes, timeout elapses or ctx ends. Only the last returns an error.
func waitUntil(ctx context.Context, ch <-chan struct{}, timeout time.Duration) error {
	if closed(ch) {
		return nil
	}
	if timeout <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
