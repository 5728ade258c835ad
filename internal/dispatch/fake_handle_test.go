package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mattjoyce/pxshell/internal/remote"
	"github.com/mattjoyce/pxshell/internal/render"
)

// fakeHandle finishes duration after submission and has its output ready outputLag later.
type fakeHandle struct {
	id          string
	submittedAt time.Time
	targets     []int
	duration    time.Duration
	outputLag   time.Duration
	getErr      error

	mu            sync.Mutex
	interactive   int
	interactiveAt time.Duration
	displays      []render.GroupBy
	displayAt     time.Duration
	streams       int
	stopped       int
}

var _ remote.Handle = (*fakeHandle)(nil)

func newFakeHandle(id string, targets []int, duration time.Duration) *fakeHandle {
	return &fakeHandle{id: id, submittedAt: time.Now(), targets: targets, duration: duration}
}

func (h *fakeHandle) doneAt() time.Time   { return h.submittedAt.Add(h.duration) }
func (h *fakeHandle) outputAt() time.Time { return h.doneAt().Add(h.outputLag) }

func (h *fakeHandle) ID() string             { return h.id }
func (h *fakeHandle) SubmittedAt() time.Time { return h.submittedAt }
func (h *fakeHandle) Targets() []int         { return h.targets }
func (h *fakeHandle) Done() bool             { return !time.Now().Before(h.doneAt()) }
func (h *fakeHandle) OutputReady() bool      { return !time.Now().Before(h.outputAt()) }

func (h *fakeHandle) Wait(ctx context.Context, deadline time.Time) error {
	return sleepUntil(ctx, earliest(deadline, h.doneAt()))
}

func (h *fakeHandle) WaitForOutput(ctx context.Context, timeout time.Duration) error {
	return sleepUntil(ctx, earliest(time.Now().Add(timeout), h.outputAt()))
}

func (h *fakeHandle) WaitInteractive(ctx context.Context) error {
	h.mu.Lock()
	h.interactive++
	h.interactiveAt = time.Since(h.submittedAt)
	h.mu.Unlock()
	return sleepUntil(ctx, h.doneAt())
}

func (h *fakeHandle) Get(ctx context.Context) ([]remote.Result, error) {
	if err := sleepUntil(ctx, h.doneAt()); err != nil {
		return nil, err
	}
	out := make([]remote.Result, 0, len(h.targets))
	for _, id := range h.targets {
		out = append(out, remote.Result{Engine: id, Stdout: fmt.Sprintf("engine-%d\n", id)})
	}
	return out, h.getErr
}

func (h *fakeHandle) DisplayOutputs(w io.Writer, groupBy render.GroupBy) error {
	h.mu.Lock()
	h.displays = append(h.displays, groupBy)
	h.displayAt = time.Since(h.submittedAt)
	h.mu.Unlock()
	_, err := fmt.Fprintf(w, "display:%s\n", groupBy)
	return err
}

func (h *fakeHandle) StreamOutput(io.Writer) func() {
	h.mu.Lock()
	h.streams++
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.stopped++
		h.mu.Unlock()
	}
}

func (h *fakeHandle) stats() (interactive int, interactiveAt time.Duration, displays []render.GroupBy, displayAt time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interactive, h.interactiveAt, append([]render.GroupBy(nil), h.displays...), h.displayAt
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
