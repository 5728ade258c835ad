// Package remote defines the contracts between the dispatcher and an engine pool:
// the View that accepts submissions, the Handle for one submission, and the
// signal delivery channel. Concrete pools live elsewhere (see internal/pool).
package remote

import (
	"context"
	"io"
	"time"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/render"
)

//go:generate mockgen -destination=mocks/mock_remote.go -package=mocks github.com/mattjoyce/pxshell/internal/remote View,SignalSender,Namespace

// View accepts command submissions for a set of engines.
type View interface {
	// IDs returns the ordered ids of the engines currently in the pool.
	IDs() []int
	// Execute submits code to targets and returns immediately.
	Execute(ctx context.Context, code string, targets []int) (Handle, error)
}

// Result is the outcome of one engine's execution.
type Result struct {
	Engine   int
	Stdout   string
	Stderr   string
	ExitCode int
}

// Handle references a submitted, possibly still running, computation.
// A handle stays valid after newer submissions; nothing cancels it implicitly.
type Handle interface {
	ID() string
	SubmittedAt() time.Time
	Targets() []int

	// Wait blocks until the computation is done or deadline passes. It returns
	// ctx.Err() if ctx ends first and nil otherwise.
	Wait(ctx context.Context, deadline time.Time) error
	// WaitForOutput blocks until all output has arrived or timeout elapses.
	WaitForOutput(ctx context.Context, timeout time.Duration) error
	// WaitInteractive blocks until done while rendering a progress indicator.
	WaitInteractive(ctx context.Context) error

	Done() bool
	OutputReady() bool

	// Get blocks until done and returns per-engine results. When any engine
	// failed the error is a *CompositeError.
	Get(ctx context.Context) ([]Result, error)

	// DisplayOutputs writes the collected output grouped by groupBy.
	DisplayOutputs(w io.Writer, groupBy render.GroupBy) error
	// StreamOutput copies output to w as it arrives until stop is called.
	StreamOutput(w io.Writer) (stop func())
}

// SignalSender delivers signals to engines.
type SignalSender interface {
	// SendSignal delivers sig to targets. With block set it returns only once
	// every target has acknowledged delivery.
	SendSignal(ctx context.Context, sig config.Signal, targets []int, block bool) error
}

// Namespace is the host's name binding store, used for save-name side effects.
type Namespace interface {
	Bind(name string, h Handle)
}
