// Package autodispatch implements the persistent mode in which every unit of
// interactive input is sent to the engines instead of running locally.
//
// The host owns a single executor slot. Enabling captures whatever executor the host
// has installed and replaces it with one that forwards input to the dispatcher;
// disabling puts the captured executor back.
package autodispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"

	"github.com/mattjoyce/pxshell/internal/dispatch"
	"github.com/mattjoyce/pxshell/internal/events"
	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/remote"
)

// Executor runs one unit of input. RunCell is the full pipeline including host
// bookkeeping; it calls the host's current RunNodes for the actual execution.
type Executor interface {
	RunCell(ctx context.Context, cell string) error
	RunNodes(ctx context.Context, cell string) error
}

// Host is the capability the interactive session hands to the controller.
type Host interface {
	Executor() Executor
	SetExecutor(Executor)
	// ReportError shows err to the user without interrupting the session.
	ReportError(err error)
}

// Submitter is the part of the dispatcher the controller needs.
type Submitter interface {
	Submit(ctx context.Context, command string, opts dispatch.Options) (remote.Handle, error)
}

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Controller switches a host between local and redirected execution.
type Controller struct {
	host   Host
	sub    Submitter
	out    io.Writer
	events events.Publisher
	toggle *regexp.Regexp
	logger *slog.Logger

	mu    sync.Mutex
	state State
	saved Executor
}

// New creates an Idle controller. suffix distinguishes the toggle directive of
// sessions that drive several pools ("%autopx" + suffix). pub may be nil.
func New(host Host, sub Submitter, out io.Writer, suffix string, pub events.Publisher) *Controller {
	return &Controller{
		host:   host,
		sub:    sub,
		out:    out,
		events: pub,
		toggle: regexp.MustCompile(`^\s*%autopx` + regexp.QuoteMeta(suffix) + `\b`),
		logger: log.WithComponent("autodispatch"),
	}
}

// State reports the current mode.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Toggle switches mode.
func (c *Controller) Toggle() {
	if c.State() == Active {
		c.Disable()
		return
	}
	c.Enable()
}

// Enable captures the host executor and installs the redirecting one.
func (c *Controller) Enable() {
	c.mu.Lock()
	if c.state == Active {
		c.mu.Unlock()
		return
	}
	c.saved = c.host.Executor()
	c.host.SetExecutor(&redirector{c: c, orig: c.saved})
	c.state = Active
	c.mu.Unlock()

	fmt.Fprintln(c.out, "%autopx enabled")
	c.logger.Debug("auto-dispatch enabled")
	if c.events != nil {
		c.events.Publish(events.AutoDispatchEnabled, nil)
	}
}

// Disable restores the executor captured by Enable. It does nothing while Idle.
func (c *Controller) Disable() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.host.SetExecutor(c.saved)
	c.saved = nil
	c.state = Idle
	c.mu.Unlock()

	fmt.Fprintln(c.out, "%autopx disabled")
	c.logger.Debug("auto-dispatch disabled")
	if c.events != nil {
		c.events.Publish(events.AutoDispatchDisabled, nil)
	}
}

// redirector keeps the host's RunCell bookkeeping and replaces RunNodes with a
// remote submission of the raw cell.
type redirector struct {
	c    *Controller
	orig Executor

	mu  sync.Mutex
	raw string
}

func (r *redirector) RunCell(ctx context.Context, cell string) error {
	r.mu.Lock()
	r.raw = cell
	r.mu.Unlock()
	return r.orig.RunCell(ctx, cell)
}

// RunNodes never returns an error: failures are reported through the host.
func (r *redirector) RunNodes(ctx context.Context, cell string) error {
	r.mu.Lock()
	raw := r.raw
	r.raw = ""
	r.mu.Unlock()
	if raw == "" {
		raw = cell
	}

	if r.c.toggle.MatchString(raw) {
		r.c.Disable()
		return nil
	}

	if _, err := r.c.sub.Submit(ctx, raw, dispatch.Options{}); err != nil {
		r.c.logger.Debug("auto-dispatch submission failed", "error", err)
		r.c.host.ReportError(err)
	}
	return nil
}
