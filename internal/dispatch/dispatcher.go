package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/events"
	"github.com/mattjoyce/pxshell/internal/history"
	"github.com/mattjoyce/pxshell/internal/interrupt"
	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/remote"
	"github.com/mattjoyce/pxshell/internal/render"
	"github.com/mattjoyce/pxshell/internal/results"
)

const (
	// trailingOutputWait bounds every wait for output after the engines are done.
	trailingOutputWait = time.Second
	// forwardTimeout bounds signal delivery after a local cancellation.
	forwardTimeout = 5 * time.Second
	// trackerDrain is how long Close lets outstanding submissions finish recording.
	trackerDrain = 500 * time.Millisecond
)

// ErrInterruptAborted is returned when a blocking wait is cancelled and no interrupt
// signal is configured. The context error is wrapped alongside it.
var ErrInterruptAborted = errors.New("wait aborted by interrupt")

// Options are per-call overrides. nil fields and empty strings fall back to the
// session's ExecutionConfig.
type Options struct {
	Targets       *config.Selector
	Block         *bool
	Stream        *bool
	ProgressAfter *time.Duration
	Signal        *config.Signal
	// NoSignal disables forwarding for this call even when a default signal is set.
	NoSignal bool
	GroupBy  render.GroupBy
	// SaveName also binds the handle under this name in the host namespace.
	SaveName string
}

// Recorder persists the submission lifecycle.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
	Complete(ctx context.Context, id string, status history.Status, errText string, at time.Time) error
}

// Deps are the collaborators of a Dispatcher. Recorder and Events may be nil.
type Deps struct {
	View     remote.View
	Config   *config.ExecutionConfig
	Cache    *results.Cache
	Bridge   *interrupt.Bridge
	Out      io.Writer
	ErrOut   io.Writer
	Recorder Recorder
	Events   events.Publisher
}

// Dispatcher routes commands to engines. Only one blocking wait runs at a time.
type Dispatcher struct {
	view     remote.View
	cfg      *config.ExecutionConfig
	cache    *results.Cache
	bridge   *interrupt.Bridge
	out      io.Writer
	errOut   io.Writer
	recorder Recorder
	events   events.Publisher
	logger   *slog.Logger

	waitMu sync.Mutex

	bgCtx    context.Context
	bgCancel context.CancelFunc
	trackers sync.WaitGroup
}

// New creates a Dispatcher.
func New(deps Deps) *Dispatcher {
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		view:     deps.View,
		cfg:      deps.Config,
		cache:    deps.Cache,
		bridge:   deps.Bridge,
		out:      deps.Out,
		errOut:   deps.ErrOut,
		recorder: deps.Recorder,
		events:   deps.Events,
		logger:   log.WithComponent("dispatch"),
		bgCtx:    bgCtx,
		bgCancel: cancel,
	}
}

// submission carries per-call state shared with the background tracker.
type submission struct {
	handle      remote.Handle
	command     string
	settings    config.ExecutionSettings
	targets     []int
	interrupted atomic.Bool
	aborted     atomic.Bool
}

// Submit sends command to the engines selected by the merged settings. A non-blocking
// submission returns at once. A blocking one returns after the wait protocol with the
// fetch error, if any; the handle is returned either way once submission succeeded.
func (d *Dispatcher) Submit(ctx context.Context, command string, opts Options) (remote.Handle, error) {
	eff := d.merge(opts)
	ids := eff.Targets.Resolve(d.view.IDs())

	display := "all"
	if eff.Targets.Kind() != config.SelectAll {
		display = config.AbbreviateIDs(ids)
	}
	if eff.Verbose {
		if eff.Block {
			fmt.Fprintf(d.out, "Parallel execution on engine(s): %s\n", display)
		} else {
			fmt.Fprintf(d.out, "Async parallel execution on engine(s): %s\n", display)
		}
	}
	d.logger.Debug("submitting", "targets", display, "block", eff.Block)

	h, err := d.view.Execute(ctx, command, ids)
	if err != nil {
		return nil, fmt.Errorf("submit to engines %s: %w", display, err)
	}
	d.cache.Store(h, opts.SaveName)

	sub := &submission{handle: h, command: command, settings: eff, targets: ids}
	d.track(ctx, sub)

	if !eff.Block {
		return h, nil
	}
	return h, d.wait(ctx, sub)
}

// SubmitAsync submits without blocking regardless of the configured default.
func (d *Dispatcher) SubmitAsync(ctx context.Context, command string, opts Options) (remote.Handle, error) {
	block := false
	opts.Block = &block
	return d.Submit(ctx, command, opts)
}

// SubmitAndWait submits and blocks regardless of the configured default.
func (d *Dispatcher) SubmitAndWait(ctx context.Context, command string, opts Options) (remote.Handle, error) {
	block := true
	opts.Block = &block
	return d.Submit(ctx, command, opts)
}

// Recall waits for the last result and displays it. An empty groupBy uses the configured default.
func (d *Dispatcher) Recall(ctx context.Context, groupBy render.GroupBy) error {
	h, err := d.cache.FetchLast()
	if err != nil {
		return err
	}
	if groupBy == "" {
		groupBy = d.cfg.Snapshot().GroupBy
	}

	_, getErr := h.Get(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	_ = h.WaitForOutput(ctx, trailingOutputWait)
	if err := h.DisplayOutputs(d.out, groupBy); err != nil {
		return fmt.Errorf("display outputs: %w", err)
	}
	return getErr
}

// Close gives finished submissions up to trackerDrain to be recorded, then stops
// background tracking of the rest.
func (d *Dispatcher) Close() {
	drained := make(chan struct{})
	go func() {
		d.trackers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(trackerDrain):
	}
	d.bgCancel()
	d.trackers.Wait()
}

func (d *Dispatcher) merge(opts Options) config.ExecutionSettings {
	eff := d.cfg.Snapshot()
	if opts.Targets != nil {
		eff.Targets = *opts.Targets
	}
	if opts.Block != nil {
		eff.Block = *opts.Block
	}
	if opts.Stream != nil {
		eff.StreamOutput = *opts.Stream
	}
	if opts.ProgressAfter != nil {
		eff.ProgressAfter = *opts.ProgressAfter
	}
	switch {
	case opts.NoSignal:
		eff.InterruptSignal = nil
	case opts.Signal != nil:
		sig := *opts.Signal
		eff.InterruptSignal = &sig
	}
	if opts.GroupBy != "" {
		eff.GroupBy = opts.GroupBy
	}
	return eff
}

// wait runs the blocking half of Submit.
func (d *Dispatcher) wait(ctx context.Context, sub *submission) (err error) {
	d.waitMu.Lock()
	defer d.waitMu.Unlock()

	h := sub.handle
	streamed := sub.settings.StreamOutput
	var stop func()
	if streamed {
		stop = h.StreamOutput(d.out)
	}

	defer func() {
		if stop != nil {
			stop()
		}
		if streamed {
			return
		}
		_ = h.WaitForOutput(context.WithoutCancel(ctx), trailingOutputWait)
		if derr := h.DisplayOutputs(d.out, sub.settings.GroupBy); derr != nil && err == nil {
			err = fmt.Errorf("display outputs: %w", derr)
		}
	}()

	if werr := d.awaitCompletion(ctx, h, sub.settings.ProgressAfter); werr != nil {
		return d.onCancel(ctx, sub, werr)
	}

	_, gerr := h.Get(ctx)
	if gerr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return d.onCancel(ctx, sub, gerr)
	}
	var composite *remote.CompositeError
	if streamed && h.OutputReady() && errors.As(gerr, &composite) {
		return &remote.AlreadyDisplayedError{Err: composite}
	}
	return gerr
}

// awaitCompletion implements the quiet and interactive tiers. A negative threshold
// returns at once and leaves the blocking to Get.
func (d *Dispatcher) awaitCompletion(ctx context.Context, h remote.Handle, progressAfter time.Duration) error {
	switch {
	case progressAfter > 0:
		deadline := h.SubmittedAt().Add(progressAfter)
		if err := h.Wait(ctx, deadline); err != nil {
			return err
		}
		if err := h.WaitForOutput(ctx, max(time.Until(deadline), 0)); err != nil {
			return err
		}
		if h.Done() {
			return nil
		}
		return d.interactive(ctx, h)
	case progressAfter == 0:
		return d.interactive(ctx, h)
	default:
		return nil
	}
}

func (d *Dispatcher) interactive(ctx context.Context, h remote.Handle) error {
	if err := h.WaitInteractive(ctx); err != nil {
		return err
	}
	return h.WaitForOutput(ctx, trailingOutputWait)
}

// onCancel decides what a failed wait means. Only a local cancellation is absorbed,
// and only when a signal is configured.
func (d *Dispatcher) onCancel(ctx context.Context, sub *submission, cause error) error {
	if ctx.Err() == nil {
		return cause
	}

	sig := sub.settings.InterruptSignal
	if !interrupt.Configured(sig) || d.bridge == nil {
		sub.aborted.Store(true)
		d.logger.Info("wait aborted", "submission_id", sub.handle.ID())
		return fmt.Errorf("%w: %w", ErrInterruptAborted, ctx.Err())
	}

	fmt.Fprintf(d.errOut, "Interrupted: sending %s to engine(s) %s\n", sig.Name, config.AbbreviateIDs(sub.targets))
	sub.interrupted.Store(true)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forwardTimeout)
	defer cancel()
	if err := d.bridge.Forward(fctx, *sig, sub.targets); err != nil {
		return err
	}
	d.publish(events.SubmissionInterrupted, sub, "", "")
	return nil
}

func (d *Dispatcher) publish(eventType string, sub *submission, status history.Status, errText string) {
	if d.events == nil {
		return
	}
	data := events.SubmissionData{
		ID:       sub.handle.ID(),
		Targets:  sub.targets,
		Blocking: sub.settings.Block,
		Status:   string(status),
		Error:    errText,
	}
	if eventType == events.SubmissionCreated {
		data.Command = sub.command
	}
	if eventType == events.SubmissionInterrupted && sub.settings.InterruptSignal != nil {
		data.Signal = sub.settings.InterruptSignal.Name
	}
	d.events.Publish(eventType, data)
}
