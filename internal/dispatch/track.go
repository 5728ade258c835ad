package dispatch

import (
	"context"
	"time"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/events"
	"github.com/mattjoyce/pxshell/internal/history"
)

// track records the submission and follows it to completion in the background.
// It does nothing when neither a recorder nor an event sink is configured.
func (d *Dispatcher) track(ctx context.Context, sub *submission) {
	if d.recorder == nil && d.events == nil {
		return
	}

	if d.recorder != nil {
		err := d.recorder.Record(ctx, history.Entry{
			ID:            sub.handle.ID(),
			Command:       sub.command,
			CommandDigest: config.Digest(sub.command),
			Targets:       sub.targets,
			Blocking:      sub.settings.Block,
			SubmittedAt:   sub.handle.SubmittedAt(),
		})
		if err != nil {
			d.logger.Warn("failed to record submission", "submission_id", sub.handle.ID(), "error", err)
		}
	}
	d.publish(events.SubmissionCreated, sub, history.StatusSubmitted, "")

	d.trackers.Add(1)
	go func() {
		defer d.trackers.Done()
		d.follow(sub)
	}()
}

func (d *Dispatcher) follow(sub *submission) {
	_, err := sub.handle.Get(d.bgCtx)
	if d.bgCtx.Err() != nil {
		return
	}

	status := history.StatusSucceeded
	errText := ""
	switch {
	case sub.interrupted.Load():
		status = history.StatusInterrupted
	case sub.aborted.Load():
		status = history.StatusAborted
	case err != nil:
		status = history.StatusFailed
		errText = err.Error()
	}

	if d.recorder != nil {
		if rerr := d.recorder.Complete(d.bgCtx, sub.handle.ID(), status, errText, time.Now()); rerr != nil {
			d.logger.Warn("failed to record completion", "submission_id", sub.handle.ID(), "error", rerr)
		}
	}
	d.publish(events.SubmissionCompleted, sub, status, errText)
}
