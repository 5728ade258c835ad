// Package interrupt forwards a local cancellation to the engines running a submission.
package interrupt

import (
	"context"
	"fmt"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/remote"
)

// Bridge delivers the configured interrupt signal through a SignalSender.
type Bridge struct {
	sender remote.SignalSender
}

// NewBridge creates a bridge over sender.
func NewBridge(sender remote.SignalSender) *Bridge {
	return &Bridge{sender: sender}
}

// Configured reports whether sig means "forward" rather than "abort".
func Configured(sig *config.Signal) bool {
	return sig != nil
}

// Forward sends sig to targets and waits for delivery to be acknowledged.
// Delivery is best effort: nothing checks that the engines actually stopped.
func (b *Bridge) Forward(ctx context.Context, sig config.Signal, targets []int) error {
	if len(targets) == 0 {
		return nil
	}
	log.WithComponent("interrupt").Debug("forwarding signal", "signal", sig.Name, "targets", targets)
	if err := b.sender.SendSignal(ctx, sig, targets, true); err != nil {
		return fmt.Errorf("forward %s: %w", sig.Name, err)
	}
	return nil
}
