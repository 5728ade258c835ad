package pool

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/mattjoyce/pxshell/internal/config"
)

// SendSignal delivers sig to the process group of the command running on each target.
// Idle targets are skipped. Delivery to local process groups is synchronous, so block
// only affects whether the first failure stops delivery to the remaining targets.
func (p *Pool) SendSignal(ctx context.Context, sig config.Signal, targets []int, block bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.checkTargets(targets); err != nil {
		return err
	}

	var errs []error
	for _, id := range targets {
		pgid := p.engines[id].runningPgid()
		if pgid == 0 {
			continue
		}
		err := syscall.Kill(-pgid, sig.Number)
		if err == nil || errors.Is(err, syscall.ESRCH) {
			p.logger.Debug("signal delivered", "engine", id, "signal", sig.Name)
			continue
		}
		err = fmt.Errorf("signal %s to engine %d: %w", sig.Name, id, err)
		if block {
			return err
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
