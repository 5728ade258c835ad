package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// localExecutor is the session's own executor: magics are handled in-process and
// everything else runs through the local shell.
type localExecutor struct {
	s *Session
}

// RunCell counts the cell and hands it to the current RunNodes, which auto-dispatch
// may have replaced.
func (e *localExecutor) RunCell(ctx context.Context, cell string) error {
	e.s.mu.Lock()
	e.s.cells++
	n := e.s.cells
	e.s.mu.Unlock()

	e.s.logger.Debug("running cell", "cell", n)
	return e.s.Executor().RunNodes(ctx, cell)
}

func (e *localExecutor) RunNodes(ctx context.Context, cell string) error {
	if strings.HasPrefix(strings.TrimSpace(cell), "%") {
		return e.s.runMagic(ctx, strings.TrimSpace(cell))
	}
	return e.s.runLocal(ctx, cell)
}

func (s *Session) runLocal(ctx context.Context, code string) error {
	cmd := exec.CommandContext(ctx, s.opts.LocalShell, "-c", code)
	cmd.Stdout = s.opts.Out
	cmd.Stderr = s.opts.ErrOut
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("local command interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("local command failed: %w", err)
	}
	return nil
}
