package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/dispatch"
	"github.com/mattjoyce/pxshell/internal/render"
)

// execFlags are shared by %pxconfig and %%px.
type execFlags struct {
	block, noblock    bool
	stream, noStream  bool
	verbose, quiet    bool
	targets           string
	progressAfter     float64
	signalOnInterrupt string
}

func (f *execFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&f.block, "block", "b", false, "use blocking (sync) execution")
	fs.BoolVarP(&f.noblock, "noblock", "a", false, "use non-blocking (async) execution")
	fs.BoolVar(&f.stream, "stream", false, "stream stdout/stderr in real time")
	fs.BoolVar(&f.noStream, "no-stream", false, "do not stream stdout/stderr")
	fs.StringVarP(&f.targets, "targets", "t", "", "engines to run on: all, 0,1,2 or start:stop[:step]")
	fs.BoolVar(&f.verbose, "verbose", false, "print a notice at each execution")
	fs.BoolVar(&f.quiet, "no-verbose", false, "do not print execution notices")
	fs.Float64Var(&f.progressAfter, "progress-after", 0, "seconds before showing progress; -1 never, 0 immediately")
	fs.StringVar(&f.signalOnInterrupt, "signal-on-interrupt", "", "signal sent to engines on interrupt (SIGINT, 9, none)")
}

// blockFlag resolves the -b/-a pair. nil means neither was given.
func (f *execFlags) blockFlag() *bool {
	return pickBool(f.block, f.noblock)
}

func (f *execFlags) streamFlag() *bool {
	return pickBool(f.stream, f.noStream)
}

func (f *execFlags) verboseFlag() *bool {
	return pickBool(f.verbose, f.quiet)
}

func pickBool(on, off bool) *bool {
	switch {
	case on:
		v := true
		return &v
	case off:
		v := false
		return &v
	}
	return nil
}

// outputFlags are shared by %pxresult and %%px.
type outputFlags struct {
	collate  bool
	byEngine bool
	groupBy  string
	saveName string
}

func (f *outputFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&f.collate, "order", "r", false, "collate outputs in order (same as --group-outputs=order)")
	fs.BoolVarP(&f.byEngine, "engine", "e", false, "group outputs by engine (same as --group-outputs=engine)")
	fs.StringVar(&f.groupBy, "group-outputs", "", "group outputs by type, engine or order")
	fs.StringVarP(&f.saveName, "out", "o", "", "bind the result under this name")
}

// grouping returns the requested grouping, or "" for the configured default.
func (f *outputFlags) grouping() (render.GroupBy, error) {
	switch {
	case f.byEngine:
		return render.GroupByEngine, nil
	case f.collate:
		return render.GroupByOrder, nil
	case f.groupBy != "":
		return render.ParseGroupBy(f.groupBy)
	}
	return "", nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// parseFlags parses args and prints usage on -h.
func (s *Session) parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	fs.SetOutput(s.opts.ErrOut)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", fs.Name(), err)
	}
	return true, nil
}

// runMagic executes a "%name args" line or a "%%name args\nbody" cell.
func (s *Session) runMagic(ctx context.Context, cell string) error {
	if strings.HasPrefix(cell, "%%") {
		header, body, _ := strings.Cut(cell, "\n")
		name, args := splitMagic(strings.TrimPrefix(header, "%%"))
		if name == s.magicName("px") {
			return s.cellPx(ctx, args, body)
		}
		return fmt.Errorf("unknown cell magic %%%%%s", name)
	}

	line := strings.TrimPrefix(cell, "%")
	name, args := splitMagic(line)
	switch name {
	case s.magicName("px"):
		code := strings.TrimSpace(strings.TrimPrefix(line, name))
		if code == "" {
			return fmt.Errorf("%%%s: nothing to execute", name)
		}
		_, err := s.disp.Submit(ctx, code, dispatch.Options{})
		return err
	case s.magicName("pxconfig"):
		return s.pxconfig(args)
	case s.magicName("pxresult"):
		return s.pxresult(ctx, args)
	case s.magicName("autopx"):
		s.auto.Toggle()
		return nil
	case "who":
		s.who()
		return nil
	case "result":
		// legacy alias, only without a suffix
		if s.opts.Suffix == "" {
			return s.pxresult(ctx, args)
		}
	}
	return fmt.Errorf("unknown magic %%%s", name)
}

func splitMagic(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func (s *Session) pxconfig(args []string) error {
	var ef execFlags
	fs := newFlagSet("%" + s.magicName("pxconfig"))
	ef.register(fs)
	if ok, err := s.parseFlags(fs, args); !ok {
		return err
	}
	if fs.NFlag() == 0 {
		s.printSettings()
		return nil
	}

	u := config.ConfigUpdate{
		Block:        ef.blockFlag(),
		StreamOutput: ef.streamFlag(),
		Verbose:      ef.verboseFlag(),
	}
	if fs.Changed("targets") {
		u.Targets = &ef.targets
	}
	if fs.Changed("progress-after") {
		d := config.SecondsToDuration(ef.progressAfter)
		u.ProgressAfter = &d
	}
	if fs.Changed("signal-on-interrupt") {
		u.InterruptSignal = &ef.signalOnInterrupt
	}
	return s.opts.Config.Update(u)
}

func (s *Session) printSettings() {
	cur := s.opts.Config.Snapshot()
	sig := "none"
	if cur.InterruptSignal != nil {
		sig = cur.InterruptSignal.Name
	}
	fmt.Fprintf(s.opts.Out, "targets:             %s\n", cur.Targets)
	fmt.Fprintf(s.opts.Out, "block:               %t\n", cur.Block)
	fmt.Fprintf(s.opts.Out, "stream:              %t\n", cur.StreamOutput)
	fmt.Fprintf(s.opts.Out, "verbose:             %t\n", cur.Verbose)
	fmt.Fprintf(s.opts.Out, "progress-after:      %s\n", cur.ProgressAfter)
	fmt.Fprintf(s.opts.Out, "signal-on-interrupt: %s\n", sig)
	fmt.Fprintf(s.opts.Out, "group-outputs:       %s\n", cur.GroupBy)
}

func (s *Session) pxresult(ctx context.Context, args []string) error {
	var of outputFlags
	fs := newFlagSet("%" + s.magicName("pxresult"))
	of.register(fs)
	if ok, err := s.parseFlags(fs, args); !ok {
		return err
	}
	groupBy, err := of.grouping()
	if err != nil {
		return err
	}

	if of.saveName != "" {
		h, err := s.cache.FetchLast()
		if err != nil {
			return err
		}
		s.Bind(of.saveName, h)
		return nil
	}
	return s.disp.Recall(ctx, groupBy)
}

// cellPx implements %%px. With --local the cell also runs locally after the remote
// submission, and blocking is applied only afterwards.
func (s *Session) cellPx(ctx context.Context, args []string, body string) error {
	var (
		ef    execFlags
		of    outputFlags
		local bool
	)
	fs := newFlagSet("%%" + s.magicName("px"))
	ef.register(fs)
	of.register(fs)
	fs.BoolVar(&local, "local", false, "also execute the cell locally")
	if ok, err := s.parseFlags(fs, args); !ok {
		return err
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%%%%%s: empty cell", s.magicName("px"))
	}

	groupBy, err := of.grouping()
	if err != nil {
		return err
	}
	opts := dispatch.Options{
		Block:    ef.blockFlag(),
		Stream:   ef.streamFlag(),
		GroupBy:  groupBy,
		SaveName: of.saveName,
	}
	if fs.Changed("targets") {
		sel, err := config.ParseSelector(ef.targets)
		if err != nil {
			return err
		}
		opts.Targets = &sel
	}
	if fs.Changed("progress-after") {
		d := config.SecondsToDuration(ef.progressAfter)
		opts.ProgressAfter = &d
	}
	if fs.Changed("signal-on-interrupt") {
		sig, err := config.ParseSignal(ef.signalOnInterrupt)
		if err != nil {
			return err
		}
		opts.Signal = sig
		opts.NoSignal = sig == nil
	}
	if local {
		noblock := false
		opts.Block = &noblock
	}

	h, err := s.disp.Submit(ctx, body, opts)
	if err != nil || !local {
		return err
	}

	localErr := s.runLocal(ctx, body)
	block := s.opts.Config.Snapshot().Block
	if b := ef.blockFlag(); b != nil {
		block = *b
	}
	if block {
		if groupBy == "" {
			groupBy = s.opts.Config.Snapshot().GroupBy
		}
		_, getErr := h.Get(ctx)
		if derr := h.DisplayOutputs(s.opts.Out, groupBy); derr != nil {
			return derr
		}
		if getErr != nil {
			return getErr
		}
	}
	return localErr
}

func (s *Session) who() {
	names := s.Names()
	if len(names) == 0 {
		fmt.Fprintln(s.opts.Out, "Namespace is empty.")
		return
	}
	for _, n := range names {
		h, _ := s.Lookup(n)
		state := "running"
		if h.Done() {
			state = "done"
		}
		fmt.Fprintf(s.opts.Out, "%-16s %s  %s  %s\n", n, h.ID(), config.FormatIDs(h.Targets()), state)
	}
}
