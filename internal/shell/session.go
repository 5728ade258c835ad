// Package shell is the interactive host session: a line-based REPL that runs input
// locally through the user's shell and offers magics that dispatch to the engines.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pxshell/internal/autodispatch"
	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/dispatch"
	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/remote"
	"github.com/mattjoyce/pxshell/internal/render"
	"github.com/mattjoyce/pxshell/internal/results"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")).Bold(true)
	errorLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true).Render("error:")
)

// Dispatcher is what the magics need from the dispatcher.
type Dispatcher interface {
	Submit(ctx context.Context, command string, opts dispatch.Options) (remote.Handle, error)
	Recall(ctx context.Context, groupBy render.GroupBy) error
}

// Options configures a Session.
type Options struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
	Config *config.ExecutionConfig
	// Suffix is appended to every magic name, e.g. "%px2" for suffix "2".
	Suffix     string
	LocalShell string
	// Prompt prints prompts; set for terminals.
	Prompt bool
	// HandleInterrupts turns SIGINT during a cell into cancellation of that cell.
	HandleInterrupts bool
}

// Session is the host of the interactive loop. It owns the executor slot used by
// auto-dispatch and the namespace that save-names bind into.
type Session struct {
	opts   Options
	logger *slog.Logger

	disp  Dispatcher
	cache *results.Cache
	auto  *autodispatch.Controller

	mu    sync.Mutex
	exec  autodispatch.Executor
	cells int

	nsMu sync.RWMutex
	ns   map[string]remote.Handle
}

var (
	_ autodispatch.Host = (*Session)(nil)
	_ remote.Namespace  = (*Session)(nil)
)

// New creates a session. Attach must be called before Run.
func New(opts Options) *Session {
	if opts.LocalShell == "" {
		opts.LocalShell = "/bin/sh"
	}
	s := &Session{
		opts:   opts,
		logger: log.WithComponent("shell"),
		ns:     make(map[string]remote.Handle),
	}
	s.exec = &localExecutor{s: s}
	return s
}

// Attach wires the collaborators that themselves depend on the session.
func (s *Session) Attach(d Dispatcher, cache *results.Cache, auto *autodispatch.Controller) {
	s.disp = d
	s.cache = cache
	s.auto = auto
}

func (s *Session) Executor() autodispatch.Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec
}

func (s *Session) SetExecutor(e autodispatch.Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = e
}

// ReportError prints err and lets the session continue.
func (s *Session) ReportError(err error) {
	var shown *remote.AlreadyDisplayedError
	if errors.As(err, &shown) {
		fmt.Fprintf(s.opts.ErrOut, "%s %v\n", errorLabel, shown)
		return
	}
	fmt.Fprintf(s.opts.ErrOut, "%s %v\n", errorLabel, err)
}

// Bind implements remote.Namespace.
func (s *Session) Bind(name string, h remote.Handle) {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()
	s.ns[name] = h
}

// Lookup returns the handle bound to name.
func (s *Session) Lookup(name string) (remote.Handle, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()
	h, ok := s.ns[name]
	return h, ok
}

// Names returns the bound names in sorted order.
func (s *Session) Names() []string {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()
	names := make([]string, 0, len(s.ns))
	for n := range s.ns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Cells reports how many cells went through the host pipeline.
func (s *Session) Cells() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cells
}

// Execute runs one cell through whatever executor is installed and reports its error.
func (s *Session) Execute(ctx context.Context, cell string) {
	if err := s.Executor().RunCell(ctx, cell); err != nil {
		s.ReportError(err)
	}
}

// Run reads cells until EOF, "exit" or "quit", or until ctx ends.
// A line starting with the %%px cell magic opens a cell that ends at the next empty line.
func (s *Session) Run(ctx context.Context) error {
	if s.disp == nil {
		return fmt.Errorf("session has no dispatcher attached")
	}

	var sigCh chan os.Signal
	if s.opts.HandleInterrupts {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
	}

	scanner := bufio.NewScanner(s.opts.In)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	cellMagic := "%%" + s.magicName("px")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.prompt(false)
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "exit" || trimmed == "quit" {
			return nil
		}

		cell := line
		if isMagic(trimmed, cellMagic) {
			var body []string
			for {
				s.prompt(true)
				if !scanner.Scan() || strings.TrimSpace(scanner.Text()) == "" {
					break
				}
				body = append(body, scanner.Text())
			}
			cell = line + "\n" + strings.Join(body, "\n")
		}

		s.runInterruptible(ctx, sigCh, cell)
	}
}

// runInterruptible executes cell with a context that a SIGINT cancels.
func (s *Session) runInterruptible(ctx context.Context, sigCh chan os.Signal, cell string) {
	cellCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if sigCh != nil {
		// discard an interrupt typed at the prompt
		select {
		case <-sigCh:
		default:
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-sigCh:
				s.logger.Debug("interrupt received")
				cancel()
			case <-done:
			}
		}()
	}

	s.Execute(cellCtx, cell)
}

func (s *Session) prompt(continuation bool) {
	if !s.opts.Prompt {
		return
	}
	switch {
	case continuation:
		fmt.Fprint(s.opts.Out, promptStyle.Render("   ...: "))
	case s.auto != nil && s.auto.State() == autodispatch.Active:
		fmt.Fprint(s.opts.Out, activeStyle.Render("px[auto]> "))
	default:
		fmt.Fprint(s.opts.Out, promptStyle.Render("px> "))
	}
}

func (s *Session) magicName(base string) string {
	return base + s.opts.Suffix
}

// isMagic reports whether line invokes magic, i.e. starts with it followed by
// whitespace or nothing.
func isMagic(line, magic string) bool {
	if !strings.HasPrefix(line, magic) {
		return false
	}
	rest := line[len(magic):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n'
}
