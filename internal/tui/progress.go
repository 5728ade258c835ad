package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

// Source reports task completion for a running submission.
type Source interface {
	// Progress returns the number of finished tasks and the total.
	Progress() (done, total int)
	// Finished is closed once every task is done.
	Finished() <-chan struct{}
}

type tickMsg time.Time
type finishedMsg struct{}

// ProgressModel is a bubbletea model showing a spinner, a bar and a task count
// until its Source finishes.
type ProgressModel struct {
	src     Source
	label   string
	bar     progress.Model
	spin    spinner.Model
	started time.Time
	done    int
	total   int
}

// NewProgressModel creates a model for src. started anchors the elapsed time.
func NewProgressModel(src Source, label string, started time.Time) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	done, total := src.Progress()
	return ProgressModel{
		src:     src,
		label:   label,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		spin:    s,
		started: started,
		done:    done,
		total:   total,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick(), waitFinished(m.src))
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.done, m.total = m.src.Progress()
		return m, tick()
	case finishedMsg:
		m.done, m.total = m.src.Progress()
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) View() string {
	return fmt.Sprintf("%s %s %s\n", m.spin.View(), m.bar.ViewAs(m.Fraction()), labelStyle.Render(m.Status()))
}

// Fraction is the completed share in [0, 1].
func (m ProgressModel) Fraction() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.done) / float64(m.total)
}

// Status is the textual line, e.g. "%px: 3/4 tasks finished after 5s".
func (m ProgressModel) Status() string {
	elapsed := time.Since(m.started).Truncate(time.Second)
	return fmt.Sprintf("%s: %d/%d tasks finished after %s", m.label, m.done, m.total, elapsed)
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitFinished(src Source) tea.Cmd {
	return func() tea.Msg {
		<-src.Finished()
		return finishedMsg{}
	}
}

// isTerminal reports whether w is a terminal the bubbletea view can draw on.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RunProgress blocks until src finishes or ctx ends, rendering progress to w.
// Terminals get the bubbletea view; other writers get one plain line per change.
// It returns ctx.Err() when ctx ends first.
//
// The view never handles SIGINT itself: the session owns it and cancels ctx.
func RunProgress(ctx context.Context, w io.Writer, src Source, label string, started time.Time) error {
	if !isTerminal(w) {
		return runPlain(ctx, w, src, label, started)
	}
	p := tea.NewProgram(NewProgressModel(src, label, started),
		tea.WithContext(ctx),
		tea.WithInput(nil),
		tea.WithOutput(w),
		tea.WithoutSignalHandler(),
	)
	_, err := p.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tea.ErrInterrupted), errors.Is(err, tea.ErrProgramKilled):
		return context.Canceled
	default:
		return fmt.Errorf("progress view: %w", err)
	}
}

func runPlain(ctx context.Context, w io.Writer, src Source, label string, started time.Time) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	m := NewProgressModel(src, label, started)
	last := -1
	report := func() {
		m.done, m.total = src.Progress()
		if m.done != last {
			last = m.done
			fmt.Fprintln(w, m.Status())
		}
	}
	report()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-src.Finished():
			report()
			return nil
		case <-ticker.C:
			report()
		}
	}
}
