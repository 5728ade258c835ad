// Package render formats engine output for the terminal: grouped final displays
// and line-prefixed live streams.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	stdoutHeader = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")).Bold(true)
	stderrHeader = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// EngineOutput is everything one engine produced for a submission.
type EngineOutput struct {
	Engine int
	Stdout string
	Stderr string
	Err    error
}

// Display writes outputs to w arranged by groupBy.
func Display(w io.Writer, outputs []EngineOutput, groupBy GroupBy) error {
	var b strings.Builder
	switch groupBy {
	case GroupByEngine:
		for _, o := range outputs {
			writeBlock(&b, "stdout", o.Engine, o.Stdout)
			writeBlock(&b, "stderr", o.Engine, o.Stderr)
			writeError(&b, o)
		}
	case GroupByOrder:
		writeCollated(&b, "stdout", outputs, func(o EngineOutput) string { return o.Stdout })
		writeCollated(&b, "stderr", outputs, func(o EngineOutput) string { return o.Stderr })
		for _, o := range outputs {
			writeError(&b, o)
		}
	default:
		for _, o := range outputs {
			writeBlock(&b, "stdout", o.Engine, o.Stdout)
		}
		for _, o := range outputs {
			writeBlock(&b, "stderr", o.Engine, o.Stderr)
		}
		for _, o := range outputs {
			writeError(&b, o)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Header returns the "[stdout:3]" style label for a stream.
func Header(stream string, engine int) string {
	label := fmt.Sprintf("[%s:%d]", stream, engine)
	if stream == "stderr" {
		return stderrHeader.Render(label)
	}
	return stdoutHeader.Render(label)
}

func writeBlock(b *strings.Builder, stream string, engine int, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	if strings.Contains(text, "\n") {
		fmt.Fprintf(b, "%s\n%s\n", Header(stream, engine), text)
		return
	}
	fmt.Fprintf(b, "%s %s\n", Header(stream, engine), text)
}

func writeCollated(b *strings.Builder, stream string, outputs []EngineOutput, pick func(EngineOutput) string) {
	lines := make([][]string, len(outputs))
	longest := 0
	for i, o := range outputs {
		text := strings.TrimRight(pick(o), "\n")
		if text == "" {
			continue
		}
		lines[i] = strings.Split(text, "\n")
		longest = max(longest, len(lines[i]))
	}
	for n := 0; n < longest; n++ {
		for i, o := range outputs {
			if n < len(lines[i]) {
				fmt.Fprintf(b, "%s %s\n", Header(stream, o.Engine), lines[i][n])
			}
		}
	}
}

func writeError(b *strings.Builder, o EngineOutput) {
	if o.Err == nil {
		return
	}
	fmt.Fprintln(b, errorStyle.Render(o.Err.Error()))
}
