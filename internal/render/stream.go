package render

import (
	"bytes"
	"io"
	"sync"
)

// StreamPrinter serializes line-prefixed writes from many engines onto one writer.
type StreamPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamPrinter creates a printer writing to w.
func NewStreamPrinter(w io.Writer) *StreamPrinter {
	return &StreamPrinter{w: w}
}

// LineWriter returns a writer that emits each complete line as "[stream:engine] line".
func (p *StreamPrinter) LineWriter(stream string, engine int) *LineWriter {
	return &LineWriter{printer: p, prefix: Header(stream, engine) + " "}
}

func (p *StreamPrinter) writeLine(prefix string, line []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, prefix)
	_, _ = p.w.Write(line)
	_, _ = io.WriteString(p.w, "\n")
}

// LineWriter buffers partial lines until a newline or Flush.
type LineWriter struct {
	mu      sync.Mutex
	printer *StreamPrinter
	prefix  string
	partial []byte
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	data := append(lw.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lw.printer.writeLine(lw.prefix, data[:i])
		data = data[i+1:]
	}
	lw.partial = append([]byte(nil), data...)
	return len(p), nil
}

// Flush emits any trailing partial line.
func (lw *LineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if len(lw.partial) == 0 {
		return
	}
	lw.printer.writeLine(lw.prefix, lw.partial)
	lw.partial = nil
}
