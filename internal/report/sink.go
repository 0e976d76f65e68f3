package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Format selects how a WriterSink renders reports.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Sink receives finished reports.
type Sink interface {
	Publish(ctx context.Context, r *Report) error
}

// WriterSink renders reports to a writer. It is safe for concurrent use;
// each report is written whole.
type WriterSink struct {
	W      io.Writer
	Format Format
	Color  bool

	mu sync.Mutex
}

// NewWriterSink enables color only for text written to a terminal, and
// never when noColor is set or NO_COLOR is present in the environment.
func NewWriterSink(w io.Writer, format Format, noColor bool) *WriterSink {
	color := format == FormatText && !noColor && os.Getenv("NO_COLOR") == "" && isTerminalWriter(w)
	return &WriterSink{W: w, Format: format, Color: color}
}

func (s *WriterSink) Publish(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Format {
	case FormatJSON:
		return RenderJSON(s.W, r)
	case FormatText, "":
		return RenderText(s.W, r, s.Color)
	default:
		return fmt.Errorf("unknown report format %q", s.Format)
	}
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
