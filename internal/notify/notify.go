// ABOUTME: Notification collaborator: fire-and-forget error and success reports
// ABOUTME: Console writes colored lines; Recorder keeps reports for tests and status bars

package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"
)

// Notifier receives user-facing outcomes. Implementations must not block.
type Notifier interface {
	ReportError(message string)
	ReportSuccess(message string)
}

// Console prints notifications to a writer with color.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	red    *color.Color
	green  *color.Color
	logger *slog.Logger
}

// NewConsole creates a console notifier writing to out.
func NewConsole(out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		out:    out,
		red:    color.New(color.FgRed, color.Bold),
		green:  color.New(color.FgGreen),
		logger: logger.With("component", "notify"),
	}
}

// ReportError prints message as an error.
func (c *Console) ReportError(message string) {
	c.logger.Debug("notify error", "message", message)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.red.Fprint(c.out, "✗ ")
	fmt.Fprintln(c.out, message)
}

// ReportSuccess prints message as a success.
func (c *Console) ReportSuccess(message string) {
	c.logger.Debug("notify success", "message", message)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.green.Fprint(c.out, "✓ ")
	fmt.Fprintln(c.out, message)
}

// Kind distinguishes recorded notifications.
type Kind string

const (
	KindError   Kind = "error"
	KindSuccess Kind = "success"
)

// Entry is one recorded notification.
type Entry struct {
	Kind    Kind
	Message string
}

// Recorder stores notifications in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// ReportError records an error.
func (r *Recorder) ReportError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Kind: KindError, Message: message})
}

// ReportSuccess records a success.
func (r *Recorder) ReportSuccess(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Kind: KindSuccess, Message: message})
}

// Entries returns a copy of everything recorded.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Errors returns the recorded error messages.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.Kind == KindError {
			out = append(out, e.Message)
		}
	}
	return out
}
