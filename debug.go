package brigade

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DebugLogger captures raw sync traffic for support sessions. When a
// restaurant reports a terminal stuck out of sync, the wire log shows
// exactly what the terminal sent and what came back, including the bodies
// the structured logs elide. A nil or disabled logger discards everything.
type DebugLogger struct {
	mu      sync.Mutex
	enabled bool
	w       io.Writer
}

// NewDebugLogger returns a logger appending to logPath, or writing to
// stderr when the path is empty. A disabled logger never opens the file.
func NewDebugLogger(enabled bool, logPath string) (*DebugLogger, error) {
	var w io.Writer = os.Stderr
	if enabled && logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open debug log %s: %w", logPath, err)
		}
		w = f
	}
	return &DebugLogger{enabled: enabled, w: w}, nil
}

// Close releases the log file, if any.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.w.(*os.File); ok && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// line prefixes each entry with a UTC timestamp and a direction marker:
// ">>" outgoing, "<<" incoming, "!!" failure, "--" cycle notes.
func (l *DebugLogger) line(marker, format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, _ = fmt.Fprintf(l.w, "%s brigade %s %s\n", stamp, marker, fmt.Sprintf(format, args...))
}

// Log writes a free-form entry.
func (l *DebugLogger) Log(format string, args ...any) {
	l.line("--", format, args...)
}

// LogRequest records an outgoing request with its body.
func (l *DebugLogger) LogRequest(method, url string, body []byte) {
	l.line(">>", "%s %s", method, url)
	if len(body) > 0 {
		l.line(">>", "%s", clip(body, 2000))
	}
}

// LogResponse records a response with its body. Snapshot bodies can run to
// megabytes, so they are clipped harder than requests are.
func (l *DebugLogger) LogResponse(statusCode int, status string, body []byte) {
	l.line("<<", "%d %s", statusCode, status)
	if len(body) > 0 {
		l.line("<<", "%s", clip(body, 4000))
	}
}

// LogError records a failed operation with the unabridged error.
func (l *DebugLogger) LogError(op string, err error) {
	l.line("!!", "%s: %v", op, err)
}

// LogSync records a cycle-level note, such as batch and withheld counts.
func (l *DebugLogger) LogSync(op, details string) {
	l.line("--", "%s: %s", op, details)
}

func clip(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes total)", b[:max], len(b))
}
