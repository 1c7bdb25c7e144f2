// Package logger holds the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// output lets the destination change without replacing L, which other
// goroutines may be reading.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

var (
	levelVar = new(slog.LevelVar)
	out      = &output{w: os.Stdout}
)

var L = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: levelVar}))

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// SetOutput redirects every log line written after it returns. The
// terminal UI uses it to keep JSON lines off the screen.
func SetOutput(w io.Writer) {
	out.mu.Lock()
	out.w = w
	out.mu.Unlock()
}
