// Package ui holds the presentation side of an exchange: the Turn event
// every surface receives and the surfaces themselves.
package ui

import (
	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/protocol"
)

// Turn is what a surface is told on every generated or replayed message.
type Turn struct {
	Agent          string
	ID             protocol.ID
	Payload        string
	Interpretation string
	Active         bool
	Position       int // 0-based index of the message in its run
	Count          int // size of the run, 0 when open-ended
}

// Surface renders turns. It never feeds state back to the core.
type Surface interface {
	Show(Turn)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(Turn)

func (f SurfaceFunc) Show(t Turn) { f(t) }

// LogSurface writes turns as structured log lines.
type LogSurface struct{}

func (LogSurface) Show(t Turn) {
	logger.L.Info("turn",
		"agent", t.Agent,
		"id", t.ID.String(),
		"interpretation", t.Interpretation,
		"payload_len", len(t.Payload),
		"position", t.Position,
		"count", t.Count,
	)
}
