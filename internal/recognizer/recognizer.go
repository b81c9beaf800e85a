package recognizer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/scribelabs/scribe-core/internal/config"
)

// Segment is one unit of recognized speech. Final segments will not be
// revised further; non-final segments are provisional.
type Segment struct {
	Text       string
	Final      bool
	Confidence float64
}

type EventType string

const (
	EventResult EventType = "result"
	EventError  EventType = "error"
	EventEnded  EventType = "ended"
)

// Event is a notification delivered by a recognition stream. Result events
// carry segments in the order the recognizer produced them; error events
// carry a code; ended events carry nothing.
type Event struct {
	Type     EventType
	Segments []Segment
	Code     string
}

// Stream is a continuous speech recognition capability. One stream exists per
// process; Start and Stop toggle listening on the same underlying resource,
// and the stream may keep delivering events after Stop while it flushes. The
// Events channel closes only when the stream itself is closed or lost.
type Stream interface {
	Start() error
	Stop()
	Events() <-chan Event
	Close() error
}

// ErrUnsupported reports that no recognition capability is available.
var ErrUnsupported = errors.New("speech recognition capability unavailable")

// Open creates the process-wide recognition stream for the configured mode.
func Open(cfg config.RecognizerConfig, log *slog.Logger) (Stream, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockStream(cfg, log), nil
	case "exec":
		return NewExecStream(cfg, log)
	case "none":
		return nil, ErrUnsupported
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}
