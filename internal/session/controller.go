package session

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/scribelabs/scribe-core/internal/export"
	"github.com/scribelabs/scribe-core/internal/notify"
	"github.com/scribelabs/scribe-core/internal/recognizer"
)

type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
)

const (
	ReasonUserStart        = "user_start"
	ReasonUserStop         = "user_stop"
	ReasonRecognitionError = "recognition_error"
	ReasonRestartFailed    = "restart_failed"
)

// Sink receives controller side effects beyond the transcript itself:
// publishing, archiving, metrics. May be nil.
type Sink interface {
	TranscriptAppended(segment, transcript string)
	PartialRecognized(text string)
	StateChanged(state State, reason, errorCode string)
	StreamRestarted()
}

// Controller owns one dictation session: a listening flag, the accumulated
// transcript, and the recognition stream. A nil stream puts the controller in
// unsupported mode, where toggling only reports the missing capability.
//
// All entry points serialize on one mutex; recognition events and user
// operations never interleave.
type Controller struct {
	stream   recognizer.Stream
	notifier notify.Notifier
	clip     export.Clipboard
	saver    export.Saver
	sink     Sink
	log      *slog.Logger

	mu               sync.Mutex
	state            State
	stopRequested    bool
	unsupportedShown bool
	transcript       Transcript
}

func NewController(stream recognizer.Stream, notifier notify.Notifier, clip export.Clipboard, saver export.Saver, sink Sink, log *slog.Logger) *Controller {
	return &Controller{
		stream:   stream,
		notifier: notifier,
		clip:     clip,
		saver:    saver,
		sink:     sink,
		log:      log.With(slog.String("component", "session-controller")),
		state:    StateIdle,
	}
}

// Toggle flips the target listening state. Errors surface through the
// notifier, never as return values.
func (c *Controller) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		if !c.unsupportedShown {
			c.unsupportedShown = true
			c.notifier.Display("Speech Recognition", "Speech recognition is not supported on this device.", notify.SeverityError)
		}
		return
	}

	if c.state == StateIdle {
		c.stopRequested = false
		if err := c.stream.Start(); err != nil {
			c.log.Warn("failed to start recognition", slog.String("error", err.Error()))
			c.notifier.Display("Speech Recognition", "Could not start listening: "+err.Error(), notify.SeverityError)
			return
		}
		c.setState(StateListening, ReasonUserStart, "")
		return
	}

	c.stopRequested = true
	c.stream.Stop()
	c.setState(StateIdle, ReasonUserStop, "")
}

// HandleEvent processes one notification from the recognition stream.
func (c *Controller) HandleEvent(ev recognizer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case recognizer.EventResult:
		c.handleResult(ev.Segments)
	case recognizer.EventEnded:
		c.handleEnded()
	case recognizer.EventError:
		c.handleError(ev.Code)
	}
}

// handleResult appends finalized segments in arrival order and forwards
// provisional text to the sink without persisting it. Results are not gated
// on state: a trailing flush after a stop request still lands.
func (c *Controller) handleResult(segments []recognizer.Segment) {
	var finals, interims []string
	for _, seg := range segments {
		if seg.Final {
			finals = append(finals, seg.Text)
		} else {
			interims = append(interims, seg.Text)
		}
	}
	if appended := strings.Join(finals, ""); appended != "" {
		c.transcript.Append(appended)
		if c.sink != nil {
			c.sink.TranscriptAppended(appended, c.transcript.String())
		}
	}
	if interim := strings.Join(interims, ""); interim != "" && c.sink != nil {
		c.sink.PartialRecognized(interim)
	}
}

// handleEnded distinguishes a spontaneous end (restart silently, the user
// still intends to listen) from the tail of a requested stop.
func (c *Controller) handleEnded() {
	if c.state != StateListening || c.stopRequested {
		return
	}
	if err := c.stream.Start(); err != nil {
		c.log.Warn("failed to restart recognition", slog.String("error", err.Error()))
		c.notifier.Display("Speech Recognition", "Listening stopped: "+err.Error(), notify.SeverityError)
		c.setState(StateIdle, ReasonRestartFailed, "")
		return
	}
	c.log.Debug("recognition stream restarted")
	if c.sink != nil {
		c.sink.StreamRestarted()
	}
}

func (c *Controller) handleError(code string) {
	c.notifier.Display("Speech Recognition", "Recognition error: "+code, notify.SeverityError)
	if c.state != StateIdle {
		c.setState(StateIdle, ReasonRecognitionError, code)
	}
}

// CopyTranscript places the full transcript on the clipboard. No-op when the
// transcript is empty; clipboard failure is logged, not surfaced.
func (c *Controller) CopyTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transcript.Empty() {
		return
	}
	if err := c.clip.Write(c.transcript.String()); err != nil {
		c.log.Warn("failed to copy transcript", slog.String("error", err.Error()))
		return
	}
	c.notifier.Display("Transcript", "Copied to clipboard.", notify.SeverityInfo)
}

// DownloadTranscript saves the transcript as a date-named text file. No-op
// when empty.
func (c *Controller) DownloadTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transcript.Empty() {
		return
	}
	path, err := c.saver.Save(c.transcript.String())
	if err != nil {
		c.log.Warn("failed to save transcript", slog.String("error", err.Error()))
		return
	}
	c.log.Info("transcript saved", slog.String("path", path))
}

// ClearTranscript unconditionally resets the transcript. Idempotent.
func (c *Controller) ClearTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.Reset()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) TranscriptText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.String()
}

func (c *Controller) Supported() bool {
	return c.stream != nil
}

func (c *Controller) setState(state State, reason, errorCode string) {
	c.state = state
	c.log.Info("session state changed",
		slog.String("state", string(state)),
		slog.String("reason", reason))
	if c.sink != nil {
		c.sink.StateChanged(state, reason, errorCode)
	}
}
