package session

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/scribelabs/scribe-core/internal/notify"
	"github.com/scribelabs/scribe-core/internal/recognizer"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStream struct {
	mu       sync.Mutex
	events   chan recognizer.Event
	starts   int
	stops    int
	startErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan recognizer.Event, 32)}
}

func (f *fakeStream) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeStream) Events() <-chan recognizer.Event { return f.events }

func (f *fakeStream) Close() error {
	close(f.events)
	return nil
}

func (f *fakeStream) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type notification struct {
	title    string
	message  string
	severity notify.Severity
}

type fakeNotifier struct {
	mu    sync.Mutex
	shown []notification
}

func (f *fakeNotifier) Display(title, message string, severity notify.Severity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, notification{title, message, severity})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown)
}

func (f *fakeNotifier) last() notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.shown) == 0 {
		return notification{}
	}
	return f.shown[len(f.shown)-1]
}

type fakeClipboard struct {
	text string
	err  error
}

func (f *fakeClipboard) Write(text string) error {
	if f.err != nil {
		return f.err
	}
	f.text = text
	return nil
}

type fakeSaver struct {
	saved string
	calls int
}

func (f *fakeSaver) Save(text string) (string, error) {
	f.saved = text
	f.calls++
	return "/tmp/transcript.txt", nil
}

func newTestController(stream recognizer.Stream) (*Controller, *fakeNotifier, *fakeClipboard, *fakeSaver) {
	notifier := &fakeNotifier{}
	clip := &fakeClipboard{}
	saver := &fakeSaver{}
	ctrl := NewController(stream, notifier, clip, saver, nil, newLogger())
	return ctrl, notifier, clip, saver
}

func result(segments ...recognizer.Segment) recognizer.Event {
	return recognizer.Event{Type: recognizer.EventResult, Segments: segments}
}

func TestOnlyFinalSegmentsAccumulate(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, _ := newTestController(stream)

	ctrl.Toggle()
	ctrl.HandleEvent(result(
		recognizer.Segment{Text: "Hello ", Final: true},
		recognizer.Segment{Text: "wor", Final: false},
	))
	ctrl.HandleEvent(result(recognizer.Segment{Text: "world.", Final: true}))

	if got := ctrl.TranscriptText(); got != "Hello world." {
		t.Fatalf("expected %q, got %q", "Hello world.", got)
	}
}

func TestInterimNeverPersists(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, _ := newTestController(stream)

	ctrl.Toggle()
	ctrl.HandleEvent(result(recognizer.Segment{Text: "provisional", Final: false}))

	if got := ctrl.TranscriptText(); got != "" {
		t.Fatalf("interim text leaked into transcript: %q", got)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, _ := newTestController(stream)

	ctrl.Toggle()
	ctrl.HandleEvent(result(recognizer.Segment{Text: "some text", Final: true}))

	ctrl.ClearTranscript()
	if got := ctrl.TranscriptText(); got != "" {
		t.Fatalf("expected empty transcript after clear, got %q", got)
	}
	ctrl.ClearTranscript()
	if got := ctrl.TranscriptText(); got != "" {
		t.Fatalf("expected empty transcript after second clear, got %q", got)
	}
}

func TestToggleSymmetryLeavesTranscriptUnchanged(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, _ := newTestController(stream)

	ctrl.Toggle()
	ctrl.HandleEvent(result(recognizer.Segment{Text: "before ", Final: true}))
	ctrl.Toggle()

	ctrl.Toggle()
	ctrl.Toggle()

	if got := ctrl.TranscriptText(); got != "before " {
		t.Fatalf("toggle cycle changed transcript: %q", got)
	}
	if st := ctrl.State(); st != StateIdle {
		t.Fatalf("expected idle after symmetric toggles, got %q", st)
	}
}

func TestSpontaneousEndTriggersRestart(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, _ := newTestController(stream)

	ctrl.Toggle()
	if stream.startCount() != 1 {
		t.Fatalf("expected one start, got %d", stream.startCount())
	}

	ctrl.HandleEvent(recognizer.Event{Type: recognizer.EventEnded})

	if stream.startCount() != 2 {
		t.Fatalf("expected restart, start count = %d", stream.startCount())
	}
	if st := ctrl.State(); st != StateListening {
		t.Fatalf("expected still listening after restart, got %q", st)
	}
}

func TestEndedAfterStopDoesNotRestart(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, _ := newTestController(stream)

	ctrl.Toggle()
	ctrl.Toggle()
	ctrl.HandleEvent(recognizer.Event{Type: recognizer.EventEnded})

	if stream.startCount() != 1 {
		t.Fatalf("ended after stop must not restart, start count = %d", stream.startCount())
	}
	if st := ctrl.State(); st != StateIdle {
		t.Fatalf("expected idle, got %q", st)
	}
}

func TestErrorForcesIdleAndSurfacesCode(t *testing.T) {
	stream := newFakeStream()
	ctrl, notifier, _, _ := newTestController(stream)

	ctrl.Toggle()
	ctrl.HandleEvent(recognizer.Event{Type: recognizer.EventError, Code: "no-speech"})

	if st := ctrl.State(); st != StateIdle {
		t.Fatalf("expected idle after error, got %q", st)
	}
	n := notifier.last()
	if n.severity != notify.SeverityError {
		t.Fatalf("expected error notification, got %+v", n)
	}
	if want := "no-speech"; !strings.Contains(n.message, want) {
		t.Fatalf("expected error code %q in message %q", want, n.message)
	}

	// No automatic retry after an error; only an explicit toggle restarts.
	if stream.startCount() != 1 {
		t.Fatalf("error must not restart the stream, start count = %d", stream.startCount())
	}
}

func TestLateResultAfterStopStillAppends(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, _ := newTestController(stream)

	ctrl.Toggle()
	ctrl.Toggle()
	ctrl.HandleEvent(result(recognizer.Segment{Text: "trailing flush ", Final: true}))

	if got := ctrl.TranscriptText(); got != "trailing flush " {
		t.Fatalf("late final result lost: %q", got)
	}
}

func TestUnsupportedCapability(t *testing.T) {
	ctrl, notifier, _, _ := newTestController(nil)

	ctrl.Toggle()
	if st := ctrl.State(); st != StateIdle {
		t.Fatalf("expected idle when unsupported, got %q", st)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", notifier.count())
	}
	if n := notifier.last(); !strings.Contains(n.message, "not supported") {
		t.Fatalf("expected not-supported message, got %q", n.message)
	}

	// Further toggles stay silent.
	ctrl.Toggle()
	ctrl.Toggle()
	if notifier.count() != 1 {
		t.Fatalf("expected the notification exactly once, got %d", notifier.count())
	}
}

func TestStartFailureStaysIdle(t *testing.T) {
	stream := newFakeStream()
	stream.startErr = errors.New("audio device busy")
	ctrl, notifier, _, _ := newTestController(stream)

	ctrl.Toggle()
	if st := ctrl.State(); st != StateIdle {
		t.Fatalf("expected idle after failed start, got %q", st)
	}
	if n := notifier.last(); n.severity != notify.SeverityError {
		t.Fatalf("expected error notification, got %+v", n)
	}
}

func TestCopyTranscript(t *testing.T) {
	stream := newFakeStream()
	ctrl, notifier, clip, _ := newTestController(stream)

	ctrl.CopyTranscript()
	if clip.text != "" || notifier.count() != 0 {
		t.Fatal("copy of empty transcript must be a no-op")
	}

	ctrl.Toggle()
	ctrl.HandleEvent(result(recognizer.Segment{Text: "copy me", Final: true}))
	ctrl.CopyTranscript()

	if clip.text != "copy me" {
		t.Fatalf("expected clipboard content, got %q", clip.text)
	}
	if n := notifier.last(); n.severity != notify.SeverityInfo {
		t.Fatalf("expected copy confirmation, got %+v", n)
	}
}

func TestCopyFailureIsSilent(t *testing.T) {
	stream := newFakeStream()
	ctrl, notifier, clip, _ := newTestController(stream)
	clip.err = errors.New("no display")

	ctrl.Toggle()
	ctrl.HandleEvent(result(recognizer.Segment{Text: "text", Final: true}))
	ctrl.CopyTranscript()

	if notifier.count() != 0 {
		t.Fatalf("clipboard failure must not raise a notification, got %d", notifier.count())
	}
}

func TestDownloadTranscript(t *testing.T) {
	stream := newFakeStream()
	ctrl, _, _, saver := newTestController(stream)

	ctrl.DownloadTranscript()
	if saver.calls != 0 {
		t.Fatal("download of empty transcript must be a no-op")
	}

	ctrl.Toggle()
	ctrl.HandleEvent(result(recognizer.Segment{Text: "save me", Final: true}))
	ctrl.DownloadTranscript()

	if saver.calls != 1 || saver.saved != "save me" {
		t.Fatalf("expected one save with transcript, got calls=%d text=%q", saver.calls, saver.saved)
	}
}
