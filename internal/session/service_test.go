package session

import (
	"context"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/recognizer"
	"github.com/scribelabs/scribe-core/internal/transcriptstore"
)

func newTestService(t *testing.T, stream recognizer.Stream) *Service {
	t.Helper()
	store, err := transcriptstore.Open(context.Background(), config.StoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := NewService(context.Background(), config.SessionConfig{PublishInterim: true},
		nil, stream, store, &fakeNotifier{}, &fakeClipboard{}, &fakeSaver{}, "en-US", newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServiceFeedsControllerFromStream(t *testing.T) {
	stream := newFakeStream()
	svc := newTestService(t, stream)

	svc.Controller().Toggle()
	stream.events <- recognizer.Event{Type: recognizer.EventResult, Segments: []recognizer.Segment{
		{Text: "streamed text ", Final: true},
	}}

	waitFor(t, func() bool {
		return svc.Controller().TranscriptText() == "streamed text "
	}, "transcript never received streamed segment")
}

func TestServiceMintsSessionPerUserStart(t *testing.T) {
	stream := newFakeStream()
	svc := newTestService(t, stream)

	if svc.SessionID() != "" {
		t.Fatal("expected no session before first start")
	}

	svc.Controller().Toggle()
	first := svc.SessionID()
	if first == "" {
		t.Fatal("expected session id after start")
	}

	// A spontaneous end keeps the session identity.
	stream.events <- recognizer.Event{Type: recognizer.EventEnded}
	waitFor(t, func() bool { return stream.startCount() == 2 }, "stream never restarted")
	if svc.SessionID() != first {
		t.Fatal("spontaneous restart must not mint a new session")
	}

	svc.Controller().Toggle()
	svc.Controller().Toggle()
	if second := svc.SessionID(); second == first {
		t.Fatal("expected a fresh session id on the next user start")
	}
}

func TestServiceCloseStopsListening(t *testing.T) {
	stream := newFakeStream()
	store, err := transcriptstore.Open(context.Background(), config.StoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := NewService(context.Background(), config.SessionConfig{}, nil, stream, store,
		&fakeNotifier{}, &fakeClipboard{}, &fakeSaver{}, "en-US", newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}

	svc.Controller().Toggle()
	svc.Close()

	stream.mu.Lock()
	stops := stream.stops
	stream.mu.Unlock()
	if stops != 1 {
		t.Fatalf("expected close to stop the stream, stops = %d", stops)
	}
	if st := svc.Controller().State(); st != StateIdle {
		t.Fatalf("expected idle after close, got %q", st)
	}
}
