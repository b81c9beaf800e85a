package recognizer

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
)

// utterancesPerRun is how many phrases the mock recognizes before it
// simulates a spontaneous end, so the auto-restart path gets exercised
// during development.
const utterancesPerRun = 3

var mockPhrases = []string{
	"The quick brown fox jumps over the lazy dog.",
	"Dictation is working as expected.",
	"This sentence was recognized by the mock backend.",
	"Remember to review the meeting notes.",
}

// mockStream emits scripted partial and final segments on a timer. Useful for
// local development when no recognizer process is configured.
type mockStream struct {
	cfg      config.RecognizerConfig
	log      *slog.Logger
	events   chan Event
	interval time.Duration
	phrases  []string

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	next    int
	wg      sync.WaitGroup
}

func NewMockStream(cfg config.RecognizerConfig, log *slog.Logger) Stream {
	interval := time.Duration(cfg.MockIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &mockStream{
		cfg:      cfg,
		log:      log.With(slog.String("component", "mock-recognizer")),
		events:   make(chan Event, 32),
		interval: interval,
		phrases:  mockPhrases,
	}
}

func (m *mockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mock recognizer closed")
	}
	if m.running {
		return nil
	}
	m.running = true
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.stop)
	return nil
}

func (m *mockStream) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	// The real capability fires an ended notification after a stop request.
	select {
	case m.events <- Event{Type: EventEnded}:
	default:
	}
}

func (m *mockStream) Events() <-chan Event {
	return m.events
}

func (m *mockStream) Close() error {
	m.Stop()
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

func (m *mockStream) run(stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	emitted := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			phrase := m.nextPhrase()
			if m.cfg.InterimResults {
				interim := firstWords(phrase, 3)
				if !m.emit(Event{Type: EventResult, Segments: []Segment{{Text: interim, Confidence: 0.4}}}, stop) {
					return
				}
			}
			if !m.emit(Event{Type: EventResult, Segments: []Segment{{Text: phrase + " ", Final: true, Confidence: 0.92}}}, stop) {
				return
			}
			emitted++
			if emitted >= utterancesPerRun {
				m.endRun(stop)
				return
			}
		}
	}
}

// endRun simulates the recognizer timing out mid-session.
func (m *mockStream) endRun(stop <-chan struct{}) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()
	m.emit(Event{Type: EventEnded}, stop)
}

func (m *mockStream) emit(ev Event, stop <-chan struct{}) bool {
	select {
	case m.events <- ev:
		return true
	case <-stop:
		return false
	}
}

func (m *mockStream) nextPhrase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	phrase := m.phrases[m.next%len(m.phrases)]
	m.next++
	return phrase
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
