package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/export"
	"github.com/scribelabs/scribe-core/internal/notify"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/recognizer"
	"github.com/scribelabs/scribe-core/internal/transcriptstore"
)

// Service bridges the session controller to the bus: recognition events flow
// in from the stream, control messages arrive on ctrl.* subjects, transcript
// and state updates go back out, finalized segments land in the archive.
type Service struct {
	cfg    config.SessionConfig
	bus    *bus.Client
	stream recognizer.Stream
	store  *transcriptstore.Store
	ctrl   *Controller
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	ready  bool

	mu        sync.Mutex
	sessionID string
	language  string

	segmentCounter metric.Int64Counter
	restartCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
}

func NewService(parent context.Context, cfg config.SessionConfig, busClient *bus.Client, stream recognizer.Stream, store *transcriptstore.Store, notifier notify.Notifier, clip export.Clipboard, saver export.Saver, language string, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		stream:   stream,
		store:    store,
		logger:   logger.With(slog.String("component", "session-service")),
		ctx:      ctx,
		cancel:   cancel,
		language: language,
	}
	s.ctrl = NewController(stream, notifier, clip, saver, s, logger)
	return s
}

func (s *Service) Start() error {
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}

	if s.bus != nil {
		handlers := []struct {
			subject string
			op      func()
		}{
			{protocol.SubjectCtrlToggle, s.ctrl.Toggle},
			{protocol.SubjectCtrlCopy, s.ctrl.CopyTranscript},
			{protocol.SubjectCtrlDownload, s.ctrl.DownloadTranscript},
			{protocol.SubjectCtrlClear, s.ctrl.ClearTranscript},
		}
		for _, h := range handlers {
			op := h.op
			sub, err := s.bus.Conn().Subscribe(h.subject, func(_ *nats.Msg) { op() })
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", h.subject, err)
			}
			s.subs = append(s.subs, sub)
		}
	}

	if s.stream != nil {
		s.wg.Add(1)
		go s.eventLoop()
	}

	s.ready = true
	return nil
}

func (s *Service) Close() {
	// The controller owns the recognition resource for its lifetime; make
	// sure listening stops before the stream is torn down.
	if s.ctrl.State() == StateListening {
		s.ctrl.Toggle()
	}
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

// Controller exposes the underlying session controller for the HTTP API.
func (s *Service) Controller() *Controller {
	return s.ctrl
}

func (s *Service) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Service) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.stream.Events():
			if !ok {
				return
			}
			s.ctrl.HandleEvent(ev)
		}
	}
}

// TranscriptAppended implements Sink.
func (s *Service) TranscriptAppended(segment, transcript string) {
	if s.segmentCounter != nil {
		s.segmentCounter.Add(s.ctx, 1)
	}
	sessionID := s.SessionID()
	if s.store != nil {
		if err := s.store.AppendSegment(s.ctx, sessionID, segment); err != nil {
			s.logger.Warn("failed to archive segment", slogError(err))
		}
	}
	s.publish(protocol.SubjectTranscriptFinal, protocol.TranscriptUpdate{
		SessionID:  sessionID,
		Text:       segment,
		Partial:    false,
		Transcript: transcript,
		Timestamp:  time.Now().UTC(),
	})
}

// PartialRecognized implements Sink.
func (s *Service) PartialRecognized(text string) {
	if !s.cfg.PublishInterim {
		return
	}
	s.publish(protocol.SubjectTranscriptPartial, protocol.TranscriptUpdate{
		SessionID: s.SessionID(),
		Text:      text,
		Partial:   true,
		Timestamp: time.Now().UTC(),
	})
}

// StateChanged implements Sink. A user-initiated start mints a new session
// identity; spontaneous restarts keep it, so one session spans restarts.
func (s *Service) StateChanged(state State, reason, errorCode string) {
	if state == StateListening && reason == ReasonUserStart {
		id := uuid.NewString()
		s.mu.Lock()
		s.sessionID = id
		s.mu.Unlock()
		if s.store != nil {
			if err := s.store.BeginSession(s.ctx, id, s.language); err != nil {
				s.logger.Warn("failed to record session", slogError(err))
			}
		}
	}
	if errorCode != "" && s.errorCounter != nil {
		s.errorCounter.Add(s.ctx, 1)
	}
	s.publish(protocol.SubjectSessionState, protocol.StateChange{
		SessionID: s.SessionID(),
		State:     string(state),
		Reason:    reason,
		ErrorCode: errorCode,
		Timestamp: time.Now().UTC(),
	})
}

// StreamRestarted implements Sink.
func (s *Service) StreamRestarted() {
	if s.restartCounter != nil {
		s.restartCounter.Add(s.ctx, 1)
	}
}

func (s *Service) publish(subject string, msg any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal bus message", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish bus message",
			slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/scribelabs/scribe-core/session")
	var err error
	s.segmentCounter, err = meter.Int64Counter("scribe.session.segments",
		metric.WithDescription("Finalized transcript segments appended"))
	if err != nil {
		return err
	}
	s.restartCounter, err = meter.Int64Counter("scribe.session.restarts",
		metric.WithDescription("Silent recognition stream restarts"))
	if err != nil {
		return err
	}
	s.errorCounter, err = meter.Int64Counter("scribe.session.errors",
		metric.WithDescription("Recognition errors that forced the session idle"))
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
