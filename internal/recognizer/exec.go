package recognizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/scribelabs/scribe-core/internal/config"
)

// execStream drives a long-lived external recognizer process. Control ops go
// to its stdin as JSON lines; recognition events come back on stdout as JSON
// lines. The process owns the microphone for its lifetime, matching the
// one-handle-per-process contract.
type execStream struct {
	cfg    config.RecognizerConfig
	log    *slog.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type controlOp struct {
	Op         string `json:"op"`
	Language   string `json:"language,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
	Interim    bool   `json:"interim,omitempty"`
}

type wireSegment struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

type wireEvent struct {
	Type     string        `json:"type"`
	Segments []wireSegment `json:"segments,omitempty"`
	Code     string        `json:"code,omitempty"`
}

func NewExecStream(cfg config.RecognizerConfig, log *slog.Logger) (Stream, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	if cfg.ModelPath != "" {
		args = append(args, "--model", cfg.ModelPath)
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("recognizer stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recognizer stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recognizer command: %w", err)
	}

	s := &execStream{
		cfg:    cfg,
		log:    log.With(slog.String("component", "exec-recognizer")),
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan Event, 32),
	}
	s.wg.Add(1)
	go s.readLoop(stdout)

	s.log.Info("recognizer process started", slog.String("command", args[0]))
	return s, nil
}

func (s *execStream) Start() error {
	return s.send(controlOp{
		Op:         "start",
		Language:   s.cfg.Language,
		Continuous: true,
		Interim:    s.cfg.InterimResults,
	})
}

func (s *execStream) Stop() {
	if err := s.send(controlOp{Op: "stop"}); err != nil {
		s.log.Warn("failed to send stop to recognizer", slog.String("error", err.Error()))
	}
}

func (s *execStream) Events() <-chan Event {
	return s.events
}

func (s *execStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stdin.Close()
	// Drain anything the reader still has queued so it can finish even if
	// the consumer is already gone.
	go func() {
		for range s.events {
		}
	}()
	err := s.cmd.Wait()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("recognizer process exit: %w", err)
	}
	return nil
}

func (s *execStream) send(op controlOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("recognizer stream closed")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("write recognizer control: %w", err)
	}
	return nil
}

func (s *execStream) readLoop(stdout io.Reader) {
	defer s.wg.Done()
	defer close(s.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var we wireEvent
		if err := json.Unmarshal(line, &we); err != nil {
			s.log.Warn("failed to decode recognizer event", slog.String("error", err.Error()))
			continue
		}
		ev, ok := decodeEvent(we)
		if !ok {
			s.log.Warn("unknown recognizer event type", slog.String("type", we.Type))
			continue
		}
		s.events <- ev
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("recognizer stdout read failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	deliberate := s.closed
	s.mu.Unlock()
	if !deliberate {
		// The process died underneath us; surface it as a recognition error
		// so the session drops back to idle.
		s.events <- Event{Type: EventError, Code: "capability-terminated"}
	}
}

func decodeEvent(we wireEvent) (Event, bool) {
	switch we.Type {
	case "result":
		segments := make([]Segment, 0, len(we.Segments))
		for _, ws := range we.Segments {
			segments = append(segments, Segment{Text: ws.Text, Final: ws.Final, Confidence: ws.Confidence})
		}
		return Event{Type: EventResult, Segments: segments}, true
	case "error":
		return Event{Type: EventError, Code: we.Code}, true
	case "ended":
		return Event{Type: EventEnded}, true
	default:
		return Event{}, false
	}
}
