package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/export"
	"github.com/scribelabs/scribe-core/internal/natsserver"
	"github.com/scribelabs/scribe-core/internal/notify"
	"github.com/scribelabs/scribe-core/internal/recognizer"
	"github.com/scribelabs/scribe-core/internal/session"
	"github.com/scribelabs/scribe-core/internal/transcriptstore"
)

// Runtime wires the session service, bus, archive, and HTTP control surface
// together and owns their lifecycle.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	svc    *session.Service
	ready  atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := transcriptstore.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	defer store.Close()

	// A missing capability disables the feature for the whole process life;
	// the controller reports it on the first toggle instead of crashing.
	stream, err := recognizer.Open(r.cfg.Recognizer, r.logger)
	if err != nil {
		r.logger.Warn("speech recognition unavailable", slog.String("error", err.Error()))
		stream = nil
	}
	if stream != nil {
		defer func() {
			if err := stream.Close(); err != nil {
				r.logger.Warn("recognizer close failed", slog.String("error", err.Error()))
			}
		}()
	}

	notifier := notify.FromConfig(r.cfg.Notify, r.logger)
	clip := export.SystemClipboard()
	saver := export.NewLocalSaver(r.cfg.Export)

	r.svc = session.NewService(ctx, r.cfg.Session, busClient, stream, store,
		notifier, clip, saver, r.cfg.Recognizer.Language, r.logger)
	if err := r.svc.Start(); err != nil {
		return fmt.Errorf("failed to start session service: %w", err)
	}
	defer r.svc.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	mux.HandleFunc("GET /v1/session", r.handleSession)
	mux.HandleFunc("POST /v1/session/toggle", r.handleToggle)
	mux.HandleFunc("GET /v1/transcript", r.handleTranscript)
	mux.HandleFunc("POST /v1/transcript/copy", r.handleCopy)
	mux.HandleFunc("POST /v1/transcript/download", r.handleDownload)
	mux.HandleFunc("DELETE /v1/transcript", r.handleClear)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-gctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}

	waitErr := g.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return waitErr
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.svc.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSession(w http.ResponseWriter, _ *http.Request) {
	ctrl := r.svc.Controller()
	writeJSON(w, map[string]any{
		"state":      string(ctrl.State()),
		"session_id": r.svc.SessionID(),
		"supported":  ctrl.Supported(),
	})
}

func (r *Runtime) handleToggle(w http.ResponseWriter, _ *http.Request) {
	r.svc.Controller().Toggle()
	writeJSON(w, map[string]any{"state": string(r.svc.Controller().State())})
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(r.svc.Controller().TranscriptText()))
}

func (r *Runtime) handleCopy(w http.ResponseWriter, _ *http.Request) {
	r.svc.Controller().CopyTranscript()
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleDownload(w http.ResponseWriter, _ *http.Request) {
	r.svc.Controller().DownloadTranscript()
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleClear(w http.ResponseWriter, _ *http.Request) {
	r.svc.Controller().ClearTranscript()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
