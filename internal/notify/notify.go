package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/scribelabs/scribe-core/internal/config"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notifier is the user-facing toast surface. Delivery is best-effort.
type Notifier interface {
	Display(title, message string, severity Severity)
}

// FromConfig selects the configured notifier implementation.
func FromConfig(cfg config.NotifyConfig, log *slog.Logger) Notifier {
	if cfg.Mode == "desktop" {
		return &DesktopNotifier{app: cfg.AppName, log: log}
	}
	return &LogNotifier{log: log}
}

// DesktopNotifier shows OS-level notifications.
type DesktopNotifier struct {
	app string
	log *slog.Logger
}

func (n *DesktopNotifier) Display(title, message string, severity Severity) {
	full := n.app + ": " + title
	var err error
	if severity == SeverityError {
		err = beeep.Alert(full, message, "")
	} else {
		err = beeep.Notify(full, message, "")
	}
	if err != nil {
		n.log.Warn("failed to deliver desktop notification",
			slog.String("title", title),
			slog.String("error", err.Error()))
	}
}

// LogNotifier writes notifications to the structured log. Used in headless
// deployments where the UI renders session.state messages itself.
type LogNotifier struct {
	log *slog.Logger
}

func (n *LogNotifier) Display(title, message string, severity Severity) {
	if severity == SeverityError {
		n.log.Warn("notification", slog.String("title", title), slog.String("message", message))
		return
	}
	n.log.Info("notification", slog.String("title", title), slog.String("message", message))
}
