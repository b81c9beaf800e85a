package protocol

import "time"

// TranscriptUpdate carries recognized text broadcast on the bus. Partial
// updates are provisional and may be revised; final updates are already
// appended to the session transcript.
type TranscriptUpdate struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Transcript string    `json:"transcript,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StateChange announces a session state transition.
type StateChange struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptPartial = "session.transcript.partial"
	SubjectTranscriptFinal   = "session.transcript.final"
	SubjectSessionState      = "session.state"

	SubjectCtrlToggle   = "ctrl.session.toggle"
	SubjectCtrlCopy     = "ctrl.transcript.copy"
	SubjectCtrlDownload = "ctrl.transcript.download"
	SubjectCtrlClear    = "ctrl.transcript.clear"
)
