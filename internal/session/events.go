package session

import "github.com/minutemanhq/minuteman/internal/store"

type EventKind string

const (
	EventAnalysisComplete EventKind = "ANALYSIS_COMPLETE"
	EventReportReady      EventKind = "SESSION_REPORT_READY"
)

// Event is broadcast to every observing context when a session reaches a
// stable state. Observers still re-read the store; events only say "look".
type Event struct {
	Kind          EventKind
	SessionID     string
	Status        store.SessionStatus
	Title         string
	SessionReport string
	HasAudio      bool
	Error         string
}

// EventSink receives coordinator events. Sinks must not block.
type EventSink func(Event)
