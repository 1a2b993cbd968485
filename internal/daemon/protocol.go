// Package daemon carries the command/event protocol between the foreground
// contexts and minutemand: NDJSON over a Unix socket, one JSON object per
// line, each tagged with an action or event name.
package daemon

type Action string

const (
	ActionStartRecording      Action = "START_RECORDING"
	ActionStopRecording       Action = "STOP_RECORDING"
	ActionProcessSessionAudio Action = "PROCESS_SESSION_AUDIO"
	ActionDeleteSession       Action = "DELETE_SESSION"
	ActionStatus              Action = "STATUS"
	ActionSubscribe           Action = "SUBSCRIBE"
)

const (
	EventAnalysisComplete = "ANALYSIS_COMPLETE"
	EventReportReady      = "SESSION_REPORT_READY"
	EventStoreChanged     = "STORE_CHANGED"
)

// Command is sent from a client to the daemon.
type Command struct {
	Action          Action  `json:"action"`
	SessionID       string  `json:"sessionId,omitempty"`
	AudioBase64     string  `json:"audioBase64,omitempty"`
	MimeType        string  `json:"mimeType,omitempty"`
	DurationMinutes float64 `json:"durationMinutes,omitempty"`
	IsRegeneration  bool    `json:"isRegeneration,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId,omitempty"`
	Recording *bool  `json:"recording,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event is streamed to subscribed clients. STORE_CHANGED only names the
// key; observers re-read the store themselves.
type Event struct {
	Event         string `json:"event"`
	Key           string `json:"key,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Status        string `json:"status,omitempty"`
	Title         string `json:"title,omitempty"`
	SessionReport string `json:"sessionReport,omitempty"`
	HasAudio      *bool  `json:"hasAudio,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BoolPtr is a convenience for optional protocol fields.
func BoolPtr(b bool) *bool { return &b }
