package tui

import (
	"github.com/minutemanhq/minuteman/internal/daemon"
	"github.com/minutemanhq/minuteman/internal/store"
)

// connectedMsg is sent when both daemon connections are established.
type connectedMsg struct {
	client   *daemon.Client // for commands
	evClient *daemon.Client // for the event subscription
}

// connectErrorMsg is sent when the daemon connection fails.
type connectErrorMsg struct {
	err error
}

// daemonEventMsg wraps a streamed event from the daemon.
type daemonEventMsg struct {
	event daemon.Event
}

// eventStreamErrorMsg is sent when the event stream breaks.
type eventStreamErrorMsg struct {
	err error
}

// startResponseMsg carries the response to a start command.
type startResponseMsg struct {
	response daemon.Response
}

// stopResponseMsg carries the response to a stop command.
type stopResponseMsg struct {
	response daemon.Response
}

// regenerateResponseMsg carries the response to a regenerate command.
type regenerateResponseMsg struct {
	response daemon.Response
}

// stateLoadedMsg carries a fresh snapshot read from the store.
type stateLoadedMsg struct {
	state store.State
	err   error
}

// reloadTickMsg fires when the reconciliation debounce window elapses.
type reloadTickMsg struct{}

// clearStatusMsg dismisses a transient status line.
type clearStatusMsg struct {
	seq int
}

// reconnectTickMsg triggers a reconnection attempt.
type reconnectTickMsg struct{}
