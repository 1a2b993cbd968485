// Package tui renders the session watch view: a live list of sessions
// driven by daemon events, with recording controls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/minutemanhq/minuteman/internal/daemon"
	"github.com/minutemanhq/minuteman/internal/store"
)

// reconcileDelay is how long the view waits after a store change before
// re-reading the store. Bursts of changes collapse into one reload.
const reconcileDelay = 200 * time.Millisecond

// statusHold is how long a transient status line stays on screen.
const statusHold = 4 * time.Second

// Model is the root bubbletea model for the watch view.
type Model struct {
	socketPath string
	st         store.Store

	// Connection state
	client    *daemon.Client // command connection
	evClient  *daemon.Client // event subscription connection
	connected bool
	connError string

	// Store snapshot
	state store.State

	// Reconciliation state. While the terminal is unfocused, store
	// changes only mark the snapshot dirty; the reload happens when
	// focus returns.
	visible       bool
	dirty         bool
	reloadPending bool

	// UI state
	selected   int
	showReport bool
	width      int
	height     int

	// Transient status line
	statusText string
	statusSeq  int

	errorMessage string

	reconnecting     bool
	reconnectAttempt int
}

// New creates a watch model talking to the daemon at socketPath and
// reading snapshots from st. The caller owns st and closes it after the
// program exits.
func New(socketPath string, st store.Store) Model {
	return Model{
		socketPath: socketPath,
		st:         st,
		visible:    true,
		statusText: "Connecting to minutemand...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.connectCmd(), m.loadStateCmd())
}

// connectCmd opens two daemon connections: one for commands, one for the
// event subscription.
func (m Model) connectCmd() tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(m.socketPath)
		if err != nil {
			return connectErrorMsg{err: err}
		}
		evClient, err := daemon.Connect(m.socketPath)
		if err != nil {
			client.Close()
			return connectErrorMsg{err: err}
		}
		return connectedMsg{client: client, evClient: evClient}
	}
}

func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		if _, err := evClient.SendCommand(daemon.Command{Action: daemon.ActionSubscribe}); err != nil {
			return eventStreamErrorMsg{err: err}
		}
		return readEventCmd(evClient)()
	}
}

func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return eventStreamErrorMsg{err: err}
		}
		return daemonEventMsg{event: ev}
	}
}

func (m Model) loadStateCmd() tea.Cmd {
	st := m.st
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		state, err := st.ReadAll(ctx)
		return stateLoadedMsg{state: state, err: err}
	}
}

func startCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Action: daemon.ActionStartRecording})
		if err != nil {
			return eventStreamErrorMsg{err: err}
		}
		return startResponseMsg{response: resp}
	}
}

func stopCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Action: daemon.ActionStopRecording})
		if err != nil {
			return eventStreamErrorMsg{err: err}
		}
		return stopResponseMsg{response: resp}
	}
}

func regenerateCmd(client *daemon.Client, sessionID string) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{
			Action:         daemon.ActionProcessSessionAudio,
			SessionID:      sessionID,
			IsRegeneration: true,
		})
		if err != nil {
			return eventStreamErrorMsg{err: err}
		}
		return regenerateResponseMsg{response: resp}
	}
}

func reloadTick() tea.Cmd {
	return tea.Tick(reconcileDelay, func(time.Time) tea.Msg {
		return reloadTickMsg{}
	})
}

func clearStatusCmd(seq int) tea.Cmd {
	return tea.Tick(statusHold, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}

func reconnectTick(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return reconnectTickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.FocusMsg:
		m.visible = true
		if m.dirty && !m.reloadPending {
			m.reloadPending = true
			return m, reloadTick()
		}
		return m, nil

	case tea.BlurMsg:
		m.visible = false
		return m, nil

	case connectedMsg:
		m.client = msg.client
		m.evClient = msg.evClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = ""
		return m, tea.Batch(subscribeCmd(m.evClient), m.loadStateCmd())

	case connectErrorMsg:
		m.connected = false
		m.connError = msg.err.Error()
		m.reconnecting = true
		return m, reconnectTick(m.reconnectAttempt)

	case daemonEventMsg:
		cmd := m.handleEvent(msg.event)
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case eventStreamErrorMsg:
		m.connected = false
		m.connError = msg.err.Error()
		m.reconnecting = true
		if m.client != nil {
			m.client.Close()
			m.client = nil
		}
		if m.evClient != nil {
			m.evClient.Close()
			m.evClient = nil
		}
		return m, reconnectTick(m.reconnectAttempt)

	case reconnectTickMsg:
		m.reconnectAttempt++
		return m, m.connectCmd()

	case reloadTickMsg:
		m.reloadPending = false
		m.dirty = false
		return m, m.loadStateCmd()

	case stateLoadedMsg:
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, nil
		}
		m.state = msg.state
		if m.selected >= len(m.state.Sessions) {
			m.selected = max(0, len(m.state.Sessions)-1)
		}
		return m, nil

	case startResponseMsg:
		if msg.response.OK {
			return m.setStatus(fmt.Sprintf("recording %s", shortID(msg.response.SessionID)))
		}
		m.errorMessage = msg.response.Error
		return m, nil

	case stopResponseMsg:
		if msg.response.OK {
			return m.setStatus("analyzing...")
		}
		m.errorMessage = msg.response.Error
		return m, nil

	case regenerateResponseMsg:
		if msg.response.OK {
			return m.setStatus("regenerating report...")
		}
		m.errorMessage = msg.response.Error
		return m, nil

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.statusText = ""
		}
		return m, nil
	}

	return m, nil
}

// handleEvent processes a daemon event and returns any resulting command.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case daemon.EventStoreChanged:
		m.dirty = true
		if m.visible && !m.reloadPending {
			m.reloadPending = true
			return reloadTick()
		}

	case daemon.EventAnalysisComplete:
		label := ev.Title
		if label == "" {
			label = shortID(ev.SessionID)
		}
		if ev.Status == string(store.StatusFailed) {
			m.statusSeq++
			m.statusText = fmt.Sprintf("analysis failed: %s", label)
			if ev.Error != "" {
				m.errorMessage = ev.Error
			}
		} else {
			m.statusSeq++
			m.statusText = fmt.Sprintf("analysis complete: %s", label)
		}
		return clearStatusCmd(m.statusSeq)

	case daemon.EventReportReady:
		m.statusSeq++
		m.statusText = fmt.Sprintf("report ready: %s", shortID(ev.SessionID))
		return clearStatusCmd(m.statusSeq)
	}

	return nil
}

func (m Model) setStatus(text string) (tea.Model, tea.Cmd) {
	m.statusSeq++
	m.statusText = text
	m.errorMessage = ""
	return m, clearStatusCmd(m.statusSeq)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.client != nil {
			m.client.Close()
		}
		if m.evClient != nil {
			m.evClient.Close()
		}
		return m, tea.Quit

	case " ":
		if !m.connected {
			return m, nil
		}
		if m.recording() {
			return m, stopCmd(m.client)
		}
		return m, startCmd(m.client)

	case "j", "down":
		if m.selected < len(m.state.Sessions)-1 {
			m.selected++
		}
		return m, nil

	case "k", "up":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "enter":
		m.showReport = !m.showReport
		return m, nil

	case "g":
		if !m.connected {
			return m, nil
		}
		sess := m.selectedSession()
		if sess == nil || !sess.Status.IsStable() {
			return m, nil
		}
		return m, regenerateCmd(m.client, sess.ID)
	}

	return m, nil
}

// recording reports whether the active session, if any, is recording.
func (m Model) recording() bool {
	if m.state.ActiveSessionID == nil {
		return false
	}
	sess := store.FindSession(m.state.Sessions, *m.state.ActiveSessionID)
	return sess != nil && sess.Status == store.StatusRecording
}

func (m Model) selectedSession() *store.Session {
	if m.selected < 0 || m.selected >= len(m.state.Sessions) {
		return nil
	}
	return &m.state.Sessions[m.selected]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, dimStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderSessions())
	if m.showReport {
		if report := m.renderReport(); report != "" {
			sections = append(sections, dimStyle.Render(strings.Repeat("─", m.width)))
			sections = append(sections, report)
		}
	}
	if m.errorMessage != "" {
		sections = append(sections, errorStyle.Render("Error: ")+m.errorMessage)
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("MINUTEMAN")

	var dot string
	if m.recording() {
		dot = recordingDotStyle.Render("  ● REC")
	} else {
		dot = idleDotStyle.Render("  ○ idle")
	}

	var status string
	if !m.connected {
		if m.reconnecting {
			status = "  " + errorStyle.Render("daemon disconnected, reconnecting...")
		} else {
			status = "  " + dimStyle.Render("connecting...")
		}
	} else if m.statusText != "" {
		status = "  " + statusBusyStyle.Render(m.statusText)
	}

	return title + dot + status
}

func (m Model) renderSessions() string {
	if len(m.state.Sessions) == 0 {
		return dimStyle.Render("  No sessions yet. Press Space to start recording.")
	}

	var lines []string
	for i, sess := range m.state.Sessions {
		marker := "  "
		if i == m.selected {
			marker = selectedStyle.Render("> ")
		}

		var status string
		switch sess.Status {
		case store.StatusDone:
			status = statusDoneStyle.Render(string(sess.Status))
		case store.StatusFailed:
			status = statusFailedStyle.Render(string(sess.Status))
		default:
			status = statusBusyStyle.Render(string(sess.Status))
		}

		title := sess.Title
		if title == "" {
			title = dimStyle.Render("(untitled)")
		}
		created := dimStyle.Render(sess.CreatedAt.Format("Jan 02 15:04"))

		line := fmt.Sprintf("%s%-10s  %s  %s", marker, status, created, title)
		lines = append(lines, truncateToWidth(line, m.width))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderReport() string {
	sess := m.selectedSession()
	if sess == nil {
		return ""
	}
	if sess.SessionReport == nil {
		return dimStyle.Render("  No report for this session yet.")
	}
	wrapped := wrapText(*sess.SessionReport, max(20, m.width-4))
	limit := max(5, m.height/2)
	if len(wrapped) > limit {
		wrapped = append(wrapped[:limit], dimStyle.Render("…"))
	}
	for i, line := range wrapped {
		wrapped[i] = "  " + line
	}
	return strings.Join(wrapped, "\n")
}

func (m Model) renderFooter() string {
	var parts []string
	if m.recording() {
		parts = append(parts, footerKeyStyle.Render("Space")+footerDescStyle.Render(" Stop"))
	} else {
		parts = append(parts, footerKeyStyle.Render("Space")+footerDescStyle.Render(" Record"))
	}
	parts = append(parts,
		footerKeyStyle.Render("j/k")+footerDescStyle.Render(" Nav"),
		footerKeyStyle.Render("Enter")+footerDescStyle.Render(" Report"),
		footerKeyStyle.Render("g")+footerDescStyle.Render(" Regenerate"),
		footerKeyStyle.Render("q")+footerDescStyle.Render(" Quit"),
	)
	return strings.Join(parts, "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case current == "":
				current = word
			case len(current)+1+len(word) <= width:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
