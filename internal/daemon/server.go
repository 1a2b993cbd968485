package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/minutemanhq/minuteman/internal/session"
	"github.com/minutemanhq/minuteman/internal/store"
)

// Server accepts foreground connections on the Unix socket and maps
// protocol commands onto the Coordinator. Every handler converts its own
// failure into {ok:false, error}; nothing escapes a connection.
type Server struct {
	socketPath  string
	coordinator *session.Coordinator
	store       store.Store
}

func NewServer(socketPath string, coordinator *session.Coordinator, st store.Store) *Server {
	return &Server{socketPath: socketPath, coordinator: coordinator, store: st}
}

// Run listens until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	slog.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var writeMu sync.Mutex
	writeLine := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = conn.Write(data)
		return err
	}

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			_ = writeLine(Response{OK: false, Error: "malformed command"})
			continue
		}
		if cmd.Action == ActionSubscribe {
			s.handleSubscribe(ctx, writeLine)
			return
		}
		resp := s.handleCommand(ctx, cmd)
		if err := writeLine(resp); err != nil {
			slog.Warn("failed to write response", "error", err)
			return
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, cmd Command) Response {
	switch cmd.Action {
	case ActionStartRecording:
		id, err := s.coordinator.StartRecording(ctx)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, SessionID: id}
	case ActionStopRecording:
		id, err := s.coordinator.StopRecording(ctx)
		if err != nil {
			return Response{OK: false, SessionID: id, Error: err.Error()}
		}
		return Response{OK: true, SessionID: id}
	case ActionProcessSessionAudio:
		err := s.coordinator.ProcessSessionAudio(ctx, session.ProcessInput{
			SessionID:       cmd.SessionID,
			AudioBase64:     cmd.AudioBase64,
			MimeType:        cmd.MimeType,
			DurationMinutes: cmd.DurationMinutes,
			IsRegeneration:  cmd.IsRegeneration,
		})
		if err != nil {
			return Response{OK: false, SessionID: cmd.SessionID, Error: err.Error()}
		}
		return Response{OK: true, SessionID: cmd.SessionID}
	case ActionDeleteSession:
		if err := s.coordinator.DeleteSession(ctx, cmd.SessionID); err != nil {
			return Response{OK: false, SessionID: cmd.SessionID, Error: err.Error()}
		}
		return Response{OK: true, SessionID: cmd.SessionID}
	case ActionStatus:
		state, err := s.store.ReadAll(ctx)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		resp := Response{OK: true, Recording: BoolPtr(state.ActiveSessionID != nil)}
		if state.ActiveSessionID != nil {
			resp.SessionID = *state.ActiveSessionID
		}
		return resp
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown action %q", cmd.Action)}
	}
}

const subscriberQueueSize = 64

// subscriberQueue sits between the coordinator's event sink, which must not
// block, and the connection's write loop. A subscriber that stops reading
// long enough to fill the queue overflows and gets disconnected instead of
// stalling the coordinator.
type subscriberQueue struct {
	events   chan Event
	overflow chan struct{}
}

func newSubscriberQueue() *subscriberQueue {
	return &subscriberQueue{
		events:   make(chan Event, subscriberQueueSize),
		overflow: make(chan struct{}, 1),
	}
}

func (q *subscriberQueue) sink(ev session.Event) {
	out := Event{
		Event:         string(ev.Kind),
		SessionID:     ev.SessionID,
		Status:        string(ev.Status),
		Title:         ev.Title,
		SessionReport: ev.SessionReport,
		Error:         ev.Error,
	}
	if ev.HasAudio {
		out.HasAudio = BoolPtr(true)
	}
	select {
	case q.events <- out:
	default:
		select {
		case q.overflow <- struct{}{}:
		default:
		}
	}
}

// handleSubscribe turns the connection into an event stream: coordinator
// events plus store change notes, until the client goes away.
func (s *Server) handleSubscribe(ctx context.Context, writeLine func(any) error) {
	if err := writeLine(Response{OK: true}); err != nil {
		return
	}

	queue := newSubscriberQueue()
	removeSink := s.coordinator.AddEventSink(queue.sink)
	defer removeSink()

	changes, cancel, err := s.store.Subscribe(ctx)
	if err != nil {
		slog.Warn("store subscribe failed for event stream", "error", err)
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-queue.overflow:
			slog.Warn("dropping event subscriber that stopped reading")
			return
		case out := <-queue.events:
			if err := writeLine(out); err != nil {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := writeLine(Event{Event: EventStoreChanged, Key: change.Key}); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					slog.Debug("event subscriber disconnected", "error", err)
				}
				return
			}
		}
	}
}
