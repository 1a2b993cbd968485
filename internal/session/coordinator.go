package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minutemanhq/minuteman/internal/analyzer"
	"github.com/minutemanhq/minuteman/internal/audio"
	"github.com/minutemanhq/minuteman/internal/blob"
	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/minutemanhq/minuteman/internal/metrics"
	"github.com/minutemanhq/minuteman/internal/store"
)

var (
	// ErrRecordingActive rejects a start while another session is recording.
	ErrRecordingActive = errors.New("a recording is already in progress")
	// ErrNoActiveSession rejects a stop with nothing recording.
	ErrNoActiveSession = errors.New("no recording is in progress")
	// ErrUnknownSession means the referenced session does not exist.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotRegenerable rejects regeneration of a session that is not in a
	// stable state.
	ErrNotRegenerable = errors.New("session is not in a regenerable state")
)

// Coordinator owns the session state machine. It is the only writer of
// status transitions; every other context just issues commands or reads the
// store. Its read-modify-write patches are serialized by an internal mutex,
// which keeps the machine single-writer even though the store itself offers
// no record-level updates.
type Coordinator struct {
	cfg         *config.Config
	store       store.Store
	blobs       *blob.Manager
	analyzer    analyzer.Client
	dispatcher  *Dispatcher
	newRecorder audio.RecorderFactory

	mu       sync.Mutex
	recorder *audio.Recorder
	opened   map[string]bool

	sinkMu     sync.Mutex
	sinks      map[int]EventSink
	nextSinkID int
}

func NewCoordinator(cfg *config.Config, st store.Store, blobs *blob.Manager, client analyzer.Client, newRecorder audio.RecorderFactory) *Coordinator {
	c := &Coordinator{
		cfg:         cfg,
		store:       st,
		blobs:       blobs,
		analyzer:    client,
		newRecorder: newRecorder,
		opened:      make(map[string]bool),
		sinks:       make(map[int]EventSink),
	}
	if cfg.DurableDispatch {
		c.dispatcher = NewDispatcher(client, c.analyzeTimeout(), c.HandleAnalysisComplete)
	}
	return c
}

func (c *Coordinator) analyzeTimeout() time.Duration {
	return time.Duration(c.cfg.AnalyzeTimeoutMin) * time.Minute
}

// AddEventSink registers an observer for coordinator events. The returned
// func removes it again.
func (c *Coordinator) AddEventSink(sink EventSink) func() {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	id := c.nextSinkID
	c.nextSinkID++
	c.sinks[id] = sink
	return func() {
		c.sinkMu.Lock()
		defer c.sinkMu.Unlock()
		delete(c.sinks, id)
	}
}

func (c *Coordinator) broadcast(ev Event) {
	c.sinkMu.Lock()
	sinks := make([]EventSink, 0, len(c.sinks))
	for _, sink := range c.sinks {
		sinks = append(sinks, sink)
	}
	c.sinkMu.Unlock()
	for _, sink := range sinks {
		sink(ev)
	}
}

// StartRecording creates a new session in recording state. Capture is
// acquired before the session record exists, so a capture failure never
// leaves a session dangling in recording.
func (c *Coordinator) StartRecording(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.ReadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("read store: %w", err)
	}
	if state.ActiveSessionID != nil {
		return "", ErrRecordingActive
	}

	profile, profilePatch, err := ensureProfile(&state, c.cfg.UserNamePrefix)
	if err != nil {
		return "", err
	}

	rec := c.newRecorder()
	if err := rec.Start(); err != nil {
		metrics.CaptureErrors.Inc()
		return "", fmt.Errorf("start capture: %w", err)
	}

	sess := store.Session{
		ID:        uuid.NewString(),
		Status:    store.StatusRecording,
		CreatedAt: time.Now(),
		UserID:    profile.ID,
		UserName:  profile.Name,
	}
	sessions := append(state.Sessions, sess)
	activeID := sess.ID
	active := &activeID
	patch := store.Patch{Sessions: &sessions, ActiveSessionID: &active}
	patch.Profile = profilePatch
	if err := c.store.Write(ctx, patch); err != nil {
		if _, stopErr := rec.Stop(); stopErr != nil && !errors.Is(stopErr, audio.ErrNoAudioCaptured) {
			slog.Warn("failed to release capture after store error", "error", stopErr)
		}
		return "", fmt.Errorf("persist new session: %w", err)
	}

	c.recorder = rec
	metrics.RecordingsStarted.Inc()
	metrics.RecordingActive.Set(1)
	slog.Info("recording started", "session_id", sess.ID, "user_id", profile.ID)
	return sess.ID, nil
}

// StopRecording finishes the active capture, moves the session to
// processing and clears the active pointer so a new recording can start
// while this one is analyzed. The captured audio is submitted in the
// background; a zero-byte capture fails the session immediately.
func (c *Coordinator) StopRecording(ctx context.Context) (string, error) {
	c.mu.Lock()
	state, err := c.store.ReadAll(ctx)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("read store: %w", err)
	}
	if state.ActiveSessionID == nil {
		c.mu.Unlock()
		return "", ErrNoActiveSession
	}
	sessionID := *state.ActiveSessionID
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	metrics.RecordingActive.Set(0)

	if rec == nil {
		// Store says recording but this process never started one: a
		// previous daemon died mid-capture. Close out the orphan.
		slog.Warn("orphan recording session found; failing it", "session_id", sessionID)
		_ = c.failSession(ctx, sessionID, "recording was interrupted before any audio was captured")
		return sessionID, nil
	}

	result, capErr := rec.Stop()
	if capErr != nil {
		metrics.CaptureErrors.Inc()
		_ = c.failSession(ctx, sessionID, fmt.Sprintf("capture failed: %v", capErr))
		return sessionID, fmt.Errorf("stop capture: %w", capErr)
	}

	if err := c.patchSession(ctx, sessionID, func(s *store.Session) {
		s.Status = store.StatusProcessing
		s.SessionReport = nil
		s.AudioMimeType = result.MimeType
	}, clearActive); err != nil {
		return "", err
	}

	go func() {
		input := ProcessInput{
			SessionID:       sessionID,
			AudioBase64:     result.Base64(),
			MimeType:        result.MimeType,
			DurationMinutes: result.Duration.Minutes(),
		}
		if err := c.ProcessSessionAudio(context.Background(), input); err != nil {
			slog.Error("submission after stop failed", "session_id", sessionID, "error", err)
		}
	}()
	return sessionID, nil
}

// ProcessInput carries a submit-for-analysis command. AudioBase64 may be
// empty, in which case audio is resolved from the cache or the remote
// store.
type ProcessInput struct {
	SessionID       string
	AudioBase64     string
	MimeType        string
	DurationMinutes float64
	IsRegeneration  bool
}

// ProcessSessionAudio resolves audio for the session and hands the analysis
// to the dispatcher (or performs it inline when the durable worker is
// disabled). Unresolvable audio rejects a regeneration with state
// untouched, and fails an initial submission.
func (c *Coordinator) ProcessSessionAudio(ctx context.Context, input ProcessInput) error {
	state, err := c.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	sess := store.FindSession(state.Sessions, input.SessionID)
	if sess == nil {
		return ErrUnknownSession
	}
	if input.IsRegeneration && !sess.Status.IsStable() {
		return ErrNotRegenerable
	}

	var inline *blob.Inline
	if input.AudioBase64 != "" {
		inline = &blob.Inline{Base64: input.AudioBase64, MimeType: input.MimeType}
	}
	resolved, err := c.blobs.Resolve(ctx, sess.UserID, input.SessionID, inline)
	if err != nil {
		if input.IsRegeneration {
			slog.Info("regeneration rejected: no audio", "session_id", input.SessionID)
			return fmt.Errorf("cannot regenerate: %w", err)
		}
		_ = c.failSession(ctx, input.SessionID, fmt.Sprintf("audio could not be resolved: %v", err))
		return err
	}

	if err := c.patchSession(ctx, input.SessionID, func(s *store.Session) {
		s.Status = store.StatusProcessing
		s.SessionReport = nil
		s.HasAudio = true
		s.AudioMimeType = resolved.MimeType
	}); err != nil {
		return err
	}

	job := analyzeJob{
		SessionID:       input.SessionID,
		MimeType:        resolved.MimeType,
		AudioBase64:     input.AudioBase64,
		UserID:          sess.UserID,
		UserName:        sess.UserName,
		DurationMinutes: input.DurationMinutes,
	}
	if job.AudioBase64 == "" {
		job.AudioBase64 = base64.StdEncoding.EncodeToString(resolved.Data)
	}

	if c.dispatcher != nil {
		c.dispatcher.Submit(job)
		return nil
	}
	// No durable context on this host: same contract, executed here.
	result, err := runAnalysis(context.Background(), c.analyzer, c.analyzeTimeout(), job)
	c.HandleAnalysisComplete(job.SessionID, result, err)
	return nil
}

// HandleAnalysisComplete writes the terminal outcome of one analysis into
// the store. The first time a session reaches done with a non-empty report
// it triggers the one-time report-open side effect; the deduplication lives
// for the coordinator's lifetime.
func (c *Coordinator) HandleAnalysisComplete(sessionID string, result *analyzer.Result, cause error) {
	ctx := context.Background()

	status := store.StatusDone
	title := ""
	report := ""
	switch {
	case cause != nil:
		status = store.StatusFailed
		report = fmt.Sprintf("analysis failed: %v", cause)
	case result.Status != analyzer.StatusOK:
		status = store.StatusFailed
		title = result.Title
		report = result.SessionReport
		if report == "" {
			report = "the analysis service reported an error"
		}
	default:
		title = result.Title
		report = result.SessionReport
	}

	if err := c.patchSession(ctx, sessionID, func(s *store.Session) {
		s.Status = status
		if title != "" {
			s.Title = title
		}
		s.SessionReport = &report
	}); err != nil {
		slog.Error("failed to persist analysis outcome", "session_id", sessionID, "error", err)
		return
	}

	metrics.AnalysesTotal.WithLabelValues(string(status)).Inc()
	slog.Info("analysis completed", "session_id", sessionID, "status", status)

	ev := Event{
		Kind:          EventAnalysisComplete,
		SessionID:     sessionID,
		Status:        status,
		Title:         title,
		SessionReport: report,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	c.broadcast(ev)

	if status == store.StatusDone && report != "" && c.markOpened(sessionID) {
		c.broadcast(Event{
			Kind:          EventReportReady,
			SessionID:     sessionID,
			Status:        status,
			Title:         title,
			SessionReport: report,
			HasAudio:      true,
		})
		c.runOpenCommand(sessionID)
	}
}

func (c *Coordinator) markOpened(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened[sessionID] {
		return false
	}
	c.opened[sessionID] = true
	return true
}

func (c *Coordinator) runOpenCommand(sessionID string) {
	if c.cfg.ReportOpenCommand == "" {
		return
	}
	cmd := exec.Command(c.cfg.ReportOpenCommand, sessionID)
	if err := cmd.Start(); err != nil {
		slog.Warn("report open command failed", "session_id", sessionID, "error", err)
		return
	}
	go func() {
		_ = cmd.Wait()
	}()
}

// DeleteSession removes the record and evicts its audio blob. Deleting the
// active recording also tears down the capture.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	if store.FindSession(state.Sessions, sessionID) == nil {
		return ErrUnknownSession
	}

	sessions := make([]store.Session, 0, len(state.Sessions)-1)
	for _, s := range state.Sessions {
		if s.ID != sessionID {
			sessions = append(sessions, s)
		}
	}
	patch := store.Patch{Sessions: &sessions}
	if state.ActiveSessionID != nil && *state.ActiveSessionID == sessionID {
		var cleared *string
		patch.ActiveSessionID = &cleared
		if c.recorder != nil {
			if _, err := c.recorder.Stop(); err != nil && !errors.Is(err, audio.ErrNoAudioCaptured) {
				slog.Warn("failed to stop capture for deleted session", "error", err)
			}
			c.recorder = nil
			metrics.RecordingActive.Set(0)
		}
	}
	if err := c.store.Write(ctx, patch); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := c.blobs.Clear(ctx, sessionID); err != nil {
		slog.Warn("failed to evict audio blob", "session_id", sessionID, "error", err)
	}
	slog.Info("session deleted", "session_id", sessionID)
	return nil
}

// failSession is the terminal write for any failure path: nothing may leave
// a session stuck in a non-terminal state.
func (c *Coordinator) failSession(ctx context.Context, sessionID, reason string) error {
	err := c.patchSession(ctx, sessionID, func(s *store.Session) {
		s.Status = store.StatusFailed
		s.SessionReport = &reason
	}, clearActive)
	if err != nil {
		slog.Error("failed to mark session failed", "session_id", sessionID, "error", err)
		return err
	}
	metrics.AnalysesTotal.WithLabelValues(string(store.StatusFailed)).Inc()
	c.broadcast(Event{
		Kind:      EventAnalysisComplete,
		SessionID: sessionID,
		Status:    store.StatusFailed,
		Error:     reason,
	})
	return nil
}

type patchOption int

const clearActive patchOption = iota

// patchSession implements record-level patching on top of the store's
// top-level merge: read the whole collection, mutate one record, write the
// collection back. Serialized by the coordinator mutex.
func (c *Coordinator) patchSession(ctx context.Context, sessionID string, mutate func(*store.Session), opts ...patchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	sess := store.FindSession(state.Sessions, sessionID)
	if sess == nil {
		return ErrUnknownSession
	}
	mutate(sess)

	patch := store.Patch{Sessions: &state.Sessions}
	for _, opt := range opts {
		if opt == clearActive && state.ActiveSessionID != nil && *state.ActiveSessionID == sessionID {
			var cleared *string
			patch.ActiveSessionID = &cleared
		}
	}
	if err := c.store.Write(ctx, patch); err != nil {
		return fmt.Errorf("write session patch: %w", err)
	}
	return nil
}

// ensureProfile lazily creates the per-install profile. The returned patch
// field is non-nil only when a profile was created.
func ensureProfile(state *store.State, namePrefix string) (store.UserProfile, **store.UserProfile, error) {
	if state.Profile != nil {
		return *state.Profile, nil, nil
	}
	id := uuid.NewString()
	if namePrefix == "" {
		namePrefix = "user"
	}
	profile := &store.UserProfile{
		ID:   id,
		Name: fmt.Sprintf("%s-%s", namePrefix, id[:8]),
	}
	state.Profile = profile
	return *profile, &state.Profile, nil
}
