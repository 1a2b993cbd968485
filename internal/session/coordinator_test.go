package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minutemanhq/minuteman/internal/analyzer"
	"github.com/minutemanhq/minuteman/internal/audio"
	"github.com/minutemanhq/minuteman/internal/blob"
	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/minutemanhq/minuteman/internal/store"
)

type mockAnalyzer struct {
	mu       sync.Mutex
	requests []analyzer.Request
	result   *analyzer.Result
	err      error
	audio    *analyzer.SessionAudio
	audioErr error
}

func (m *mockAnalyzer) Analyze(_ context.Context, req analyzer.Request) (*analyzer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockAnalyzer) FetchSessionAudio(_ context.Context, _, _ string) (*analyzer.SessionAudio, error) {
	if m.audioErr != nil {
		return nil, m.audioErr
	}
	return m.audio, nil
}

func (m *mockAnalyzer) Health(_ context.Context) error { return nil }

func (m *mockAnalyzer) lastRequest() *analyzer.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}

type stubSource struct{}

func (stubSource) Kind() audio.SourceKind         { return audio.SourceSystemAudio }
func (stubSource) ReadPCM(_ []int16) (int, error) { return 0, nil }
func (stubSource) Close() error                   { return nil }

type stubSources struct{}

func (stubSources) AcquireMicrophone() (audio.Source, error)  { return stubSource{}, nil }
func (stubSources) AcquireSystemAudio() (audio.Source, error) { return stubSource{}, nil }

type stubEncoder struct {
	tail []byte
}

func (s *stubEncoder) Encode(_ []int16) ([]byte, error) { return nil, nil }
func (s *stubEncoder) Flush() ([]byte, error)           { return s.tail, nil }
func (s *stubEncoder) Close() error                     { return nil }
func (s *stubEncoder) MimeType() string                 { return "audio/test" }

func testConfig() *config.Config {
	return &config.Config{
		Env:                  "test",
		AnalyzerBaseURL:      "http://localhost:8000",
		AnalyzeTimeoutMin:    1,
		AudioFetchTimeoutSec: 1,
		StorePath:            "/tmp/test.db",
		SocketPath:           "/tmp/test.sock",
		DurableDispatch:      false,
		UserNamePrefix:       "user",
	}
}

func okResult(title, report string) *analyzer.Result {
	return &analyzer.Result{Title: title, SessionReport: report, Status: analyzer.StatusOK}
}

func newTestCoordinator(remote *mockAnalyzer, captureTail []byte) (*Coordinator, *store.MemoryStore) {
	st := store.NewMemoryStore()
	blobs := blob.NewManager(st, remote, time.Second)
	newRecorder := func() *audio.Recorder {
		return audio.NewRecorder(stubSources{}, func() (audio.Encoder, error) {
			return &stubEncoder{tail: captureTail}, nil
		})
	}
	return NewCoordinator(testConfig(), st, blobs, remote, newRecorder), st
}

func readState(t *testing.T, st store.Store) store.State {
	t.Helper()
	state, err := st.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	return state
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestStartRecording_CreatesSessionAndProfile(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, []byte("tail"))

	id, err := c.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := readState(t, st)
	if len(state.Sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(state.Sessions))
	}
	sess := state.Sessions[0]
	if sess.ID != id || sess.Status != store.StatusRecording {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if state.ActiveSessionID == nil || *state.ActiveSessionID != id {
		t.Fatal("expected active session pointer to be set")
	}
	if state.Profile == nil {
		t.Fatal("expected a user profile to be created")
	}
	if !strings.HasPrefix(state.Profile.Name, "user-") {
		t.Fatalf("unexpected profile name: %q", state.Profile.Name)
	}
	if sess.UserID != state.Profile.ID {
		t.Fatal("expected session to carry the profile's user id")
	}
}

func TestStartRecording_RejectsSecondStart(t *testing.T) {
	c, _ := newTestCoordinator(&mockAnalyzer{}, []byte("tail"))

	if _, err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.StartRecording(context.Background()); !errors.Is(err, ErrRecordingActive) {
		t.Fatalf("expected ErrRecordingActive, got %v", err)
	}
}

func TestStopRecording_NoActiveSession(t *testing.T) {
	c, _ := newTestCoordinator(&mockAnalyzer{}, []byte("tail"))
	if _, err := c.StopRecording(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestStopRecording_AnalyzesAndCompletes(t *testing.T) {
	remote := &mockAnalyzer{result: okResult("Weekly sync", "Decisions were made.")}
	c, st := newTestCoordinator(remote, []byte("captured-audio"))

	id, err := c.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	state := readState(t, st)
	if state.ActiveSessionID != nil {
		t.Fatal("expected active session pointer to clear on stop")
	}

	waitUntil(t, 2*time.Second, func() bool {
		s := readState(t, st)
		sess := store.FindSession(s.Sessions, id)
		return sess != nil && sess.Status == store.StatusDone
	}, "session should reach done")

	state = readState(t, st)
	sess := store.FindSession(state.Sessions, id)
	if sess.Title != "Weekly sync" {
		t.Fatalf("title = %q", sess.Title)
	}
	if sess.SessionReport == nil || *sess.SessionReport != "Decisions were made." {
		t.Fatalf("unexpected report: %v", sess.SessionReport)
	}
	if !sess.HasAudio || sess.AudioMimeType != "audio/test" {
		t.Fatalf("unexpected audio flags: %+v", sess)
	}

	req := remote.lastRequest()
	if req == nil {
		t.Fatal("expected an analyze request")
	}
	if req.AudioBase64 != base64.StdEncoding.EncodeToString([]byte("captured-audio")) {
		t.Fatal("analyze request must carry the captured audio as base64")
	}
	if req.SessionID != id || req.MimeType != "audio/test" {
		t.Fatalf("unexpected analyze request: %+v", req)
	}

	cached, err := st.GetBlob(context.Background(), id)
	if err != nil || cached == nil {
		t.Fatalf("expected captured audio to be cached, got %v, %v", cached, err)
	}
	if string(cached.Data) != "captured-audio" {
		t.Fatalf("cached audio = %q", cached.Data)
	}
}

func TestStopRecording_ZeroCaptureFailsSession(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, nil)

	id, err := c.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.StopRecording(context.Background()); err == nil {
		t.Fatal("expected stop to report the capture failure")
	}

	state := readState(t, st)
	sess := store.FindSession(state.Sessions, id)
	if sess.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.SessionReport == nil || !strings.Contains(*sess.SessionReport, "no audio captured") {
		t.Fatalf("unexpected report: %v", sess.SessionReport)
	}
	if state.ActiveSessionID != nil {
		t.Fatal("expected active session pointer to clear")
	}
}

func TestStopRecording_OrphanSessionIsFailed(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, []byte("tail"))

	// State left behind by a daemon that died mid-capture.
	orphanID := "orphan-1"
	sessions := []store.Session{{ID: orphanID, Status: store.StatusRecording}}
	active := &orphanID
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions, ActiveSessionID: &active}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := c.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != orphanID {
		t.Fatalf("stopped id = %q, want %q", id, orphanID)
	}

	state := readState(t, st)
	sess := store.FindSession(state.Sessions, orphanID)
	if sess.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if state.ActiveSessionID != nil {
		t.Fatal("expected active session pointer to clear")
	}
}

func TestProcessSessionAudio_UnknownSession(t *testing.T) {
	c, _ := newTestCoordinator(&mockAnalyzer{}, []byte("tail"))
	err := c.ProcessSessionAudio(context.Background(), ProcessInput{SessionID: "nope"})
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestProcessSessionAudio_TimeoutFailsSession(t *testing.T) {
	remote := &mockAnalyzer{err: context.DeadlineExceeded}
	c, st := newTestCoordinator(remote, nil)

	sessions := []store.Session{{ID: "s1", Status: store.StatusProcessing, UserID: "u1"}}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = st.PutBlob(context.Background(), store.Blob{SessionID: "s1", MimeType: "audio/opus", Data: []byte("x")})

	if err := c.ProcessSessionAudio(context.Background(), ProcessInput{SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := readState(t, st)
	sess := store.FindSession(state.Sessions, "s1")
	if sess.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.SessionReport == nil || !strings.Contains(*sess.SessionReport, "timed out") {
		t.Fatalf("unexpected report: %v", sess.SessionReport)
	}
}

func TestProcessSessionAudio_ServiceErrorStatusFails(t *testing.T) {
	remote := &mockAnalyzer{result: &analyzer.Result{
		Title:         "Broken meeting",
		SessionReport: "quota exceeded",
		Status:        analyzer.StatusError,
	}}
	c, st := newTestCoordinator(remote, nil)

	sessions := []store.Session{{ID: "s1", Status: store.StatusProcessing, UserID: "u1"}}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = st.PutBlob(context.Background(), store.Blob{SessionID: "s1", MimeType: "audio/opus", Data: []byte("x")})

	if err := c.ProcessSessionAudio(context.Background(), ProcessInput{SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := readState(t, st)
	sess := store.FindSession(state.Sessions, "s1")
	if sess.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.SessionReport == nil || *sess.SessionReport != "quota exceeded" {
		t.Fatalf("unexpected report: %v", sess.SessionReport)
	}
}

func TestRegenerate_RejectsUnstableSession(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, nil)

	sessions := []store.Session{{ID: "s1", Status: store.StatusProcessing}}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := c.ProcessSessionAudio(context.Background(), ProcessInput{SessionID: "s1", IsRegeneration: true})
	if !errors.Is(err, ErrNotRegenerable) {
		t.Fatalf("expected ErrNotRegenerable, got %v", err)
	}
}

func TestRegenerate_NoAudioLeavesStateUntouched(t *testing.T) {
	remote := &mockAnalyzer{audioErr: analyzer.ErrAudioNotFound}
	c, st := newTestCoordinator(remote, nil)

	oldReport := "the old report"
	sessions := []store.Session{{ID: "s1", Status: store.StatusDone, Title: "Old title", SessionReport: &oldReport}}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := c.ProcessSessionAudio(context.Background(), ProcessInput{SessionID: "s1", IsRegeneration: true})
	if err == nil {
		t.Fatal("expected regeneration to be rejected")
	}

	state := readState(t, st)
	sess := store.FindSession(state.Sessions, "s1")
	if sess.Status != store.StatusDone {
		t.Fatalf("status changed to %s", sess.Status)
	}
	if sess.SessionReport == nil || *sess.SessionReport != oldReport {
		t.Fatal("expected report to be untouched")
	}
}

func TestRegenerate_FromCachedAudio(t *testing.T) {
	remote := &mockAnalyzer{result: okResult("Retry", "A better report.")}
	c, st := newTestCoordinator(remote, nil)

	failedReport := "analysis failed: boom"
	sessions := []store.Session{{ID: "s1", Status: store.StatusFailed, UserID: "u1", SessionReport: &failedReport}}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = st.PutBlob(context.Background(), store.Blob{SessionID: "s1", MimeType: "audio/opus", Data: []byte("cached")})

	if err := c.ProcessSessionAudio(context.Background(), ProcessInput{SessionID: "s1", IsRegeneration: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := readState(t, st)
	sess := store.FindSession(state.Sessions, "s1")
	if sess.Status != store.StatusDone {
		t.Fatalf("status = %s, want done", sess.Status)
	}
	if sess.SessionReport == nil || *sess.SessionReport != "A better report." {
		t.Fatalf("unexpected report: %v", sess.SessionReport)
	}

	req := remote.lastRequest()
	if req == nil || req.AudioBase64 != base64.StdEncoding.EncodeToString([]byte("cached")) {
		t.Fatal("expected regeneration to submit the cached audio")
	}
}

func TestReportReady_FiresOncePerSession(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, nil)

	sessions := []store.Session{{ID: "s1", Status: store.StatusProcessing}}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mu sync.Mutex
	var events []Event
	remove := c.AddEventSink(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer remove()

	c.HandleAnalysisComplete("s1", okResult("T", "R"), nil)
	c.HandleAnalysisComplete("s1", okResult("T", "R"), nil)

	mu.Lock()
	defer mu.Unlock()
	ready := 0
	complete := 0
	for _, ev := range events {
		switch ev.Kind {
		case EventReportReady:
			ready++
		case EventAnalysisComplete:
			complete++
		}
	}
	if complete != 2 {
		t.Fatalf("expected two completion events, got %d", complete)
	}
	if ready != 1 {
		t.Fatalf("expected exactly one report-ready event, got %d", ready)
	}
}

func TestAddEventSink_RemoveStopsDelivery(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, nil)
	sessions := []store.Session{{ID: "s1", Status: store.StatusProcessing}}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mu sync.Mutex
	count := 0
	remove := c.AddEventSink(func(Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})
	remove()

	c.HandleAnalysisComplete("s1", okResult("T", "R"), nil)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no deliveries after removal, got %d", count)
	}
}

func TestDeleteSession_RemovesRecordAndBlob(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, nil)

	sessions := []store.Session{
		{ID: "s1", Status: store.StatusDone},
		{ID: "s2", Status: store.StatusDone},
	}
	if err := st.Write(context.Background(), store.Patch{Sessions: &sessions}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = st.PutBlob(context.Background(), store.Blob{SessionID: "s1", Data: []byte("x")})

	if err := c.DeleteSession(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := readState(t, st)
	if len(state.Sessions) != 1 || state.Sessions[0].ID != "s2" {
		t.Fatalf("unexpected sessions after delete: %+v", state.Sessions)
	}
	if blob, _ := st.GetBlob(context.Background(), "s1"); blob != nil {
		t.Fatal("expected audio blob to be evicted")
	}

	if err := c.DeleteSession(context.Background(), "missing"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestDeleteSession_ActiveRecordingTearsDownCapture(t *testing.T) {
	c, st := newTestCoordinator(&mockAnalyzer{}, []byte("tail"))

	id, err := c.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.DeleteSession(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := readState(t, st)
	if len(state.Sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(state.Sessions))
	}
	if state.ActiveSessionID != nil {
		t.Fatal("expected active session pointer to clear")
	}

	// The capture slot must be free again.
	if _, err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("expected a fresh start to succeed, got %v", err)
	}
}
