package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/minutemanhq/minuteman/internal/analyzer"
)

func TestAnalyze_Success(t *testing.T) {
	var gotReq analyzer.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze_base64" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(analyzer.Result{
			SessionID:      gotReq.SessionID,
			Title:          "Planning meeting",
			SessionReport:  "# Report",
			Status:         analyzer.StatusOK,
			ProcessingTime: 1.5,
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	result, err := client.Analyze(context.Background(), analyzer.Request{
		SessionID:   "sess-1",
		MimeType:    "audio/opus",
		AudioBase64: "YXVkaW8=",
		UserID:      "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Title != "Planning meeting" || result.Status != analyzer.StatusOK {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotReq.SessionID != "sess-1" || gotReq.AudioBase64 != "YXVkaW8=" {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
}

func TestAnalyze_ServiceErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"model backend unavailable"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.Analyze(context.Background(), analyzer.Request{SessionID: "sess-1"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "model backend unavailable") {
		t.Fatalf("expected service detail in error, got: %v", err)
	}
}

func TestAnalyze_PlainStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.Analyze(context.Background(), analyzer.Request{SessionID: "sess-1"})
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected status code in error, got: %v", err)
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(analyzer.Result{Status: analyzer.StatusOK})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Analyze(ctx, analyzer.Request{SessionID: "sess-1"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got: %v", err)
	}
}

func TestFetchSessionAudio_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session_audio/user-1/sess-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(analyzer.SessionAudio{
			AudioBase64: "YXVkaW8=",
			MimeType:    "audio/webm",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	audio, err := client.FetchSessionAudio(context.Background(), "user-1", "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audio.AudioBase64 != "YXVkaW8=" || audio.MimeType != "audio/webm" {
		t.Fatalf("unexpected audio: %+v", audio)
	}
}

func TestFetchSessionAudio_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Session audio not found"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.FetchSessionAudio(context.Background(), "user-1", "sess-1")
	if !errors.Is(err, analyzer.ErrAudioNotFound) {
		t.Fatalf("expected ErrAudioNotFound, got %v", err)
	}
}

func TestFetchSessionAudio_EmptyPayloadIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(analyzer.SessionAudio{})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.FetchSessionAudio(context.Background(), "user-1", "sess-1")
	if !errors.Is(err, analyzer.ErrAudioNotFound) {
		t.Fatalf("expected ErrAudioNotFound, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	if err := client.Health(context.Background()); err == nil {
		t.Fatal("expected error for unhealthy service")
	}
}
