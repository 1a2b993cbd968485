// Package analyzer declares the contract of the remote analysis service.
// The service itself is opaque; only its HTTP surface is consumed.
package analyzer

import (
	"context"
	"errors"
)

// ErrAudioNotFound means the remote store has no audio for the session.
var ErrAudioNotFound = errors.New("session audio not found on analysis service")

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Request struct {
	SessionID       string  `json:"session_id"`
	MimeType        string  `json:"mime_type"`
	AudioBase64     string  `json:"audio_base64"`
	UserID          string  `json:"user_id,omitempty"`
	UserName        string  `json:"user_name,omitempty"`
	DurationMinutes float64 `json:"duration_minutes,omitempty"`
}

type Result struct {
	SessionID      string  `json:"session_id"`
	Title          string  `json:"title"`
	SessionReport  string  `json:"session_report"`
	Status         string  `json:"status"`
	ProcessingTime float64 `json:"processing_time"`
}

type SessionAudio struct {
	AudioBase64 string `json:"audio_base64"`
	MimeType    string `json:"mime_type"`
}

type Client interface {
	// Analyze submits one encoded recording and blocks until the service
	// responds or ctx expires.
	Analyze(ctx context.Context, req Request) (*Result, error)
	// FetchSessionAudio retrieves the remote copy of a session's audio.
	FetchSessionAudio(ctx context.Context, userID, sessionID string) (*SessionAudio, error)
	Health(ctx context.Context) error
}
