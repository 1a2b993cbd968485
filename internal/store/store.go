// Package store defines the persistent, cross-context session store. Every
// execution context reads and writes through this interface; none of them
// keeps authoritative session state in memory.
package store

import (
	"context"
	"time"
)

type SessionStatus string

const (
	StatusRecording  SessionStatus = "recording"
	StatusProcessing SessionStatus = "processing"
	StatusDone       SessionStatus = "done"
	StatusFailed     SessionStatus = "failed"
)

// IsStable reports whether the status is a stable, resumable state. Both
// stable states accept re-entry into processing via regenerate.
func (s SessionStatus) IsStable() bool {
	return s == StatusDone || s == StatusFailed
}

type Session struct {
	ID            string        `json:"id"`
	Status        SessionStatus `json:"status"`
	Title         string        `json:"title,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UserID        string        `json:"user_id"`
	UserName      string        `json:"user_name"`
	HasAudio      bool          `json:"has_audio"`
	AudioMimeType string        `json:"audio_mime_type,omitempty"`
	SessionReport *string       `json:"session_report"`

	// LegacyAudioBase64 carries audio inline inside the metadata record.
	// Only pre-blob-cache records have it; the migration pass moves it out.
	LegacyAudioBase64 string `json:"audio_base64,omitempty"`
}

type UserProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is the full top-level content of the metadata store.
type State struct {
	Sessions        []Session    `json:"sessions"`
	ActiveSessionID *string      `json:"activeSessionId"`
	Profile         *UserProfile `json:"userProfile"`
}

// Patch is a top-level merge: nil fields are left untouched, non-nil fields
// replace the stored value wholesale. There is no partial-record update;
// callers read-modify-write the whole sessions collection.
type Patch struct {
	Sessions        *[]Session
	ActiveSessionID **string
	Profile         **UserProfile
}

// Change notifies observers that a top-level key was written. Delivery order
// relative to the writer's own continuation is not guaranteed.
type Change struct {
	Key string
}

const (
	KeySessions        = "sessions"
	KeyActiveSessionID = "activeSessionId"
	KeyUserProfile     = "userProfile"
)

// Blob is a large audio payload stored separately from session metadata,
// keyed 1:1 by session id.
type Blob struct {
	SessionID string
	MimeType  string
	Data      []byte
}

type Store interface {
	ReadAll(ctx context.Context) (State, error)
	Write(ctx context.Context, patch Patch) error

	// Subscribe registers an observer of top-level key changes. The returned
	// cancel func must be called when the observer goes away.
	Subscribe(ctx context.Context) (<-chan Change, func(), error)

	PutBlob(ctx context.Context, blob Blob) error
	GetBlob(ctx context.Context, sessionID string) (*Blob, error)
	DeleteBlob(ctx context.Context, sessionID string) error

	Close() error
}

// FindSession returns a pointer into sessions for the given id, or nil.
func FindSession(sessions []Session, id string) *Session {
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i]
		}
	}
	return nil
}
