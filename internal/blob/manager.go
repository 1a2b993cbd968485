// Package blob manages the large audio payloads attached to sessions,
// separately from the metadata store: local cache first, remote fallback,
// and the one-time migration of legacy inline audio.
package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minutemanhq/minuteman/internal/analyzer"
	"github.com/minutemanhq/minuteman/internal/metrics"
	"github.com/minutemanhq/minuteman/internal/store"
)

// ErrAudioUnavailable means no usable audio exists locally or remotely.
var ErrAudioUnavailable = errors.New("no audio available for session")

const defaultMimeType = "audio/opus"

// Inline is an audio payload supplied directly by the caller.
type Inline struct {
	Base64   string
	MimeType string
}

type Manager struct {
	store        store.Store
	remote       analyzer.Client
	fetchTimeout time.Duration

	migrateOnce sync.Once
}

func NewManager(st store.Store, remote analyzer.Client, fetchTimeout time.Duration) *Manager {
	return &Manager{store: st, remote: remote, fetchTimeout: fetchTimeout}
}

// Resolve finds usable audio for a session: an inline payload wins and is
// persisted for future use, then the local cache, then a bounded-time fetch
// from the remote per-session audio endpoint. Remote hits are persisted
// locally. Anything else is ErrAudioUnavailable.
func (m *Manager) Resolve(ctx context.Context, userID, sessionID string, inline *Inline) (*store.Blob, error) {
	if inline != nil && inline.Base64 != "" {
		data, err := base64.StdEncoding.DecodeString(inline.Base64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 audio payload: %w", err)
		}
		b := store.Blob{SessionID: sessionID, MimeType: orDefaultMime(inline.MimeType), Data: data}
		if err := m.store.PutBlob(ctx, b); err != nil {
			return nil, fmt.Errorf("persist inline audio: %w", err)
		}
		return &b, nil
	}

	cached, err := m.store.GetBlob(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read audio cache: %w", err)
	}
	if cached != nil {
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()
	remote, err := m.remote.FetchSessionAudio(fetchCtx, userID, sessionID)
	if err != nil {
		slog.Info("remote audio fetch failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	data, err := base64.StdEncoding.DecodeString(remote.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: remote payload is not valid base64", ErrAudioUnavailable)
	}
	b := store.Blob{SessionID: sessionID, MimeType: orDefaultMime(remote.MimeType), Data: data}
	if err := m.store.PutBlob(ctx, b); err != nil {
		return nil, fmt.Errorf("persist remote audio: %w", err)
	}
	metrics.AudioFallbackFetches.Inc()
	slog.Info("audio recovered from remote store", "session_id", sessionID, "bytes", len(data))
	return &b, nil
}

// MigrateLegacyAudio moves audio payloads stored inline inside old session
// records into the blob cache, clears the inline field and marks has_audio,
// writing the mutated collection back once. It runs at most once per
// process and is idempotent across runs; per-record failures are logged and
// skipped so the rest of the sessions stay usable.
func (m *Manager) MigrateLegacyAudio(ctx context.Context) error {
	var outerErr error
	m.migrateOnce.Do(func() {
		outerErr = m.migrateLegacyAudio(ctx)
	})
	return outerErr
}

func (m *Manager) migrateLegacyAudio(ctx context.Context) error {
	state, err := m.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read store for migration: %w", err)
	}
	migrated := 0
	for i := range state.Sessions {
		s := &state.Sessions[i]
		if s.LegacyAudioBase64 == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(s.LegacyAudioBase64)
		if err != nil {
			slog.Warn("skipping legacy audio record: invalid base64", "session_id", s.ID, "error", err)
			continue
		}
		if err := m.store.PutBlob(ctx, store.Blob{
			SessionID: s.ID,
			MimeType:  orDefaultMime(s.AudioMimeType),
			Data:      data,
		}); err != nil {
			slog.Warn("skipping legacy audio record: persist failed", "session_id", s.ID, "error", err)
			continue
		}
		s.LegacyAudioBase64 = ""
		s.HasAudio = true
		migrated++
	}
	if migrated == 0 {
		return nil
	}
	if err := m.store.Write(ctx, store.Patch{Sessions: &state.Sessions}); err != nil {
		return fmt.Errorf("write back migrated sessions: %w", err)
	}
	slog.Info("legacy audio migration completed", "migrated", migrated)
	return nil
}

// Clear removes the local cache entry. Remote copies are left alone; the
// service exposes no delete endpoint.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	return m.store.DeleteBlob(ctx, sessionID)
}

func orDefaultMime(mime string) string {
	if mime == "" {
		return defaultMimeType
	}
	return mime
}
