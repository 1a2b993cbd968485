package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minutemanhq/minuteman/internal/store"
	_ "modernc.org/sqlite"
)

var sqliteMigrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS store_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audio_blobs (
		session_id TEXT PRIMARY KEY,
		mime_type TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`,
}

// SQLiteStore is the embedded backend for installs without a DATABASE_URL.
// Change notifications are in-process only; observers in other processes see
// them relayed over the daemon socket.
type SQLiteStore struct {
	db       *sql.DB
	notifier *changeNotifier
}

func NewSQLiteStore(path string) (store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store database: %w", err)
	}
	for _, stmt := range sqliteMigrationStatements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run store migration: %w", err)
		}
	}
	return &SQLiteStore{db: db, notifier: newChangeNotifier()}, nil
}

func (s *SQLiteStore) ReadAll(ctx context.Context) (store.State, error) {
	var state store.State
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM store_entries WHERE key IN (?, ?, ?)`,
		store.KeySessions, store.KeyActiveSessionID, store.KeyUserProfile)
	if err != nil {
		return state, fmt.Errorf("query store entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return state, fmt.Errorf("scan store entry: %w", err)
		}
		if err := decodeEntry(&state, key, []byte(value)); err != nil {
			return state, err
		}
	}
	return state, rows.Err()
}

func (s *SQLiteStore) Write(ctx context.Context, patch store.Patch) error {
	entries, err := encodePatch(patch)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store write: %w", err)
	}
	now := time.Now().Unix()
	for key, value := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO store_entries (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(value), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write store entry %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store write: %w", err)
	}
	for key := range entries {
		s.notifier.notify(key)
	}
	return nil
}

func (s *SQLiteStore) Subscribe(_ context.Context) (<-chan store.Change, func(), error) {
	ch, cancel := s.notifier.subscribe()
	return ch, cancel, nil
}

func (s *SQLiteStore) PutBlob(ctx context.Context, blob store.Blob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_blobs (session_id, mime_type, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET mime_type = excluded.mime_type, data = excluded.data`,
		blob.SessionID, blob.MimeType, blob.Data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put audio blob: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBlob(ctx context.Context, sessionID string) (*store.Blob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, mime_type, data FROM audio_blobs WHERE session_id = ?`, sessionID)
	var b store.Blob
	if err := row.Scan(&b.SessionID, &b.MimeType, &b.Data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get audio blob: %w", err)
	}
	return &b, nil
}

func (s *SQLiteStore) DeleteBlob(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM audio_blobs WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete audio blob: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.notifier.closeAll()
	return s.db.Close()
}

func encodePatch(patch store.Patch) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	if patch.Sessions != nil {
		b, err := json.Marshal(*patch.Sessions)
		if err != nil {
			return nil, fmt.Errorf("encode sessions: %w", err)
		}
		entries[store.KeySessions] = b
	}
	if patch.ActiveSessionID != nil {
		b, err := json.Marshal(*patch.ActiveSessionID)
		if err != nil {
			return nil, fmt.Errorf("encode active session id: %w", err)
		}
		entries[store.KeyActiveSessionID] = b
	}
	if patch.Profile != nil {
		b, err := json.Marshal(*patch.Profile)
		if err != nil {
			return nil, fmt.Errorf("encode user profile: %w", err)
		}
		entries[store.KeyUserProfile] = b
	}
	return entries, nil
}

func decodeEntry(state *store.State, key string, value []byte) error {
	switch key {
	case store.KeySessions:
		if err := json.Unmarshal(value, &state.Sessions); err != nil {
			return fmt.Errorf("decode sessions: %w", err)
		}
	case store.KeyActiveSessionID:
		if err := json.Unmarshal(value, &state.ActiveSessionID); err != nil {
			return fmt.Errorf("decode active session id: %w", err)
		}
	case store.KeyUserProfile:
		if err := json.Unmarshal(value, &state.Profile); err != nil {
			return fmt.Errorf("decode user profile: %w", err)
		}
	}
	return nil
}
