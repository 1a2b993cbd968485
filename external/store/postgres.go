package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minutemanhq/minuteman/internal/store"
)

const storeNotifyChannel = "minuteman_store"

var postgresMigrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS store_entries (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audio_blobs (
		session_id TEXT PRIMARY KEY,
		mime_type TEXT NOT NULL,
		data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// PostgresStore backs the shared store with Postgres. Change notifications
// ride LISTEN/NOTIFY, so observers in other processes see writes without
// polling; the writer observes its own writes through the same channel.
type PostgresStore struct {
	pool     *pgxpool.Pool
	notifier *changeNotifier
	cancel   context.CancelFunc
}

func NewPostgresStore(ctx context.Context, databaseURL string) (store.Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runPostgresMigration(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{pool: pool, notifier: newChangeNotifier(), cancel: cancel}
	go s.listenLoop(listenCtx, databaseURL)
	return s, nil
}

func runPostgresMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range postgresMigrationStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const listenRetryInterval = 3 * time.Second

// listenRetryDelay paces reconnect attempts of the notification listener.
// Returns false once ctx is done.
func listenRetryDelay(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(listenRetryInterval):
		return true
	}
}

func (s *PostgresStore) listenLoop(ctx context.Context, databaseURL string) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			slog.Error("store listener connect failed; retrying", "error", err)
			if !listenRetryDelay(ctx) {
				return
			}
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+storeNotifyChannel); err != nil {
			slog.Error("store listener LISTEN failed; retrying", "error", err)
			_ = conn.Close(ctx)
			if !listenRetryDelay(ctx) {
				return
			}
			continue
		}
		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					_ = conn.Close(context.Background())
					return
				}
				slog.Warn("store listener dropped; reconnecting", "error", err)
				_ = conn.Close(context.Background())
				break
			}
			s.notifier.notify(notification.Payload)
		}
	}
}

func (s *PostgresStore) ReadAll(ctx context.Context) (store.State, error) {
	var state store.State
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM store_entries WHERE key = ANY($1)`,
		[]string{store.KeySessions, store.KeyActiveSessionID, store.KeyUserProfile})
	if err != nil {
		return state, fmt.Errorf("query store entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return state, fmt.Errorf("scan store entry: %w", err)
		}
		if err := decodeEntry(&state, key, value); err != nil {
			return state, err
		}
	}
	return state, rows.Err()
}

func (s *PostgresStore) Write(ctx context.Context, patch store.Patch) error {
	entries, err := encodePatch(patch)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store write: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for key, value := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO store_entries (key, value, updated_at) VALUES ($1, $2, NOW())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			key, json.RawMessage(value)); err != nil {
			return fmt.Errorf("write store entry %s: %w", key, err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, storeNotifyChannel, key); err != nil {
			return fmt.Errorf("notify store change %s: %w", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit store write: %w", err)
	}
	return nil
}

func (s *PostgresStore) Subscribe(_ context.Context) (<-chan store.Change, func(), error) {
	ch, cancel := s.notifier.subscribe()
	return ch, cancel, nil
}

func (s *PostgresStore) PutBlob(ctx context.Context, blob store.Blob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audio_blobs (session_id, mime_type, data, created_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (session_id) DO UPDATE SET mime_type = EXCLUDED.mime_type, data = EXCLUDED.data`,
		blob.SessionID, blob.MimeType, blob.Data)
	if err != nil {
		return fmt.Errorf("put audio blob: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBlob(ctx context.Context, sessionID string) (*store.Blob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, mime_type, data FROM audio_blobs WHERE session_id = $1`, sessionID)
	var b store.Blob
	if err := row.Scan(&b.SessionID, &b.MimeType, &b.Data); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get audio blob: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) DeleteBlob(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM audio_blobs WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete audio blob: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.cancel()
	s.notifier.closeAll()
	s.pool.Close()
	return nil
}
