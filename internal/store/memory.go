package store

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. It backs unit tests and any context
// that must run without a durable backend; change notifications are
// delivered asynchronously like the durable implementations.
type MemoryStore struct {
	mu     sync.Mutex
	state  State
	blobs  map[string]Blob
	subs   map[int]chan Change
	nextID int
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string]Blob),
		subs:  make(map[int]chan Change),
	}
}

func (m *MemoryStore) ReadAll(_ context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state), nil
}

func (m *MemoryStore) Write(_ context.Context, patch Patch) error {
	m.mu.Lock()
	var changed []string
	if patch.Sessions != nil {
		m.state.Sessions = append([]Session(nil), (*patch.Sessions)...)
		changed = append(changed, KeySessions)
	}
	if patch.ActiveSessionID != nil {
		m.state.ActiveSessionID = *patch.ActiveSessionID
		changed = append(changed, KeyActiveSessionID)
	}
	if patch.Profile != nil {
		m.state.Profile = *patch.Profile
		changed = append(changed, KeyUserProfile)
	}
	subs := make([]chan Change, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, key := range changed {
		for _, ch := range subs {
			select {
			case ch <- Change{Key: key}:
			default:
			}
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context) (<-chan Change, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan Change, 16)
	m.subs[id] = ch
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (m *MemoryStore) PutBlob(_ context.Context, blob Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[blob.SessionID] = Blob{
		SessionID: blob.SessionID,
		MimeType:  blob.MimeType,
		Data:      append([]byte(nil), blob.Data...),
	}
	return nil
}

func (m *MemoryStore) GetBlob(_ context.Context, sessionID string) (*Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[sessionID]
	if !ok {
		return nil, nil
	}
	out := Blob{
		SessionID: b.SessionID,
		MimeType:  b.MimeType,
		Data:      append([]byte(nil), b.Data...),
	}
	return &out, nil
}

func (m *MemoryStore) DeleteBlob(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}

func cloneState(s State) State {
	out := State{
		Sessions: append([]Session(nil), s.Sessions...),
	}
	if s.ActiveSessionID != nil {
		id := *s.ActiveSessionID
		out.ActiveSessionID = &id
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	return out
}
