package store

import (
	"sync"

	"github.com/minutemanhq/minuteman/internal/store"
)

// changeNotifier fans out store change notes to subscribers. Delivery is
// best-effort: a subscriber that falls behind loses notes rather than
// blocking the writer.
type changeNotifier struct {
	mu     sync.Mutex
	subs   map[int]chan store.Change
	nextID int
}

func newChangeNotifier() *changeNotifier {
	return &changeNotifier{subs: make(map[int]chan store.Change)}
}

func (n *changeNotifier) subscribe() (<-chan store.Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan store.Change, 16)
	n.subs[id] = ch
	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (n *changeNotifier) notify(key string) {
	n.mu.Lock()
	subs := make([]chan store.Change, 0, len(n.subs))
	for _, ch := range n.subs {
		subs = append(subs, ch)
	}
	n.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- store.Change{Key: key}:
		default:
		}
	}
}

func (n *changeNotifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
