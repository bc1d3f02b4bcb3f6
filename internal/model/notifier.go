package model

import "sync"

// Notifier is the model's single coalesced change channel. Subscribers
// receive at most one pending signal regardless of how many entities
// changed within a reconciliation pass; only top-level reconciliation
// operations fire it, never individual entry updates.
type Notifier struct {
	mu    sync.Mutex
	subs  map[int]chan struct{}
	next  int
	fires int
}

// NewNotifier creates an empty notifier
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan struct{})}
}

// Subscribe registers a new subscriber and returns its signal channel
// along with an unsubscribe function. The channel holds at most one
// pending signal; signals fired while one is pending coalesce.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Fires returns how many times Notify has been called.
func (n *Notifier) Fires() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fires
}

// Notify signals every subscriber without blocking.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fires++
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
