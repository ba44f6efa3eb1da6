package identity

import "sync"

// Notifier is a registry of auth state listeners. Provider adapters embed it
// to implement OnAuthStateChange.
type Notifier struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
}

// Subscribe registers a listener and returns its handle. Unsubscribe on the
// handle is idempotent.
func (n *Notifier) Subscribe(listener Listener) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listeners == nil {
		n.listeners = make(map[uint64]Listener)
	}
	n.nextID++
	id := n.nextID
	n.listeners[id] = listener

	return &subscription{notifier: n, id: id}
}

// Emit delivers an event to every registered listener. Listeners run
// synchronously on the caller's goroutine, outside the registry lock.
func (n *Notifier) Emit(event AuthEvent, session *Session) {
	n.mu.RLock()
	targets := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		targets = append(targets, l)
	}
	n.mu.RUnlock()

	for _, l := range targets {
		l(event, session)
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.listeners, id)
	n.mu.Unlock()
}

type subscription struct {
	notifier *Notifier
	id       uint64
	once     sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.notifier.remove(s.id)
	})
}
