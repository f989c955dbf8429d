package sync

import "sync"

// broker fans out a "workspace changed" signal to any Watch callers
// blocked on that workspace, without carrying the change payload
// itself — a woken watcher re-pulls from its cursor, which keeps the
// broker a pure notification channel with no delivery guarantees of
// its own (a missed signal is harmless, since Watch always follows up
// with Pull).
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan struct{}]struct{})}
}

// subscribe registers a new notification channel for workspaceID and
// returns it along with an unsubscribe func the caller must defer.
func (b *broker) subscribe(workspaceID string) (ch chan struct{}, unsubscribe func()) {
	ch = make(chan struct{}, 1)
	b.mu.Lock()
	set, ok := b.subs[workspaceID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[workspaceID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[workspaceID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, workspaceID)
			}
		}
	}
}

// publish wakes every subscriber of workspaceID. Delivery is
// non-blocking: a subscriber that is not yet listening (channel buffer
// already full) simply doesn't need a second wakeup.
func (b *broker) publish(workspaceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[workspaceID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
