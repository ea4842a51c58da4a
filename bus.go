package voiceapi

import "sync"

// Subscription represents one attachment to a multicast bus. Closing it stops
// delivery to that subscriber only; the bus itself stays open for the
// lifetime of the owning client regardless of subscriber count.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close detaches the subscriber. It is safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// NewSubscription wraps a cancel function in a Subscription. Consumer code
// never needs this; it exists so test doubles of the client can satisfy
// interfaces that return a *Subscription.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// multicaster is an in-process publish/subscribe bus: every published item is
// delivered to every current subscriber, in subscription order, on the
// publisher's goroutine. Its lifecycle is tied to the owning client, not to
// the subscriber count, so items published while no subscriber is attached
// are simply discarded without closing the bus.
type multicaster[T any] struct {
	mu   sync.Mutex
	next int
	subs []busSub[T]
}

type busSub[T any] struct {
	id int
	fn func(T)
}

func newMulticaster[T any]() *multicaster[T] {
	return &multicaster[T]{}
}

// subscribe registers fn to receive every item published after this call.
// fn runs on the publisher's goroutine and must not block.
func (m *multicaster[T]) subscribe(fn func(T)) *Subscription {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs = append(m.subs, busSub[T]{id: id, fn: fn})
	m.mu.Unlock()

	return &Subscription{cancel: func() { m.unsubscribe(id) }}
}

func (m *multicaster[T]) unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// publish delivers item to all current subscribers. The subscriber list is
// snapshotted first so handlers may subscribe or unsubscribe reentrantly; a
// subscriber detaching concurrently with a publish may still observe the
// in-flight item.
func (m *multicaster[T]) publish(item T) {
	m.mu.Lock()
	snapshot := make([]busSub[T], len(m.subs))
	copy(snapshot, m.subs)
	m.mu.Unlock()

	for _, s := range snapshot {
		s.fn(item)
	}
}

// count reports the current number of subscribers.
func (m *multicaster[T]) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
