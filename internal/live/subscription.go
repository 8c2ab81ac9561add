package live

import "sync"

// Subscription delivers the manager's events from the moment it was
// created. C is closed when the manager stops. After Cancel, C receives no
// further events but is not closed.
type Subscription struct {
	C <-chan Event

	c    chan Event
	done chan struct{}
	once sync.Once
	m    *Manager
	id   int
}

// Subscribe starts a new event sequence. Events published before the call
// are not replayed; use State for the current state.
func (m *Manager) Subscribe() *Subscription {
	c := make(chan Event, subBufferSize)
	s := &Subscription{
		C:    c,
		c:    c,
		done: make(chan struct{}),
		m:    m,
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.finished {
		close(c)
		return s
	}

	m.nextSub++
	s.id = m.nextSub
	m.subs[s.id] = s

	return s
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.m.subMu.Lock()
		delete(s.m.subs, s.id)
		s.m.subMu.Unlock()
		close(s.done)
	})
}

// publish is only called from the manager's run goroutine, so events reach
// every subscriber in the order they were produced.
func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subMu.Unlock()

	for _, s := range subs {
		m.deliver(s, ev)
	}
}

// deliver blocks while the subscriber's buffer is full, which applies
// backpressure to the socket reader instead of dropping messages.
func (m *Manager) deliver(s *Subscription, ev Event) {
	select {
	case s.c <- ev:
		return
	default:
	}

	select {
	case s.c <- ev:
	case <-s.done:
	case <-m.stop:
	}
}
