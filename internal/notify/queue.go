// Package notify holds short-lived, user-facing status notifications that
// expire on their own.
package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	DefaultTTL    = 5000 * time.Millisecond
	DefaultMaxLen = 20
)

type Kind int

const (
	Success Kind = iota
	Error
	Warning
	Info
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	}

	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Notification struct {
	Id          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type EventType int

const (
	Added EventType = iota
	Removed
	Expired
	Evicted
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Expired:
		return "expired"
	case Evicted:
		return "evicted"
	}

	return "unknown"
}

type Event struct {
	Type         EventType
	Notification Notification
}

type Option func(*Queue)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		q.ttl = ttl
	}
}

// WithMaxLen bounds the queue; the oldest entry is evicted first.
// A value <= 0 disables the bound.
func WithMaxLen(n int) Option {
	return func(q *Queue) {
		q.maxLen = n
	}
}

// WithListener registers fn to be called after every change. Events are
// delivered one at a time in the order the changes happened. fn runs without
// the queue lock held and may call back into the queue; events caused by such
// calls are delivered after fn returns.
func WithListener(fn func(Event)) Option {
	return func(q *Queue) {
		q.listener = fn
	}
}

func WithIdGenerator(fn func() string) Option {
	return func(q *Queue) {
		q.newId = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

type entry struct {
	n     Notification
	timer *time.Timer
}

// Queue is safe for concurrent use. One Queue is created at the root of the
// application and handed to every component that reports outcomes.
type Queue struct {
	log      zerolog.Logger
	ttl      time.Duration
	maxLen   int
	newId    func() string
	now      func() time.Time
	listener func(Event)

	mu          sync.Mutex
	entries     []*entry
	closed      bool
	pending     []Event
	dispatching bool
}

func NewQueue(logger zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		log:    logger,
		ttl:    DefaultTTL,
		maxLen: DefaultMaxLen,
		newId:  generateId,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func generateId() string {
	id, err := shortid.Generate()
	if err != nil {
		return uuid.NewString()
	}

	return id
}

// Add appends a notification and schedules its removal after the queue's
// TTL. It returns the new notification's id, or "" if the queue is closed.
func (q *Queue) Add(kind Kind, title, description string) string {
	e := &entry{
		n: Notification{
			Id:          q.newId(),
			Kind:        kind,
			Title:       title,
			Description: description,
			CreatedAt:   q.now(),
		},
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ""
	}

	q.entries = append(q.entries, e)
	e.timer = time.AfterFunc(q.ttl, func() { q.expire(e) })

	var evicted []Notification
	for q.maxLen > 0 && len(q.entries) > q.maxLen {
		oldest := q.entries[0]
		oldest.timer.Stop()
		q.entries = slices.Delete(q.entries, 0, 1)
		evicted = append(evicted, oldest.n)
	}

	q.pushLocked(Event{Type: Added, Notification: e.n})
	for _, n := range evicted {
		q.pushLocked(Event{Type: Evicted, Notification: n})
	}
	q.mu.Unlock()

	q.log.Debug().
		Str("id", e.n.Id).
		Stringer("kind", kind).
		Str("title", title).
		Msg("notification added")

	q.dispatch()
	return e.n.Id
}

// Remove dismisses the notification with the given id. Removing an unknown
// or already expired id is a no-op.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	i := slices.IndexFunc(q.entries, func(e *entry) bool { return e.n.Id == id })
	if i < 0 {
		q.mu.Unlock()
		return
	}

	e := q.entries[i]
	e.timer.Stop()
	q.entries = slices.Delete(q.entries, i, i+1)
	q.pushLocked(Event{Type: Removed, Notification: e.n})
	q.mu.Unlock()

	q.dispatch()
}

// expire runs on the entry's timer goroutine. The entry may already have
// been removed or evicted, in which case there is nothing to do.
func (q *Queue) expire(e *entry) {
	q.mu.Lock()
	i := slices.Index(q.entries, e)
	if i < 0 {
		q.mu.Unlock()
		return
	}
	q.entries = slices.Delete(q.entries, i, i+1)
	q.pushLocked(Event{Type: Expired, Notification: e.n})
	q.mu.Unlock()

	q.log.Debug().Str("id", e.n.Id).Msg("notification expired")
	q.dispatch()
}

// pushLocked records ev in the same critical section as the change it
// describes, so pending holds events in change order.
func (q *Queue) pushLocked(ev Event) {
	if q.listener != nil {
		q.pending = append(q.pending, ev)
	}
}

// dispatch hands pending events to the listener. Only one goroutine
// dispatches at a time; others leave their events to it.
func (q *Queue) dispatch() {
	q.mu.Lock()
	if q.dispatching {
		q.mu.Unlock()
		return
	}
	q.dispatching = true

	for len(q.pending) > 0 {
		ev := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.listener(ev)

		q.mu.Lock()
	}

	q.pending = nil
	q.dispatching = false
	q.mu.Unlock()
}

// List returns the live notifications in insertion order.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Notification, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.n
	}

	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Close stops every pending timer and drops all notifications. Later calls
// to Add are ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		e.timer.Stop()
	}
	q.entries = nil
	q.closed = true
}
