package live

import (
	"math"
	"time"

	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}

	return "unknown"
}

// Backoff is a bounded exponential reconnect schedule.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxRetries is the number of consecutive failures after which the
	// outage is reported. Reconnection continues at Max afterwards.
	MaxRetries int
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
		MaxRetries: 8,
	}
}

// Delay returns Initial * Multiplier^(attempt-1), never more than Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}

	delay := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(b.Max) {
		return b.Max
	}

	return time.Duration(delay)
}

// Notifier is the part of the notification queue the manager reports
// outages through.
type Notifier interface {
	Add(kind notify.Kind, title, description string) string
}

// Event is delivered to subscribers. The set of variants is closed:
// MessageReceived, RoomJoined, StateChanged and Failure.
type Event interface {
	isEvent()
}

type MessageReceived struct {
	Message types.Message
}

type RoomJoined struct {
	Room types.RoomInfo
}

type StateChanged struct {
	State State
}

// Failure reports a protocol error from the relay or, when Terminal is set,
// the error that ended the manager.
type Failure struct {
	Err      error
	Terminal bool
}

func (MessageReceived) isEvent() {}
func (RoomJoined) isEvent()      {}
func (StateChanged) isEvent()    {}
func (Failure) isEvent()         {}
