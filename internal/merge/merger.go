// Package merge reconciles a room's fetched history with its live stream.
package merge

import (
	"sort"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Merger keeps one ordered, deduplicated sequence of messages. It holds no
// network state and never fails; inputs are validated where they enter the
// process. A Merger is not safe for concurrent use.
type Merger struct {
	msgs []types.Message
	seen map[string]struct{}
}

func New() *Merger {
	return &Merger{
		seen: make(map[string]struct{}),
	}
}

// Add inserts msg at its sorted position unless a message with the same id
// is already present. It reports whether msg was inserted.
func (m *Merger) Add(msg types.Message) bool {
	if _, ok := m.seen[msg.Id]; ok {
		return false
	}
	m.seen[msg.Id] = struct{}{}

	n := len(m.msgs)
	if n == 0 || !msg.Before(m.msgs[n-1]) {
		m.msgs = append(m.msgs, msg)
		return true
	}

	// only the tail after i moves
	i := sort.Search(n, func(i int) bool {
		return msg.Before(m.msgs[i])
	})
	m.msgs = append(m.msgs, types.Message{})
	copy(m.msgs[i+1:], m.msgs[i:n])
	m.msgs[i] = msg

	return true
}

// AddBatch adds every message in msgs and returns how many were new.
func (m *Merger) AddBatch(msgs []types.Message) int {
	added := 0
	for _, msg := range msgs {
		if m.Add(msg) {
			added++
		}
	}

	return added
}

func (m *Merger) Has(id string) bool {
	_, ok := m.seen[id]
	return ok
}

func (m *Merger) Len() int {
	return len(m.msgs)
}

// Messages returns a copy of the merged view.
func (m *Merger) Messages() []types.Message {
	out := make([]types.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}
