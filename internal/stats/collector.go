// Package stats keeps the relay's operational counters and serves them as
// a JSON object in the format of expvar.
package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ActiveClients   = "active_clients"
	ActiveRooms     = "active_rooms"
	MessagesRelayed = "messages_relayed"
	JoinsRejected   = "joins_rejected"

	uptime = "uptime_ms"
)

// Recorder is what the hub reports to. Add must not block the caller for
// long; a Recorder may apply updates asynchronously.
type Recorder interface {
	Register(name string)
	Add(name string, delta int64)
}

type update struct {
	name  string
	delta int64
}

// Collector applies counter updates on its own goroutine, started by Run.
// Updates sent before Run are buffered.
type Collector struct {
	log     zerolog.Logger
	vars    *expvar.Map
	updates chan update
	stop    chan struct{}
	once    sync.Once
}

// NewCollector does not publish its map to the process-wide expvar
// registry, so several collectors can coexist.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		log:     logger,
		vars:    new(expvar.Map).Init(),
		updates: make(chan update, 512),
		stop:    make(chan struct{}),
	}

	started := time.Now()
	c.vars.Set(uptime, expvar.Func(func() any {
		return time.Since(started).Milliseconds()
	}))

	return c
}

func (c *Collector) Register(name string) {
	if c.vars.Get(name) == nil {
		c.vars.Set(name, new(expvar.Int))
	}
}

func (c *Collector) Add(name string, delta int64) {
	select {
	case c.updates <- update{name: name, delta: delta}:
	case <-c.stop:
	}
}

// Value returns the current value of a registered counter.
func (c *Collector) Value(name string) (int64, bool) {
	v, ok := c.vars.Get(name).(*expvar.Int)
	if !ok {
		return 0, false
	}

	return v.Value(), true
}

func (c *Collector) Run() {
	go func() {
		for {
			select {
			case u := <-c.updates:
				c.apply(u)
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *Collector) apply(u update) {
	v, ok := c.vars.Get(u.name).(*expvar.Int)
	if !ok {
		c.log.Warn().Str("metric", u.name).Msg("dropping update for unregistered metric")
		return
	}

	v.Add(u.delta)
}

func (c *Collector) Stop() {
	c.once.Do(func() {
		close(c.stop)
	})
}

func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data := make(map[string]json.RawMessage)
	c.vars.Do(func(kv expvar.KeyValue) {
		data[kv.Key] = json.RawMessage(kv.Value.String())
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.log.Error().Err(err).Msg("encode stats")
	}
}
