// Package session binds the history loader, the live connection and the
// message merger into the view of the room a user is in.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/npezzotti/go-chatsync/internal/chatapi"
	"github.com/npezzotti/go-chatsync/internal/live"
	"github.com/npezzotti/go-chatsync/internal/merge"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

var ErrNoRoom = errors.New("no room entered")

// Live is the live channel of a single room.
type Live interface {
	// Events is never closed while the room is entered.
	Events() <-chan live.Event
	Send(content string) error
	Close() error
}

// Connector opens the live channel for roomId.
type Connector func(roomId string) Live

// ManagerConnector opens a live.Manager per room with opts.
func ManagerConnector(opts live.Options) Connector {
	return func(roomId string) Live {
		m, sub := live.OpenSubscribed(roomId, opts)
		return &managerLive{Manager: m, sub: sub}
	}
}

type managerLive struct {
	*live.Manager
	sub *live.Subscription
}

func (l *managerLive) Events() <-chan live.Event {
	return l.sub.C
}

func (l *managerLive) Close() error {
	l.sub.Cancel()
	return l.Manager.Close()
}

// View is a snapshot of the entered room.
type View struct {
	RoomId string
	// Room is nil until the room metadata arrives.
	Room     *types.RoomInfo
	Messages []types.Message
	State    live.State
	// Err is set when the room cannot be shown at all.
	Err     error
	Loading bool
}

type Session struct {
	log     zerolog.Logger
	loader  chatapi.Loader
	connect Connector
	notes   live.Notifier

	mu      sync.Mutex
	gen     uint64
	roomId  string
	room    *types.RoomInfo
	merger  *merge.Merger
	state   live.State
	err     error
	loading bool
	conn    Live
	cancel  context.CancelFunc

	updates chan struct{}
}

func New(loader chatapi.Loader, connect Connector, notes live.Notifier, logger zerolog.Logger) *Session {
	return &Session{
		log:     logger,
		loader:  loader,
		connect: connect,
		notes:   notes,
		merger:  merge.New(),
		updates: make(chan struct{}, 1),
	}
}

// Updates signals that the view changed. Signals are coalesced; read
// Snapshot after receiving one.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) changed() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Enter leaves the current room, if any, and starts loading roomId. History
// and the live channel are fetched concurrently and merged as they arrive.
func (s *Session) Enter(ctx context.Context, roomId string) error {
	if roomId == "" {
		return ErrNoRoom
	}

	s.mu.Lock()
	oldConn, oldCancel := s.resetLocked()

	s.gen++
	gen := s.gen
	s.roomId = roomId
	s.loading = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	conn := s.connect(roomId)
	s.conn = conn
	s.mu.Unlock()

	closeRoom(oldConn, oldCancel)

	s.log.Info().Str("room", roomId).Uint64("generation", gen).Msg("entering room")

	go s.loadHistory(ctx, gen, roomId)
	go s.loop(ctx, gen, conn)

	s.changed()
	return nil
}

// Leave closes the live channel and discards the room's state.
func (s *Session) Leave() {
	s.mu.Lock()
	oldConn, oldCancel := s.resetLocked()
	s.gen++
	s.mu.Unlock()

	closeRoom(oldConn, oldCancel)
	s.changed()
}

// Retry enters the current room again, for use after a blocking error.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	roomId := s.roomId
	s.mu.Unlock()

	if roomId == "" {
		return ErrNoRoom
	}

	return s.Enter(ctx, roomId)
}

// Submit sends content to the entered room. Blank content is ignored. Other
// failures are reported through the notifier and returned.
func (s *Session) Submit(content string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNoRoom
	}

	err := conn.Send(content)
	if errors.Is(err, live.ErrEmptyContent) {
		return nil
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("send failed")
		s.notify(notify.Error, "Failed to send message", err.Error())
		return err
	}

	return nil
}

func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		RoomId:   s.roomId,
		Messages: s.merger.Messages(),
		State:    s.state,
		Err:      s.err,
		Loading:  s.loading,
	}
	if s.room != nil {
		room := *s.room
		v.Room = &room
	}

	return v
}

// resetLocked discards the current room's state and returns what must be
// closed once the lock is released.
func (s *Session) resetLocked() (Live, context.CancelFunc) {
	conn, cancel := s.conn, s.cancel

	s.roomId = ""
	s.room = nil
	s.merger = merge.New()
	s.state = live.Disconnected
	s.err = nil
	s.loading = false
	s.conn = nil
	s.cancel = nil

	return conn, cancel
}

func closeRoom(conn Live, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// current reports whether gen is still the entered room.
func (s *Session) current(gen uint64) bool {
	return s.gen == gen
}

func (s *Session) loadHistory(ctx context.Context, gen uint64, roomId string) {
	room, err := s.loader.GetRoom(ctx, roomId)
	var msgs []types.Message
	if err == nil {
		msgs, err = s.loader.GetMessages(ctx, roomId)
	}

	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		s.log.Debug().Str("room", roomId).Msg("discarding history for a room no longer entered")
		return
	}

	s.loading = false
	if err != nil {
		s.err = err
		s.mu.Unlock()
		s.log.Error().Err(err).Str("room", roomId).Msg("failed to load room")
		s.changed()
		return
	}

	s.room = &room
	added := s.merger.AddBatch(msgs)
	s.mu.Unlock()

	s.log.Debug().Str("room", roomId).Int("messages", added).Msg("history loaded")
	s.changed()
}

func (s *Session) loop(ctx context.Context, gen uint64, conn Live) {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			s.abandon(gen)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !s.apply(gen, ev) {
				return
			}
		}
	}
}

// abandon leaves the room entered as gen once the context given to Enter is
// done. Rooms entered since then are left alone.
func (s *Session) abandon(gen uint64) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	roomId := s.roomId
	conn, cancel := s.resetLocked()
	s.gen++
	s.mu.Unlock()

	closeRoom(conn, cancel)
	s.log.Debug().Str("room", roomId).Msg("context done, left room")
	s.changed()
}

// apply folds ev into the view. It returns false once gen is no longer the
// entered room.
func (s *Session) apply(gen uint64, ev live.Event) bool {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return false
	}

	var warn error
	switch e := ev.(type) {
	case live.MessageReceived:
		s.merger.Add(e.Message)
	case live.RoomJoined:
		// room metadata comes from the loader only
		s.log.Debug().Str("room", e.Room.Id).Msg("joined room")
	case live.StateChanged:
		s.state = e.State
	case live.Failure:
		if e.Terminal {
			s.err = e.Err
		} else {
			warn = e.Err
		}
	}
	s.mu.Unlock()

	if warn != nil {
		s.notify(notify.Warning, "Room error", warn.Error())
	}

	s.changed()
	return true
}

func (s *Session) notify(kind notify.Kind, title, description string) {
	if s.notes == nil {
		return
	}
	s.notes.Add(kind, title, description)
}
