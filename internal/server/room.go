package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/wire"
	"github.com/rs/zerolog"
)

type exitReq struct {
	done chan bool
}

type publishReq struct {
	client  *Client
	content string
}

type Room struct {
	id            string
	cs            *ChatServer
	log           zerolog.Logger
	joinChan      chan *joinReq
	leaveChan     chan *Client
	clientMsgChan chan *publishReq
	clients       map[*Client]struct{}
	// killTimer unloads the room once it has had no clients for the
	// server's idle timeout
	killTimer *time.Timer
	exit      chan exitReq
	stop      chan struct{}
	done      chan struct{}
}

func newRoom(id string, cs *ChatServer) *Room {
	return &Room{
		id:            id,
		cs:            cs,
		log:           cs.log.With().Str("room", id).Logger(),
		joinChan:      make(chan *joinReq, roomQueueSize),
		leaveChan:     make(chan *Client, roomQueueSize),
		clientMsgChan: make(chan *publishReq, roomQueueSize),
		clients:       make(map[*Client]struct{}),
		exit:          make(chan exitReq),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Debug().Msg("starting room")
	r.killTimer = time.NewTimer(r.cs.idleTimeout)
	r.killTimer.Stop()

	defer close(r.done)

	for {
		select {
		case req := <-r.joinChan:
			r.handleJoin(req.client)
			close(req.done)
		case c := <-r.leaveChan:
			r.removeClient(c)
		case msg := <-r.clientMsgChan:
			r.saveAndBroadcast(msg)
		case <-r.killTimer.C:
			if !r.handleRoomTimeout() {
				r.handleRoomExit()
				return
			}
		case e := <-r.exit:
			if len(r.clients) > 0 || len(r.joinChan) > 0 {
				e.done <- false
				continue
			}
			e.done <- true
			r.handleRoomExit()
			return
		case <-r.stop:
			r.handleRoomExit()
			return
		}
	}
}

// handleRoomTimeout asks the server to unload the room. It returns false
// if the server is shutting down instead.
func (r *Room) handleRoomTimeout() bool {
	r.log.Debug().Msg("room timed out")
	select {
	case r.cs.unloadRoomChan <- r:
		return true
	case <-r.stop:
		return false
	}
}

func (r *Room) handleRoomExit() {
	r.log.Debug().Int("clients", len(r.clients)).Msg("room is exiting")
	r.killTimer.Stop()

	for c := range r.clients {
		c.delRoom(r)
		c.stopClient()
	}
}

func (r *Room) handleJoin(c *Client) {
	r.killTimer.Stop()

	if !r.cs.db.IsMember(r.id, c.user.Id) {
		r.log.Info().Str("user", c.user.Id).Msg("rejecting join from non-member")
		r.cs.stats.Add(stats.JoinsRejected, 1)
		c.queueMessage(wire.NewErrorFrame(http.StatusForbidden))
		r.resetTimerIfIdle()
		return
	}

	dbRoom, err := r.cs.db.GetRoom(r.id)
	if err != nil {
		r.log.Error().Err(err).Msg("GetRoom")
		c.queueMessage(wire.NewErrorFrame(http.StatusInternalServerError))
		r.resetTimerIfIdle()
		return
	}

	r.clients[c] = struct{}{}
	c.addRoom(r)

	c.queueMessage(wire.JoinedFrame{Room: RoomInfo(dbRoom)})
	r.log.Debug().Str("user", c.user.Username).Int("clients", len(r.clients)).Msg("client joined")
}

func (r *Room) removeClient(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r)
	r.log.Debug().Str("user", c.user.Username).Msg("removed client")

	r.resetTimerIfIdle()
}

func (r *Room) resetTimerIfIdle() {
	if len(r.clients) == 0 {
		r.log.Debug().Msg("no clients, starting kill timer")
		r.killTimer.Reset(r.cs.idleTimeout)
	}
}

func (r *Room) saveAndBroadcast(req *publishReq) {
	if _, ok := r.clients[req.client]; !ok {
		req.client.queueMessage(wire.NewErrorFrame(http.StatusForbidden))
		return
	}

	content := strings.TrimSpace(r.cs.policy.Sanitize(req.content))
	if content == "" {
		req.client.queueMessage(wire.NewErrorFrame(http.StatusBadRequest))
		return
	}

	msg := database.Message{
		Id:        uuid.NewString(),
		RoomId:    r.id,
		UserId:    req.client.user.Id,
		Username:  req.client.user.Username,
		Content:   content,
		CreatedAt: Now(),
	}

	if err := r.cs.db.CreateMessage(msg); err != nil {
		r.log.Error().Err(err).Msg("error saving message")
		req.client.queueMessage(wire.NewErrorFrame(http.StatusInternalServerError))
		return
	}
	r.cs.stats.Add(stats.MessagesRelayed, 1)

	r.broadcast(wire.MessageFrame{Message: ToMessage(msg)})
}

func (r *Room) broadcast(f wire.Frame) {
	for c := range r.clients {
		c.queueMessage(f)
	}
}

// RoomInfo converts a stored room to its wire form.
func RoomInfo(room database.Room) types.RoomInfo {
	return types.RoomInfo{
		Id:          room.Id,
		Name:        room.Name,
		MemberCount: len(room.Members),
	}
}

// ToMessage converts a stored message to its wire form.
func ToMessage(m database.Message) types.Message {
	return types.Message{
		Id:        m.Id,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		User: types.User{
			Id:       m.UserId,
			Username: m.Username,
		},
	}
}
