// Package server is the relay's websocket hub. Each loaded room runs in its
// own goroutine and fans published messages out to the room's clients.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/wire"
	"github.com/rs/zerolog"
)

const (
	defaultIdleRoomTimeout = 5 * time.Second
	roomQueueSize          = 256
)

// joinReq is resolved, successfully or not, by closing done.
type joinReq struct {
	client *Client
	roomId string
	done   chan struct{}
}

type ChatServer struct {
	log            zerolog.Logger
	db             database.ChatRepository
	stats          stats.Recorder
	policy         *bluemonday.Policy
	idleTimeout    time.Duration
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *joinReq
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan *Room
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
	stopOnce       sync.Once
}

func NewChatServer(logger zerolog.Logger, db database.ChatRepository, su stats.Recorder) *ChatServer {
	for _, name := range []string{stats.ActiveClients, stats.ActiveRooms, stats.MessagesRelayed, stats.JoinsRejected} {
		su.Register(name)
	}

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		policy:         bluemonday.StrictPolicy(),
		idleTimeout:    defaultIdleRoomTimeout,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *joinReq, roomQueueSize),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan *Room),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// SetIdleRoomTimeout changes how long a room without clients stays loaded.
// It must be called before Run.
func (cs *ChatServer) SetIdleRoomTimeout(d time.Duration) {
	cs.idleTimeout = d
}

func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.joinChan:
			cs.handleJoin(req)
		case client := <-cs.registerChan:
			cs.log.Debug().Str("user", client.user.Username).Msg("adding connection")
			cs.addClient(client)
			cs.stats.Add(stats.ActiveClients, 1)
		case client := <-cs.deRegisterChan:
			cs.log.Debug().Str("user", client.user.Username).Msg("removing connection")
			if cs.removeClient(client) {
				cs.stats.Add(stats.ActiveClients, -1)
			}
		case r := <-cs.unloadRoomChan:
			cs.unloadRoom(r)
		case <-cs.stop:
			cs.log.Info().Int("rooms", len(cs.rooms)).Msg("shutting down rooms")
			for id, r := range cs.rooms {
				close(r.stop)
				<-r.done
				delete(cs.rooms, id)
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(req *joinReq) {
	room, ok := cs.rooms[req.roomId]
	if !ok {
		dbRoom, err := cs.db.GetRoom(req.roomId)
		if err != nil {
			if errors.Is(err, database.ErrRoomNotFound) {
				cs.stats.Add(stats.JoinsRejected, 1)
				req.client.queueMessage(wire.NewErrorFrame(http.StatusNotFound))
			} else {
				cs.log.Error().Err(err).Str("room", req.roomId).Msg("load room")
				req.client.queueMessage(wire.NewErrorFrame(http.StatusInternalServerError))
			}
			close(req.done)
			return
		}

		room = newRoom(dbRoom.Id, cs)
		cs.rooms[room.id] = room
		cs.stats.Add(stats.ActiveRooms, 1)
		go room.start()
	}

	select {
	case room.joinChan <- req:
	default:
		cs.log.Warn().Str("room", room.id).Msg("join channel full")
		req.client.queueMessage(wire.NewErrorFrame(http.StatusServiceUnavailable))
		close(req.done)
	}
}

// unloadRoom asks an idle room to exit. The room declines if a client
// joined after its idle timer fired.
func (cs *ChatServer) unloadRoom(r *Room) {
	if cs.rooms[r.id] != r {
		return
	}

	ack := make(chan bool, 1)
	r.exit <- exitReq{done: ack}
	if !<-ack {
		cs.log.Debug().Str("room", r.id).Msg("room became active, keeping it loaded")
		return
	}

	<-r.done
	delete(cs.rooms, r.id)
	cs.stats.Add(stats.ActiveRooms, -1)
	cs.log.Info().Str("room", r.id).Msg("unloaded idle room")
}

// Attach wraps conn in a client for user, registers it and starts its pumps.
func (cs *ChatServer) Attach(user types.User, conn *websocket.Conn) *Client {
	c := NewClient(user, conn, cs, cs.log)
	if !cs.RegisterClient(c) {
		conn.Close()
		return c
	}

	go c.Write()
	go c.Read()

	return c
}

// RegisterClient reports false if the server is shutting down.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.stop:
		return false
	}
}

func (cs *ChatServer) deRegisterClient(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

// requestJoin asks the hub to put c in roomId and waits until the request
// has been handled, so frames read after a join see its outcome.
func (cs *ChatServer) requestJoin(c *Client, roomId string) {
	req := &joinReq{client: c, roomId: roomId, done: make(chan struct{})}

	select {
	case cs.joinChan <- req:
	default:
		cs.log.Warn().Msg("joinChan full")
		c.queueMessage(wire.NewErrorFrame(http.StatusServiceUnavailable))
		return
	}

	select {
	case <-req.done:
	case <-c.stop:
	case <-cs.stop:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	return true
}

// Shutdown disconnects every client and stops every room.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.stopOnce.Do(func() {
		cs.log.Info().Msg("received shutdown signal")

		cs.clientsLock.Lock()
		for c := range cs.clients {
			c.stopClient()
		}
		cs.clientsLock.Unlock()

		close(cs.stop)
	})

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
