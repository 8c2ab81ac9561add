package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/wire"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096

	publishRate  = rate.Limit(5)
	publishBurst = 10
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	user       types.User
	send       chan wire.Frame
	limiter    *rate.Limiter
	room       *Room
	roomLock   sync.Mutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l zerolog.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l.With().Str("user", user.Username).Logger(),
		user:       user,
		send:       make(chan wire.Frame, 256),
		limiter:    rate.NewLimiter(publishRate, publishBurst),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case f := <-c.send:
			data, err := wire.Encode(f)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize frame")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, data) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			break
		}

		f, err := wire.DecodeClientFrame(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("error parsing frame")
			c.queueMessage(wire.NewErrorFrame(http.StatusBadRequest))
			continue
		}

		switch f.Type {
		case wire.TypeJoin:
			c.joinRoom(f.RoomId)
		case wire.TypeMessage:
			c.publish(f.Content)
		}
	}
}

func (c *Client) joinRoom(roomId string) {
	if r := c.getRoom(); r != nil && r.id != roomId {
		c.leaveRoom(r)
	}

	c.chatServer.requestJoin(c, roomId)
}

func (c *Client) publish(content string) {
	r := c.getRoom()
	if r == nil {
		c.queueMessage(wire.ErrorFrame{Code: http.StatusBadRequest, Message: "join a room first"})
		return
	}

	if !c.limiter.Allow() {
		c.queueMessage(wire.NewErrorFrame(http.StatusTooManyRequests))
		return
	}

	select {
	case r.clientMsgChan <- &publishReq{client: c, content: content}:
	default:
		c.log.Warn().Str("room", r.id).Msg("clientMsgChan full")
		c.queueMessage(wire.NewErrorFrame(http.StatusServiceUnavailable))
	}
}

func (c *Client) leaveRoom(r *Room) {
	select {
	case r.leaveChan <- c:
	case <-r.done:
	}
}

func (c *Client) queueMessage(f wire.Frame) bool {
	select {
	case c.send <- f:
	default:
		c.log.Warn().Msg("failed to send frame to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterClient(c)
	if r := c.getRoom(); r != nil {
		c.leaveRoom(r)
	}
	c.stopClient()
}

func (c *Client) addRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	c.room = r
}

// delRoom forgets r unless the client has already moved to another room.
func (c *Client) delRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	if c.room == r {
		c.room = nil
	}
}

func (c *Client) getRoom() *Room {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	return c.room
}
