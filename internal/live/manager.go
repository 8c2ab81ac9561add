// Package live maintains the real-time channel for a single room.
package live

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/auth"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/wire"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxFrameSize     = 64 * 1024
	sendBufferSize   = 64
	subBufferSize    = 256
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrNotConnected   = errors.New("not connected")
	ErrRateLimited    = errors.New("sending too fast")
	ErrSendBufferFull = errors.New("send buffer full")
)

type Options struct {
	// URL of the relay's websocket endpoint.
	URL   string
	Token string

	Backoff Backoff
	Dialer  *websocket.Dialer

	// SendLimit caps outbound messages per second. Zero disables the limit.
	SendLimit rate.Limit
	SendBurst int

	// Notifier, if set, is told when reconnection has failed
	// Backoff.MaxRetries times in a row.
	Notifier Notifier
	Logger   zerolog.Logger
}

// Manager owns exactly one websocket connection bound to one room. It
// reconnects on transport failure until Close is called or the relay
// rejects the credential or the room.
type Manager struct {
	roomId  string
	opts    Options
	log     zerolog.Logger
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	pending   net.Conn
	out       chan []byte
	err       error
	lastDelay time.Duration

	subMu    sync.Mutex
	subs     map[int]*Subscription
	nextSub  int
	finished bool
}

// Open starts connecting to roomId in the background. Failures are never
// returned to the caller; they show up as state transitions.
func Open(roomId string, opts Options) *Manager {
	m := newManager(roomId, opts)
	go m.run()

	return m
}

// OpenSubscribed is Open with a subscription that sees every event,
// starting with the first transition to Connecting.
func OpenSubscribed(roomId string, opts Options) (*Manager, *Subscription) {
	m := newManager(roomId, opts)
	sub := m.Subscribe()
	go m.run()

	return m, sub
}

func newManager(roomId string, opts Options) *Manager {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		roomId: roomId,
		opts:   opts,
		log:    opts.Logger.With().Str("room", roomId).Logger(),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  Disconnected,
		subs:   make(map[int]*Subscription),
	}

	m.dialer = m.newDialer(opts.Dialer)

	if opts.SendLimit > 0 {
		burst := opts.SendBurst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(opts.SendLimit, burst)
	}

	return m
}

// newDialer copies base so the raw network connection of an in-flight
// handshake can be closed by Close.
func (m *Manager) newDialer(base *websocket.Dialer) *websocket.Dialer {
	var d websocket.Dialer
	if base != nil {
		d = *base
	} else {
		d = websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	}
	if d.HandshakeTimeout == 0 {
		d.HandshakeTimeout = handshakeTimeout
	}

	netDial := d.NetDialContext
	if netDial == nil {
		netDial = (&net.Dialer{}).DialContext
	}
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := netDial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.isStopped() {
			c.Close()
			return nil, net.ErrClosed
		}
		m.pending = c
		return c, nil
	}

	return &d
}

func (m *Manager) RoomId() string {
	return m.roomId
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Err returns the error that ended the manager, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.err
}

// Done is closed once the manager has stopped for good.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// LastDelay is the most recent reconnect delay that was waited.
func (m *Manager) LastDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastDelay
}

// Send queues content for delivery. It does not wait for the relay to
// acknowledge the message; the message shows up in the room once the relay
// echoes it back.
func (m *Manager) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Connected || m.out == nil {
		return ErrNotConnected
	}

	if m.limiter != nil && !m.limiter.Allow() {
		return ErrRateLimited
	}

	data, err := wire.EncodeClientFrame(wire.Publish(content))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	select {
	case m.out <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down and waits for every goroutine the
// manager started. It is safe to call more than once and from any state.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.cancel()

		m.mu.Lock()
		if m.pending != nil {
			m.pending.Close()
		}
		if m.conn != nil {
			m.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			m.conn.Close()
		}
		m.mu.Unlock()
	})

	<-m.done
	return nil
}

func (m *Manager) isStopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Manager) run() {
	defer m.finish()

	failures := 0
	for {
		m.setState(Connecting)

		joined := false
		conn, err := m.dial()
		if err == nil {
			joined, err = m.serve(conn)
		}

		if m.isStopped() {
			return
		}

		if apierror.IsTerminal(err) {
			m.log.Error().Err(err).Msg("live connection rejected")
			m.fail(err)
			return
		}

		if joined {
			failures = 0
		}
		failures++

		m.log.Warn().Err(err).Int("attempt", failures).Msg("live connection lost")
		if !m.waitBackoff(failures) {
			return
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	if m.opts.Token != "" && auth.Expired(m.opts.Token, time.Now()) {
		return nil, &apierror.ApiError{
			StatusCode: http.StatusUnauthorized,
			Message:    "credential expired",
		}
	}

	header := http.Header{}
	if m.opts.Token != "" {
		auth.SetBearer(header, m.opts.Token)
	}

	conn, resp, err := m.dialer.DialContext(m.ctx, m.opts.URL, header)

	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()

	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			apiErr := apierror.FromStatus(resp.StatusCode)
			apiErr.Err = err
			return nil, apiErr
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return conn, nil
}

// serve announces the room and pumps frames until the connection fails.
// joined reports whether the connection reached Connected.
func (m *Manager) serve(conn *websocket.Conn) (joined bool, err error) {
	m.mu.Lock()
	if m.isStopped() {
		m.mu.Unlock()
		conn.Close()
		return false, nil
	}
	m.conn = conn
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.out = nil
		m.mu.Unlock()
		conn.Close()
	}()

	join, err := wire.EncodeClientFrame(wire.Join(m.roomId))
	if err != nil {
		return false, fmt.Errorf("encode join: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return false, fmt.Errorf("write join: %w", err)
	}

	out := make(chan []byte, sendBufferSize)
	quit := make(chan struct{})
	writerDone := make(chan struct{})
	go m.write(conn, out, quit, writerDone)

	defer func() {
		close(quit)
		conn.Close()
		<-writerDone
	}()

	m.mu.Lock()
	m.out = out
	m.mu.Unlock()
	m.setState(Connected)

	return true, m.read(conn)
}

func (m *Manager) read(conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		frame, err := wire.Decode(raw)
		if err != nil {
			m.log.Warn().Err(err).Msg("dropping invalid frame")
			continue
		}

		switch f := frame.(type) {
		case wire.MessageFrame:
			m.publish(MessageReceived{Message: f.Message})
		case wire.JoinedFrame:
			m.publish(RoomJoined{Room: f.Room})
		case wire.ErrorFrame:
			err := f.Err()
			if apierror.IsTerminal(err) {
				return err
			}
			m.log.Warn().Int("code", f.Code).Str("message", f.Message).Msg("relay error")
			m.publish(Failure{Err: err})
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, out <-chan []byte, quit <-chan struct{}, done chan<- struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case data := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.log.Warn().Err(err).Msg("write message")
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-quit:
			return
		}
	}
}

// waitBackoff waits out the delay for the given consecutive failure count.
// It returns false if the manager was closed while waiting.
func (m *Manager) waitBackoff(attempt int) bool {
	delay := m.opts.Backoff.Delay(attempt)

	m.mu.Lock()
	m.lastDelay = delay
	m.mu.Unlock()

	m.setState(Reconnecting)

	if attempt == m.opts.Backoff.MaxRetries && m.opts.Notifier != nil {
		m.opts.Notifier.Add(
			notify.Error,
			"Connection lost",
			fmt.Sprintf("Could not reach room %s after %d attempts, still retrying", m.roomId, attempt),
		)
	}

	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
		return true
	case <-m.stop:
		timer.Stop()
		return false
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()

	m.publish(Failure{Err: err, Terminal: true})
}

func (m *Manager) finish() {
	m.setState(Disconnected)
	m.cancel()

	m.subMu.Lock()
	for id, s := range m.subs {
		close(s.c)
		delete(m.subs, id)
	}
	m.finished = true
	m.subMu.Unlock()

	close(m.done)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	m.mu.Unlock()

	m.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("state change")
	m.publish(StateChanged{State: s})
}
