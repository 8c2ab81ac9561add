package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/live"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeLoader struct {
	mu    sync.Mutex
	rooms map[string]types.RoomInfo
	msgs  map[string][]types.Message
	errs  map[string]error
	gates map[string]chan struct{}
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		rooms: make(map[string]types.RoomInfo),
		msgs:  make(map[string][]types.Message),
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
	}
}

// block makes GetRoom for roomId wait until the returned func is called.
func (l *fakeLoader) block(roomId string) func() {
	gate := make(chan struct{})
	l.mu.Lock()
	l.gates[roomId] = gate
	l.mu.Unlock()
	return func() { close(gate) }
}

func (l *fakeLoader) GetRoom(ctx context.Context, roomId string) (types.RoomInfo, error) {
	l.mu.Lock()
	gate := l.gates[roomId]
	room, err := l.rooms[roomId], l.errs[roomId]
	l.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if err != nil {
		return types.RoomInfo{}, err
	}
	return room, nil
}

func (l *fakeLoader) GetMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.msgs[roomId], nil
}

type fakeLive struct {
	roomId string
	events chan live.Event

	mu      sync.Mutex
	sent    []string
	sendErr error
	closed  bool
}

func (f *fakeLive) Events() <-chan live.Event {
	return f.events
}

func (f *fakeLive) Send(content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if content == "" {
		return live.ErrEmptyContent
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeLive) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakeLive) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

type fakeConnector struct {
	mu    sync.Mutex
	conns map[string][]*fakeLive
}

func (c *fakeConnector) connect(roomId string) Live {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conns == nil {
		c.conns = make(map[string][]*fakeLive)
	}
	l := &fakeLive{roomId: roomId, events: make(chan live.Event, 16)}
	c.conns[roomId] = append(c.conns[roomId], l)
	return l
}

func (c *fakeConnector) last(roomId string) *fakeLive {
	c.mu.Lock()
	defer c.mu.Unlock()

	conns := c.conns[roomId]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Add(kind notify.Kind, title, description string) string {
	args := m.Called(kind, title, description)
	return args.String(0)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) types.Message {
	return types.Message{
		Id:        id,
		Content:   "content " + id,
		CreatedAt: base.Add(offset),
		User:      types.User{Id: "u1", Username: "alice"},
	}
}

func ids(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}

func newTestSession(t *testing.T, loader *fakeLoader, notes live.Notifier) (*Session, *fakeConnector) {
	conns := &fakeConnector{}
	s := New(loader, conns.connect, notes, testutil.TestLogger(t))
	t.Cleanup(s.Leave)
	return s, conns
}

func waitForView(t *testing.T, s *Session, cond func(View) bool) View {
	t.Helper()

	var v View
	require.Eventually(t, func() bool {
		v = s.Snapshot()
		return cond(v)
	}, waitFor, 5*time.Millisecond)
	return v
}

func TestSession_HistoryThenLive(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1", Name: "general"}
	loader.msgs["r1"] = []types.Message{msg("m1", 0), msg("m2", time.Second)}

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "r1"))

	v := waitForView(t, s, func(v View) bool { return !v.Loading })
	require.NotNil(t, v.Room)
	assert.Equal(t, "general", v.Room.Name)
	assert.Equal(t, []string{"m1", "m2"}, ids(v.Messages))

	conn := conns.last("r1")
	conn.events <- live.MessageReceived{Message: msg("m3", 2*time.Second)}

	v = waitForView(t, s, func(v View) bool { return len(v.Messages) == 3 })
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(v.Messages))
}

func TestSession_LiveBeforeHistory(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1", Name: "general"}
	loader.msgs["r1"] = []types.Message{msg("m1", 0), msg("m2", time.Second)}
	release := loader.block("r1")

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "r1"))

	conn := conns.last("r1")
	conn.events <- live.MessageReceived{Message: msg("m2", time.Second)}

	v := waitForView(t, s, func(v View) bool { return len(v.Messages) == 1 })
	assert.True(t, v.Loading)

	release()

	v = waitForView(t, s, func(v View) bool { return !v.Loading })
	assert.Equal(t, []string{"m1", "m2"}, ids(v.Messages), "expected duplicate to be dropped and order kept")
}

func TestSession_StaleHistoryDiscarded(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["a"] = types.RoomInfo{Id: "a", Name: "room a"}
	loader.msgs["a"] = []types.Message{msg("a1", 0)}
	loader.rooms["b"] = types.RoomInfo{Id: "b", Name: "room b"}
	loader.msgs["b"] = []types.Message{msg("b1", 0)}
	releaseA := loader.block("a")

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "a"))
	require.NoError(t, s.Enter(context.Background(), "b"))

	waitForView(t, s, func(v View) bool { return !v.Loading })
	assert.True(t, conns.last("a").isClosed(), "expected the previous room's channel to be closed")

	releaseA()

	// give the stale fetch time to land
	time.Sleep(50 * time.Millisecond)

	v := s.Snapshot()
	assert.Equal(t, "b", v.RoomId)
	require.NotNil(t, v.Room)
	assert.Equal(t, "room b", v.Room.Name)
	assert.Equal(t, []string{"b1"}, ids(v.Messages))
}

func TestSession_StaleLiveEventsIgnored(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["a"] = types.RoomInfo{Id: "a"}
	loader.rooms["b"] = types.RoomInfo{Id: "b"}

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "a"))
	connA := conns.last("a")
	require.NoError(t, s.Enter(context.Background(), "b"))

	connA.events <- live.MessageReceived{Message: msg("a1", 0)}
	conns.last("b").events <- live.MessageReceived{Message: msg("b1", 0)}

	waitForView(t, s, func(v View) bool { return len(v.Messages) > 0 })
	time.Sleep(20 * time.Millisecond)
	v := s.Snapshot()
	assert.Equal(t, []string{"b1"}, ids(v.Messages))
}

func TestSession_LiveEvents(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1", Name: "general", MemberCount: 2}

	warned := make(chan struct{})
	notes := &mockNotifier{}
	notes.On("Add", notify.Warning, "Room error", mock.Anything).
		Run(func(mock.Arguments) { close(warned) }).
		Return("n1").
		Once()
	defer notes.AssertExpectations(t)

	s, conns := newTestSession(t, loader, notes)
	require.NoError(t, s.Enter(context.Background(), "r1"))
	waitForView(t, s, func(v View) bool { return !v.Loading })

	conn := conns.last("r1")
	conn.events <- live.StateChanged{State: live.Connected}
	conn.events <- live.RoomJoined{Room: types.RoomInfo{Id: "r1", Name: "renamed", MemberCount: 9}}
	conn.events <- live.Failure{Err: apierror.NewBadRequestError()}

	// events are applied in order, so the joined frame has been seen
	select {
	case <-warned:
	case <-time.After(waitFor):
		t.Fatal("expected a warning notification")
	}

	v := waitForView(t, s, func(v View) bool { return v.State == live.Connected })
	require.NotNil(t, v.Room)
	assert.Equal(t, "general", v.Room.Name, "expected room metadata to come from the loader")
	assert.Equal(t, 2, v.Room.MemberCount)
	assert.NoError(t, v.Err, "expected a non-terminal failure not to block the view")
}

func TestSession_JoinedBeforeHistoryKeepsLoaderRoom(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1", Name: "general", MemberCount: 2}
	release := loader.block("r1")

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "r1"))

	conn := conns.last("r1")
	conn.events <- live.RoomJoined{Room: types.RoomInfo{Id: "r1", Name: "renamed", MemberCount: 9}}
	conn.events <- live.StateChanged{State: live.Connected}

	v := waitForView(t, s, func(v View) bool { return v.State == live.Connected })
	assert.Nil(t, v.Room, "expected no room metadata before history arrives")

	release()

	v = waitForView(t, s, func(v View) bool { return !v.Loading })
	require.NotNil(t, v.Room)
	assert.Equal(t, types.RoomInfo{Id: "r1", Name: "general", MemberCount: 2}, *v.Room)
}

func TestSession_CancelledContextLeavesRoom(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1"}

	s, conns := newTestSession(t, loader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Enter(ctx, "r1"))
	waitForView(t, s, func(v View) bool { return !v.Loading })
	conn := conns.last("r1")

	cancel()

	require.Eventually(t, conn.isClosed, waitFor, 5*time.Millisecond, "expected the live channel to be closed")
	v := waitForView(t, s, func(v View) bool { return v.RoomId == "" })
	assert.Empty(t, v.Messages)
	assert.ErrorIs(t, s.Submit("hi"), ErrNoRoom)
}

func TestSession_CancelledContextKeepsLaterRoom(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["a"] = types.RoomInfo{Id: "a"}
	loader.rooms["b"] = types.RoomInfo{Id: "b"}

	s, conns := newTestSession(t, loader, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	require.NoError(t, s.Enter(ctxA, "a"))
	require.NoError(t, s.Enter(context.Background(), "b"))
	waitForView(t, s, func(v View) bool { return v.RoomId == "b" && !v.Loading })

	cancelA()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, "b", s.Snapshot().RoomId)
	assert.False(t, conns.last("b").isClosed())
}

func TestSession_TerminalFailure(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1"}

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "r1"))

	conns.last("r1").events <- live.Failure{Err: apierror.NewForbiddenError(), Terminal: true}

	v := waitForView(t, s, func(v View) bool { return v.Err != nil })
	assert.ErrorIs(t, v.Err, apierror.ErrForbidden)
}

func TestSession_HistoryErrorAndRetry(t *testing.T) {
	loader := newFakeLoader()
	loader.errs["r1"] = apierror.NewNotFoundError()

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "r1"))

	v := waitForView(t, s, func(v View) bool { return !v.Loading })
	assert.ErrorIs(t, v.Err, apierror.ErrNotFound)

	loader.mu.Lock()
	delete(loader.errs, "r1")
	loader.rooms["r1"] = types.RoomInfo{Id: "r1", Name: "back"}
	loader.mu.Unlock()

	first := conns.last("r1")
	require.NoError(t, s.Retry(context.Background()))

	v = waitForView(t, s, func(v View) bool { return !v.Loading && v.Room != nil })
	assert.NoError(t, v.Err)
	assert.Equal(t, "back", v.Room.Name)
	assert.True(t, first.isClosed())
	assert.NotSame(t, first, conns.last("r1"), "expected a new live channel on retry")
}

func TestSession_Submit(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1"}

	notes := &mockNotifier{}
	defer notes.AssertExpectations(t)

	s, conns := newTestSession(t, loader, notes)

	assert.ErrorIs(t, s.Submit("hello"), ErrNoRoom)

	require.NoError(t, s.Enter(context.Background(), "r1"))
	conn := conns.last("r1")

	require.NoError(t, s.Submit("hello"))
	assert.NoError(t, s.Submit(""), "expected empty content to be a no-op")
	assert.Equal(t, []string{"hello"}, conn.sent)

	sendErr := errors.New("boom")
	conn.mu.Lock()
	conn.sendErr = sendErr
	conn.mu.Unlock()

	notes.On("Add", notify.Error, "Failed to send message", "boom").Return("n1").Once()
	assert.ErrorIs(t, s.Submit("again"), sendErr)

	v := s.Snapshot()
	assert.Empty(t, v.Messages, "expected no optimistic insertion")
}

func TestSession_SubmitWhileReconnecting(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1"}

	notes := &mockNotifier{}
	notes.On("Add", notify.Error, "Failed to send message", live.ErrNotConnected.Error()).Return("n1").Once()
	defer notes.AssertExpectations(t)

	s, conns := newTestSession(t, loader, notes)
	require.NoError(t, s.Enter(context.Background(), "r1"))

	conn := conns.last("r1")
	conn.mu.Lock()
	conn.sendErr = live.ErrNotConnected
	conn.mu.Unlock()

	assert.ErrorIs(t, s.Submit("hello"), live.ErrNotConnected)
}

func TestSession_Leave(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1"}
	loader.msgs["r1"] = []types.Message{msg("m1", 0)}

	s, conns := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "r1"))
	waitForView(t, s, func(v View) bool { return len(v.Messages) == 1 })

	s.Leave()

	v := s.Snapshot()
	assert.Empty(t, v.RoomId)
	assert.Nil(t, v.Room)
	assert.Empty(t, v.Messages)
	assert.Equal(t, live.Disconnected, v.State)
	assert.True(t, conns.last("r1").isClosed())
	assert.ErrorIs(t, s.Retry(context.Background()), ErrNoRoom)
	assert.ErrorIs(t, s.Enter(context.Background(), ""), ErrNoRoom)
}

func TestSession_Updates(t *testing.T) {
	loader := newFakeLoader()
	loader.rooms["r1"] = types.RoomInfo{Id: "r1"}

	s, _ := newTestSession(t, loader, nil)
	require.NoError(t, s.Enter(context.Background(), "r1"))

	select {
	case <-s.Updates():
	case <-time.After(waitFor):
		t.Fatal("expected an update after entering a room")
	}
}
