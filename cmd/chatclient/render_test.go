package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/live"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func testMessage(id, content string) types.Message {
	return types.Message{
		Id:        id,
		Content:   content,
		CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		User:      types.User{Id: "u1", Username: "alice"},
	}
}

func TestRenderer_Header(t *testing.T) {
	r := newRenderer()

	assert.Equal(t, "no room", r.header(session.View{}))
	assert.Equal(t, "room r1 · connecting", r.header(session.View{RoomId: "r1", State: live.Connecting}))
	assert.Equal(t, "general (2 members) · connected", r.header(session.View{
		RoomId: "r1",
		Room:   &types.RoomInfo{Id: "r1", Name: "general", MemberCount: 2},
		State:  live.Connected,
	}))
}

func TestRenderer_TimelineFollowsMergedOrder(t *testing.T) {
	r := newRenderer()

	// a live message shows first, then older history is merged in ahead of it
	v := session.View{RoomId: "r1", Loading: true, Messages: []types.Message{testMessage("m2", "second")}}
	out := r.timeline(v)
	assert.Contains(t, out, "loading history")
	assert.Contains(t, out, "alice: second")

	v.Loading = false
	v.Messages = []types.Message{testMessage("m1", "first"), testMessage("m2", "second")}
	out = r.timeline(v)

	first, second := strings.Index(out, "alice: first"), strings.Index(out, "alice: second")
	assert.True(t, first >= 0 && second >= 0, "expected both messages in %q", out)
	assert.Less(t, first, second, "expected history to be drawn above the live message")
	assert.Equal(t, 1, strings.Count(out, "alice: second"))
	assert.NotContains(t, out, "loading history")
}

func TestRenderer_SanitizesMarkup(t *testing.T) {
	r := newRenderer()

	out := r.timeline(session.View{
		RoomId:   "r1",
		Messages: []types.Message{testMessage("m1", "<script>x</script><b>bold</b>")},
	})

	assert.Contains(t, out, "alice: bold")
	assert.NotContains(t, out, "<b>")
}

func TestRenderer_NoRoom(t *testing.T) {
	assert.Contains(t, newRenderer().timeline(session.View{}), "/help")
}

func TestRenderer_Error(t *testing.T) {
	out := newRenderer().timeline(session.View{RoomId: "r1", Err: errors.New("boom")})
	assert.Contains(t, out, "!! boom (type /retry to try again)")
}

func TestRenderer_Rooms(t *testing.T) {
	r := newRenderer()

	assert.Contains(t, r.rooms(nil), "no rooms yet")

	out := r.rooms([]types.RoomInfo{{Id: "abc", Name: "general", MemberCount: 3}})
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "general (3 members)")
}

func TestRenderer_Notifications(t *testing.T) {
	r := newRenderer()

	assert.Empty(t, r.notifications(nil))

	out := r.notifications([]notify.Notification{
		{Id: "n1", Kind: notify.Error, Title: "Failed to send message", Description: "not connected"},
		{Id: "n2", Kind: notify.Success, Title: "Room created"},
	})
	assert.Equal(t, "** [error] Failed to send message: not connected (/dismiss n1)\n** [success] Room created (/dismiss n2)", out)
}
