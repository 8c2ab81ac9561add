package wire

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeClientFrame(t *testing.T) {
	raw, err := EncodeClientFrame(Join("room1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join","roomId":"room1"}`, string(raw))

	raw, err = EncodeClientFrame(Publish("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","content":"hello"}`, string(raw))
}

func TestDecodeClientFrame(t *testing.T) {
	tcases := []struct {
		name     string
		raw      string
		expected ClientFrame
		err      error
	}{
		{
			name:     "join",
			raw:      `{"type":"join","roomId":"abc"}`,
			expected: Join("abc"),
		},
		{
			name:     "message",
			raw:      `{"type":"message","content":"hi"}`,
			expected: Publish("hi"),
		},
		{
			name: "join without room",
			raw:  `{"type":"join"}`,
			err:  ErrMalformedFrame,
		},
		{
			name: "unknown type",
			raw:  `{"type":"leave"}`,
			err:  ErrUnknownFrame,
		},
		{
			name: "not json",
			raw:  `hello`,
			err:  ErrMalformedFrame,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DecodeClientFrame([]byte(tc.raw))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, f)
		})
	}
}

func TestEncodeDecodeMessageFrame(t *testing.T) {
	msg := types.Message{
		Id:        "m1",
		Content:   "hello",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		User:      types.User{Id: "u1", Username: "alice"},
	}

	raw, err := Encode(MessageFrame{Message: msg})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","message":{"id":"m1","content":"hello","createdAt":"2024-05-01T12:00:00Z","user":{"id":"u1","username":"alice"}}}`, string(raw))

	f, err := Decode(raw)
	require.NoError(t, err)
	mf, ok := f.(MessageFrame)
	require.True(t, ok, "expected a message frame, got %T", f)
	assert.Equal(t, msg.Id, mf.Message.Id)
	assert.True(t, msg.CreatedAt.Equal(mf.Message.CreatedAt))
}

func TestEncodeErrorFrame(t *testing.T) {
	raw, err := Encode(NewErrorFrame(http.StatusForbidden))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","code":403,"message":"forbidden"}`, string(raw))

	f, err := Decode(raw)
	require.NoError(t, err)
	ef, ok := f.(ErrorFrame)
	require.True(t, ok, "expected an error frame, got %T", f)
	assert.True(t, errors.Is(ef.Err(), apierror.ErrForbidden), "expected forbidden error")
}

func TestDecodeRejectsInvalidFrames(t *testing.T) {
	tcases := []struct {
		name string
		raw  string
		err  error
	}{
		{"message without id", `{"type":"message","message":{"content":"x","createdAt":"2024-05-01T12:00:00Z","user":{"id":"u1"}}}`, ErrMalformedFrame},
		{"message missing", `{"type":"message"}`, ErrMalformedFrame},
		{"joined without room", `{"type":"joined"}`, ErrMalformedFrame},
		{"unknown", `{"type":"typing"}`, ErrUnknownFrame},
		{"garbage", `{`, ErrMalformedFrame},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestDecodeJoinedFrame(t *testing.T) {
	raw, err := Encode(JoinedFrame{Room: types.RoomInfo{Id: "r1", Name: "general", MemberCount: 3}})
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, JoinedFrame{Room: types.RoomInfo{Id: "r1", Name: "general", MemberCount: 3}}, f)
}
