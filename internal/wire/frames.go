// Package wire defines the JSON frames exchanged over the live room channel.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeJoined  = "joined"
	TypeError   = "error"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// ClientFrame is sent from a client to the relay.
type ClientFrame struct {
	Type    string `json:"type"`
	RoomId  string `json:"roomId,omitempty"`
	Content string `json:"content,omitempty"`
}

func Join(roomId string) ClientFrame {
	return ClientFrame{Type: TypeJoin, RoomId: roomId}
}

func Publish(content string) ClientFrame {
	return ClientFrame{Type: TypeMessage, Content: content}
}

func EncodeClientFrame(f ClientFrame) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}

	switch f.Type {
	case TypeJoin:
		if f.RoomId == "" {
			return ClientFrame{}, fmt.Errorf("%w: join without room id", ErrMalformedFrame)
		}
	case TypeMessage:
	default:
		return ClientFrame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}

	return f, nil
}

// Frame is a frame sent from the relay to a client. The set of variants is
// closed: MessageFrame, JoinedFrame and ErrorFrame.
type Frame interface {
	frameType() string
}

type MessageFrame struct {
	Message types.Message
}

type JoinedFrame struct {
	Room types.RoomInfo
}

type ErrorFrame struct {
	Code    int
	Message string
}

func (MessageFrame) frameType() string { return TypeMessage }
func (JoinedFrame) frameType() string  { return TypeJoined }
func (ErrorFrame) frameType() string   { return TypeError }

// Err converts the frame into an *apierror.ApiError so the status code
// participates in errors.Is checks.
func (f ErrorFrame) Err() error {
	return &apierror.ApiError{StatusCode: f.Code, Message: f.Message}
}

func NewErrorFrame(code int) ErrorFrame {
	return ErrorFrame{
		Code:    code,
		Message: strings.ToLower(http.StatusText(code)),
	}
}

type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Room    *types.RoomInfo `json:"room,omitempty"`
	Code    int             `json:"code,omitempty"`
}

func Encode(f Frame) ([]byte, error) {
	env := envelope{Type: f.frameType()}

	switch f := f.(type) {
	case MessageFrame:
		raw, err := json.Marshal(f.Message)
		if err != nil {
			return nil, err
		}
		env.Message = raw
	case JoinedFrame:
		room := f.Room
		env.Room = &room
	case ErrorFrame:
		raw, err := json.Marshal(f.Message)
		if err != nil {
			return nil, err
		}
		env.Code = f.Code
		env.Message = raw
	}

	return json.Marshal(env)
}

// Decode parses a relay frame. Message frames carrying an invalid message are
// rejected here so nothing downstream has to check them.
func Decode(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeMessage:
		var msg types.Message
		if len(env.Message) == 0 {
			return nil, fmt.Errorf("%w: message frame without message", ErrMalformedFrame)
		}
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
		}
		return MessageFrame{Message: msg}, nil
	case TypeJoined:
		if env.Room == nil {
			return nil, fmt.Errorf("%w: joined frame without room", ErrMalformedFrame)
		}
		return JoinedFrame{Room: *env.Room}, nil
	case TypeError:
		var text string
		if len(env.Message) > 0 {
			if err := json.Unmarshal(env.Message, &text); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
			}
		}
		return ErrorFrame{Code: env.Code, Message: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}
}
