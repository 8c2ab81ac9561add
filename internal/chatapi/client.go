// Package chatapi is a typed client for the relay's HTTP API: room history
// and room administration.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/auth"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4096
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

// Loader is the part of the client a room view needs to load a room.
type Loader interface {
	GetRoom(ctx context.Context, roomId string) (types.RoomInfo, error)
	GetMessages(ctx context.Context, roomId string) ([]types.Message, error)
}

type Client struct {
	log     zerolog.Logger
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		log:     logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// GetRoom fetches the metadata of roomId.
func (c *Client) GetRoom(ctx context.Context, roomId string) (types.RoomInfo, error) {
	var room types.RoomInfo
	if err := c.do(ctx, http.MethodGet, "/chat/room/"+url.PathEscape(roomId), nil, &room); err != nil {
		return types.RoomInfo{}, fmt.Errorf("get room %s: %w", roomId, err)
	}

	return room, nil
}

// GetMessages fetches the recent history of roomId. Messages that fail
// validation are dropped.
func (c *Client) GetMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	var raw []types.Message
	if err := c.do(ctx, http.MethodGet, "/chat/room/"+url.PathEscape(roomId)+"/messages", nil, &raw); err != nil {
		return nil, fmt.Errorf("get messages %s: %w", roomId, err)
	}

	msgs := make([]types.Message, 0, len(raw))
	for _, m := range raw {
		if err := m.Validate(); err != nil {
			c.log.Warn().Err(err).Str("room", roomId).Str("message_id", m.Id).Msg("dropping invalid history message")
			continue
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]types.RoomInfo, error) {
	var rooms []types.RoomInfo
	if err := c.do(ctx, http.MethodGet, "/chat/rooms", nil, &rooms); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	return rooms, nil
}

func (c *Client) CreateRoom(ctx context.Context, name string) (types.RoomInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.RoomInfo{}, apierror.NewBadRequestError()
	}

	var room types.RoomInfo
	if err := c.do(ctx, http.MethodPost, "/chat/rooms", CreateRoomRequest{Name: name}, &room); err != nil {
		return types.RoomInfo{}, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

// JoinRoom makes the caller a member of roomId.
func (c *Client) JoinRoom(ctx context.Context, roomId string) (types.RoomInfo, error) {
	var room types.RoomInfo
	if err := c.do(ctx, http.MethodPost, "/chat/room/"+url.PathEscape(roomId)+"/join", nil, &room); err != nil {
		return types.RoomInfo{}, fmt.Errorf("join room %s: %w", roomId, err)
	}

	return room, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token != "" && auth.Expired(c.token, time.Now()) {
		return &apierror.ApiError{
			StatusCode: http.StatusUnauthorized,
			Message:    "credential expired",
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		auth.SetBearer(req.Header, c.token)
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("api request")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// decodeError builds an ApiError from a non-2xx response, keeping the
// relay's message when the body carries one.
func decodeError(resp *http.Response) error {
	apiErr := apierror.FromStatus(resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}

	var body apierror.ApiError
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else if text := strings.TrimSpace(string(data)); text != "" {
		apiErr.Err = errors.New(text)
	}

	return apiErr
}
