package types

import (
	"errors"
	"time"
)

var (
	ErrMissingId        = errors.New("message id is empty")
	ErrMissingUser      = errors.New("message user id is empty")
	ErrMissingCreatedAt = errors.New("message createdAt is zero")
)

type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

type RoomInfo struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

// Message is immutable once created. Its identity is Id.
type Message struct {
	Id        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	User      User      `json:"user"`
}

// Validate reports whether m is well formed enough to be shown in a room view.
// Sources call it before handing messages to a merger.
func (m Message) Validate() error {
	if m.Id == "" {
		return ErrMissingId
	}
	if m.User.Id == "" {
		return ErrMissingUser
	}
	if m.CreatedAt.IsZero() {
		return ErrMissingCreatedAt
	}

	return nil
}

// Before orders messages by CreatedAt, then by Id.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Id < other.Id
	}

	return m.CreatedAt.Before(other.CreatedAt)
}
