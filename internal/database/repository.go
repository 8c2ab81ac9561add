// Package database stores the relay's rooms, memberships and messages.
package database

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("not a member of room")
)

type ChatRepository interface {
	Ping() error
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoom(roomId string) (Room, error)
	ListRooms() ([]Room, error)
	AddMember(roomId string, member Member) (Room, error)
	IsMember(roomId, userId string) bool
	CreateMessage(msg Message) error
	// GetMessages returns at most limit of the newest messages in roomId,
	// oldest first. A limit of zero or less returns all of them.
	GetMessages(roomId string, limit int) ([]Message, error)
}
