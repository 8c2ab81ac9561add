package database

import "time"

type Room struct {
	Id        string
	Name      string
	OwnerId   string
	Members   []Member
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	UserId   string
	Username string
	JoinedAt time.Time
}

type Message struct {
	Id        string
	RoomId    string
	UserId    string
	Username  string
	Content   string
	CreatedAt time.Time
}

type CreateRoomParams struct {
	Id        string
	Name      string
	OwnerId   string
	OwnerName string
}
