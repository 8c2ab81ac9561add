package database

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps everything in process memory. Nothing survives a
// restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	messages map[string][]Message
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rooms:    make(map[string]*Room),
		messages: make(map[string][]Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (db *MemoryRepository) Ping() error {
	return nil
}

func (db *MemoryRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	if params.Id == "" || params.Name == "" {
		return Room{}, fmt.Errorf("create room: id and name are required")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rooms[params.Id]; ok {
		return Room{}, fmt.Errorf("create room: room %q already exists", params.Id)
	}

	now := db.now()
	room := &Room{
		Id:        params.Id,
		Name:      params.Name,
		OwnerId:   params.OwnerId,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.OwnerId != "" {
		room.Members = append(room.Members, Member{
			UserId:   params.OwnerId,
			Username: params.OwnerName,
			JoinedAt: now,
		})
	}
	db.rooms[room.Id] = room

	return copyRoom(room), nil
}

func (db *MemoryRepository) GetRoom(roomId string) (Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	room, ok := db.rooms[roomId]
	if !ok {
		return Room{}, ErrRoomNotFound
	}

	return copyRoom(room), nil
}

func (db *MemoryRepository) ListRooms() ([]Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rooms := make([]Room, 0, len(db.rooms))
	for _, r := range db.rooms {
		rooms = append(rooms, copyRoom(r))
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].Id < rooms[j].Id
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	return rooms, nil
}

// AddMember is a no-op for an existing member.
func (db *MemoryRepository) AddMember(roomId string, member Member) (Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	room, ok := db.rooms[roomId]
	if !ok {
		return Room{}, ErrRoomNotFound
	}

	if !hasMember(room, member.UserId) {
		if member.JoinedAt.IsZero() {
			member.JoinedAt = db.now()
		}
		room.Members = append(room.Members, member)
		room.UpdatedAt = db.now()
	}

	return copyRoom(room), nil
}

func (db *MemoryRepository) IsMember(roomId, userId string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	room, ok := db.rooms[roomId]
	if !ok {
		return false
	}

	return hasMember(room, userId)
}

func (db *MemoryRepository) CreateMessage(msg Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	room, ok := db.rooms[msg.RoomId]
	if !ok {
		return ErrRoomNotFound
	}

	db.messages[msg.RoomId] = append(db.messages[msg.RoomId], msg)
	room.UpdatedAt = msg.CreatedAt

	return nil
}

func (db *MemoryRepository) GetMessages(roomId string, limit int) ([]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, ok := db.rooms[roomId]; !ok {
		return nil, ErrRoomNotFound
	}

	msgs := db.messages[roomId]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)

	return out, nil
}

func hasMember(room *Room, userId string) bool {
	for _, m := range room.Members {
		if m.UserId == userId {
			return true
		}
	}

	return false
}

func copyRoom(r *Room) Room {
	room := *r
	room.Members = make([]Member, len(r.Members))
	copy(room.Members, r.Members)

	return room
}
