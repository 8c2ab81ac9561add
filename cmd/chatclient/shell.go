package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type roomAPI interface {
	ListRooms(ctx context.Context) ([]types.RoomInfo, error)
	CreateRoom(ctx context.Context, name string) (types.RoomInfo, error)
	JoinRoom(ctx context.Context, roomId string) (types.RoomInfo, error)
}

type roomSession interface {
	Enter(ctx context.Context, roomId string) error
	Retry(ctx context.Context) error
	Submit(content string) error
	Leave()
	Snapshot() session.View
	Updates() <-chan struct{}
}

type noteQueue interface {
	Add(kind notify.Kind, title, description string) string
	Remove(id string)
	List() []notify.Notification
}

type shell struct {
	session roomSession
	api     roomAPI
	notes   noteQueue
	view    *renderer
}

const helpText = `commands:
  /rooms            list rooms
  /create <name>    create a room and enter it
  /join <id>        become a member of a room and enter it
  /room <id>        enter a room you are a member of
  /leave            leave the current room
  /retry            reload the current room
  /notes            list notifications
  /dismiss <id>     dismiss a notification
  /quit             exit
anything else is sent to the current room`

// parseCommand splits a slash command into its name and argument. Lines
// without a leading slash are messages and yield an empty name.
func parseCommand(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}

	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// exec runs one input line. Command output is written to out; it reports
// whether the client should exit.
func (sh *shell) exec(ctx context.Context, line string, out io.Writer) (bool, error) {
	name, arg := parseCommand(line)

	switch name {
	case "":
		if arg == "" {
			return false, nil
		}
		err := sh.session.Submit(arg)
		if errors.Is(err, session.ErrNoRoom) {
			return false, fmt.Errorf("enter a room first, see /help")
		}
		// other send failures are surfaced as notifications
		if errors.Is(err, apierror.ErrUnauthorized) {
			return false, err
		}
		return false, nil
	case "help":
		fmt.Fprintln(out, helpText)
	case "quit", "exit":
		return true, nil
	case "rooms":
		rooms, err := sh.api.ListRooms(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, sh.view.rooms(rooms))
	case "create":
		if arg == "" {
			return false, fmt.Errorf("usage: /create <name>")
		}
		room, err := sh.api.CreateRoom(ctx, arg)
		if err != nil {
			return false, err
		}
		sh.notes.Add(notify.Success, "Room created", room.Name)
		return false, sh.session.Enter(ctx, room.Id)
	case "join":
		if arg == "" {
			return false, fmt.Errorf("usage: /join <id>")
		}
		if _, err := sh.api.JoinRoom(ctx, arg); err != nil {
			return false, err
		}
		return false, sh.session.Enter(ctx, arg)
	case "room":
		if arg == "" {
			return false, fmt.Errorf("usage: /room <id>")
		}
		return false, sh.session.Enter(ctx, arg)
	case "leave":
		sh.session.Leave()
	case "retry":
		return false, sh.session.Retry(ctx)
	case "notes":
		list := sh.notes.List()
		if len(list) == 0 {
			fmt.Fprintln(out, "no notifications")
		}
		for _, n := range list {
			fmt.Fprintf(out, "  %s [%s] %s %s\n", n.Id, n.Kind, n.Title, n.Description)
		}
	case "dismiss":
		if arg == "" {
			return false, fmt.Errorf("usage: /dismiss <id>")
		}
		sh.notes.Remove(arg)
	default:
		return false, fmt.Errorf("unknown command /%s, see /help", name)
	}

	return false, nil
}
