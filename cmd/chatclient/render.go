package main

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const timeFormat = "15:04:05"

// renderer turns session views into text. It keeps no state between calls:
// every view is drawn in full, in the order the session holds it.
type renderer struct {
	policy *bluemonday.Policy
}

func newRenderer() *renderer {
	return &renderer{policy: bluemonday.StrictPolicy()}
}

func (r *renderer) header(v session.View) string {
	if v.RoomId == "" {
		return "no room"
	}

	name := "room " + v.RoomId
	if v.Room != nil {
		name = fmt.Sprintf("%s (%d members)", r.clean(v.Room.Name), v.Room.MemberCount)
	}

	return fmt.Sprintf("%s · %s", name, v.State)
}

func (r *renderer) timeline(v session.View) string {
	if v.RoomId == "" {
		return "type /help for commands, /rooms to list rooms"
	}

	lines := make([]string, 0, len(v.Messages)+2)
	if v.Loading {
		lines = append(lines, "-- loading history...")
	}
	for _, m := range v.Messages {
		lines = append(lines, r.formatMessage(m))
	}
	if v.Err != nil {
		lines = append(lines, fmt.Sprintf("!! %s (type /retry to try again)", v.Err))
	}

	return strings.Join(lines, "\n")
}

func (r *renderer) formatMessage(m types.Message) string {
	return fmt.Sprintf("[%s] %s: %s",
		m.CreatedAt.Local().Format(timeFormat),
		r.clean(m.User.Username),
		r.clean(m.Content),
	)
}

func (r *renderer) clean(s string) string {
	return strings.TrimSpace(r.policy.Sanitize(s))
}

func (r *renderer) rooms(rooms []types.RoomInfo) string {
	if len(rooms) == 0 {
		return "no rooms yet; create one with /create <name>"
	}

	lines := make([]string, len(rooms))
	for i, room := range rooms {
		lines[i] = fmt.Sprintf("  %-12s %s (%d members)", room.Id, r.clean(room.Name), room.MemberCount)
	}

	return strings.Join(lines, "\n")
}

func (r *renderer) notifications(list []notify.Notification) string {
	lines := make([]string, len(list))
	for i, n := range list {
		line := fmt.Sprintf("** [%s] %s", n.Kind, r.clean(n.Title))
		if n.Description != "" {
			line += ": " + r.clean(n.Description)
		}
		lines[i] = fmt.Sprintf("%s (/dismiss %s)", line, n.Id)
	}

	return strings.Join(lines, "\n")
}
