// Package realtime pushes attendance updates to staff dashboards. Events are
// scoped to rooms; the session room of a group is "session-{groupId}".
package realtime

import (
	"context"
	"encoding/json"
)

// Event names emitted to session rooms.
const (
	EventCheckIn  = "student-check-in"
	EventCheckOut = "student-check-out"
)

// SessionRoom is the room that follows a group's live session.
func SessionRoom(groupID string) string {
	return "session-" + groupID
}

// Publisher emits an event to every subscriber of room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, data any) error
}

// Envelope is the wire form of an event, both on websockets and on the relay channel.
type Envelope struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newEnvelope(room, event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Room: room, Event: event, Data: raw}, nil
}
