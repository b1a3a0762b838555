package realtime

import (
	"encoding/json"
	"strconv"

	"github.com/ent0n29/boardsync/internal/api"
)

// Event types carried over the channel. Task payloads reuse the REST wire
// encoding so push events and REST responses stay byte-compatible.
const (
	EventTaskCreated = "task_created"
	EventTaskUpdated = "task_updated"
	EventTaskDeleted = "task_deleted"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"

	eventJoin         = "join"
	eventJoined       = "joined"
	eventInvalidToken = "invalid_token"
)

// Event is one decoded inbound push notification. Exactly one of Task, User
// or the bare ID is populated depending on Type.
type Event struct {
	Type string
	Task *api.Task
	User *api.User
	ID   string
}

type frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wireRef struct {
	ID int64 `json:"id"`
}

func decodeEvent(f frame) (Event, bool) {
	switch f.Event {
	case EventTaskCreated, EventTaskUpdated:
		var w api.WireTask
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return Event{}, false
		}
		task := w.Domain()
		return Event{Type: f.Event, Task: &task, ID: task.ID}, true
	case EventTaskDeleted, EventUserLeft:
		var ref wireRef
		if err := json.Unmarshal(f.Data, &ref); err != nil {
			return Event{}, false
		}
		return Event{Type: f.Event, ID: strconv.FormatInt(ref.ID, 10)}, true
	case EventUserJoined:
		var w api.WireUser
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return Event{}, false
		}
		user := w.Domain()
		return Event{Type: f.Event, User: &user, ID: user.ID}, true
	default:
		return Event{}, false
	}
}
