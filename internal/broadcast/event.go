// Package broadcast pushes post change events to connected websocket clients.
//
// The Hub owns the client set in a single goroutine; each connection has its own
// write goroutine so a slow reader never blocks the others. With the redis backend
// every process publishes to a shared channel and feeds what it receives back into
// its local Hub.
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/d60-Lab/livepost/internal/model"
)

// Event names on the wire.
const (
	PostCreated = "postCreated"
	PostUpdated = "postUpdated"
	PostDeleted = "postDeleted"

	// Subscribed is the first frame on every connection, sent once the hub has
	// registered it. Events committed before it are already visible to List.
	Subscribed = "subscribed"
)

// Event is a change notification pushed to clients.
// Data is a full Post for created/updated and a bare integer id for deleted.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Broadcaster announces events to every connected client.
// A nil Broadcaster is safe to use; Broadcast becomes a no-op.
type Broadcaster interface {
	Broadcast(e Event)
}

func Created(p model.Post) Event { return newEvent(PostCreated, p) }

func Updated(p model.Post) Event { return newEvent(PostUpdated, p) }

func Deleted(id int64) Event { return newEvent(PostDeleted, id) }

func newEvent(name string, v any) Event {
	// Post and int64 always marshal
	data, _ := json.Marshal(v)
	return Event{Name: name, Data: data}
}

// Decoded is the typed view of an Event.
type Decoded struct {
	Name string
	Post model.Post // created / updated
	ID   int64      // deleted; also set for created / updated
}

// Decode parses the payload according to the event name.
func (e Event) Decode() (Decoded, error) {
	d := Decoded{Name: e.Name}
	switch e.Name {
	case PostCreated, PostUpdated:
		if err := json.Unmarshal(e.Data, &d.Post); err != nil {
			return d, fmt.Errorf("decode %s: %w", e.Name, err)
		}
		d.ID = d.Post.ID
	case PostDeleted:
		if err := json.Unmarshal(e.Data, &d.ID); err != nil {
			return d, fmt.Errorf("decode %s: %w", e.Name, err)
		}
	case Subscribed:
	default:
		return d, fmt.Errorf("unknown event %q", e.Name)
	}
	return d, nil
}

// ParseEvent decodes a wire frame.
func ParseEvent(frame []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(frame, &e); err != nil {
		return e, fmt.Errorf("parse event: %w", err)
	}
	return e, nil
}
