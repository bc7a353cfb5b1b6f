package events

import (
	"encoding/json"
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// RoomBroadcastEvent carries one server event destined for every live
// connection in a room. Payload is the already-encoded event body so the
// consumer does not need to know the event's shape.
type RoomBroadcastEvent struct {
	RoomID    string          `json:"room_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// RoomBroadcastV1 is published by the chat core and consumed by the broadcast
// module, which delivers it to the room's live group in this process.
var RoomBroadcastV1 = helper.EventDefinition[RoomBroadcastEvent](
	"chat",
	"RoomBroadcast",
	"v1",
)
