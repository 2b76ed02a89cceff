package models

import (
	"encoding/json"
	"time"
)

// Event is a journaled change to a user's storage, replayed to clients that
// reconnect.
type Event struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	EventTime time.Time       `json:"event_time"`
	Payload   json.RawMessage `json:"payload" swaggertype:"object"`
}
