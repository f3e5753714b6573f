package domain

import (
	"encoding/json"
	"time"
)

// Turn is one entry of a session transcript: the inbound batch, the encoded
// State it produced and the outbound events.
type Turn struct {
	SessionID string          `json:"session_id"`
	Seq       int             `json:"seq"`
	At        time.Time       `json:"at"`
	Inbound   []Event         `json:"inbound"`
	State     json.RawMessage `json:"state"`
	Outbound  []Event         `json:"outbound"`
}
