package event

import "encoding/json"

// Wire is the canonical on-the-wire shape described in spec §6, used when
// events are transported (e.g., over a socket). Core invariants never
// depend on this shape; it exists solely for external transports to
// serialize Event values consistently.
type Wire struct {
	Type      Type   `json:"type"`
	UUID      string `json:"uuid"`
	AgentID   string `json:"agentId"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
	Index     *int   `json:"index,omitempty"`
}

// ToWire converts an Event into its canonical wire representation.
func ToWire(e Event) Wire {
	return Wire{
		Type:      e.T,
		UUID:      e.ID,
		AgentID:   e.Agent,
		Timestamp: e.At,
		Data:      e.Data,
		Index:     e.Index,
	}
}

// MarshalJSON renders the event in its canonical wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToWire(e))
}
