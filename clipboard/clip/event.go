package clip

import "encoding/json"

// Event names on the wire.
const (
	EventInitialMessages = "initial-messages" // server -> client, once per connection
	EventMessageReceived = "message-received" // server -> client, every append
	EventNewMessage      = "new-message"      // client -> server
)

// Envelope is the frame shape in both directions, with Data left undecoded.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
