package transport

import "encoding/json"

// FrameType discriminates gateway frames.
type FrameType string

const (
	// FrameSubscribe registers interest in a destination. Sent client→server
	// after every (re)connect; the server does not persist subscriptions
	// across drops.
	FrameSubscribe FrameType = "SUBSCRIBE"
	// FrameSend publishes a payload to a destination.
	FrameSend FrameType = "SEND"
	// FrameMessage delivers a payload for a subscribed destination.
	FrameMessage FrameType = "MESSAGE"
)

// Frame is the JSON envelope exchanged with the gateway.
type Frame struct {
	Type        FrameType       `json:"type"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}
