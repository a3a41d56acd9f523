package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced so subscribers can filter by prefix:
//
//	transport.  connection lifecycle (status_changed, connected, disconnected)
//	chat.       message and session mutations (message_upserted, session_updated,
//	            send_queued, send_published, history_loaded)
//	typing.     ephemeral presence (started, stopped)
//	notice.     user-visible, non-blocking notifications (info, error)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
