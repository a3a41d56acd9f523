package engine

// Gateway destinations. Inbound destinations are scoped to the
// authenticated identity; outbound ones are shared application endpoints.
const (
	sendDestination   = "/app/chat.send"
	typingDestination = "/app/chat.typing"
)

func inboxMessages(identityID string) string {
	return "/user/" + identityID + "/queue/messages"
}

func inboxTyping(identityID string) string {
	return "/user/" + identityID + "/queue/typing"
}

// messagePayload is the body of chat send and deliver frames. MessageID is
// only present on server deliveries; ClientMessageID travels both ways so
// a server echo can be reconciled with its optimistic entry.
type messagePayload struct {
	SessionID       string `json:"sessionId"`
	Content         string `json:"content"`
	SenderRole      string `json:"senderRole"` // "USER" or "SHOP"
	SenderLabel     string `json:"senderLabel"`
	CreatedAt       int64  `json:"createdAt"`
	ClientMessageID string `json:"clientMessageId"`
	MessageID       string `json:"messageId,omitempty"`
	Read            bool   `json:"read,omitempty"`
}

// typingPayload is the body of typing frames. Deliberately minimal: no
// content, no timestamps, expiry is inferred client-side.
type typingPayload struct {
	SessionID  string `json:"sessionId"`
	SenderRole string `json:"senderRole"`
}
