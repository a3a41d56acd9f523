package chat

// Role identifies which side of a session authored a message, relative to
// the identity running this client.
type Role string

const (
	RoleSelf        Role = "SELF"
	RoleCounterpart Role = "COUNTERPART"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// IDKind tags whether a message id was issued locally or by the server.
type IDKind int

const (
	IDLocal IDKind = iota
	IDConfirmed
)

// MessageID identifies a message. Optimistic messages carry a locally
// generated id until a server echo supplies the authoritative one; the
// tag makes the temporary→real promotion explicit instead of relying on
// string comparison conventions.
type MessageID struct {
	Kind  IDKind
	Value string
}

// LocalID builds a client-issued temporary id.
func LocalID(v string) MessageID { return MessageID{Kind: IDLocal, Value: v} }

// ConfirmedID builds a server-issued id.
func ConfirmedID(v string) MessageID { return MessageID{Kind: IDConfirmed, Value: v} }

// Message is one chat message as held by the client.
type Message struct {
	ID MessageID
	// ClientID is the client-issued id, kept through confirmation so a
	// server echo can be reconciled with its optimistic entry. Empty for
	// messages that never existed locally (history, counterpart messages).
	ClientID    string
	SessionID   string
	Content     string
	SenderRole  Role
	SenderLabel string
	CreatedAt   int64 // unix millis
	Read        bool
}

// Preview summarizes the last message of a session for the session list.
type Preview struct {
	Content string
	Sender  Role
}

// Session is the conversational context with one counterpart.
type Session struct {
	CounterpartID   string
	CounterpartName string
	LastMessage     *Preview
	UnreadCount     int
	Status          SessionStatus
	LastActivityAt  int64 // unix millis
}

// PendingSend is a message composed while disconnected, waiting for replay.
type PendingSend struct {
	SessionID string
	Content   string
	ClientID  string
	CreatedAt int64
}
