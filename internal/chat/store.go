package chat

import (
	"slices"
)

// Store holds the ordered message lists per session. Like the directory it
// is owned by the engine's goroutine; all reconciliation is id-keyed upsert
// so duplicate deliveries (reconnect replay, server echo of an optimistic
// entry) apply idempotently.
type Store struct {
	bySession map[string][]Message
	loaded    map[string]bool
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{
		bySession: make(map[string][]Message),
		loaded:    make(map[string]bool),
	}
}

// Append upserts a message into its session's list and keeps the list
// sorted ascending by CreatedAt. Matching order:
//  1. same resolved id (kind and value) → replace fields in place;
//  2. incoming confirmed message whose ClientID matches an existing local
//     entry → the server echo of an optimistic send; the entry is promoted
//     to the confirmed id with authoritative fields.
func (s *Store) Append(m Message) {
	msgs := s.bySession[m.SessionID]

	for i := range msgs {
		if msgs[i].ID == m.ID {
			msgs[i] = m
			s.resort(m.SessionID, msgs)
			return
		}
	}
	if m.ID.Kind == IDConfirmed && m.ClientID != "" {
		for i := range msgs {
			if msgs[i].ID.Kind == IDLocal && msgs[i].ClientID == m.ClientID {
				msgs[i] = m
				s.resort(m.SessionID, msgs)
				return
			}
		}
	}

	msgs = append(msgs, m)
	s.resort(m.SessionID, msgs)
}

// MergeHistory upserts a batch of history messages for a session and marks
// the session loaded. Optimistic entries already present keep exactly one
// slot thanks to the upsert rule.
func (s *Store) MergeHistory(sessionID string, history []Message) {
	for _, m := range history {
		s.Append(m)
	}
	s.loaded[sessionID] = true
}

// Ordered returns the session's messages, non-decreasing by CreatedAt.
func (s *Store) Ordered(sessionID string) []Message {
	msgs := s.bySession[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len returns the number of messages held for a session.
func (s *Store) Len(sessionID string) int {
	return len(s.bySession[sessionID])
}

// Loaded reports whether history has already been fetched for the session
// in this page lifetime.
func (s *Store) Loaded(sessionID string) bool {
	return s.loaded[sessionID]
}

// ClearSession drops a session's messages and its loaded marker.
func (s *Store) ClearSession(sessionID string) {
	delete(s.bySession, sessionID)
	delete(s.loaded, sessionID)
}

func (s *Store) resort(sessionID string, msgs []Message) {
	// Stable sort: messages with equal timestamps keep insertion order.
	slices.SortStableFunc(msgs, func(a, b Message) int {
		switch {
		case a.CreatedAt < b.CreatedAt:
			return -1
		case a.CreatedAt > b.CreatedAt:
			return 1
		default:
			return 0
		}
	})
	s.bySession[sessionID] = msgs
}
