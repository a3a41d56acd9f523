package chat

import (
	"slices"
)

// Directory is the in-memory map of counterpart identity → session. It is
// owned by the engine's single goroutine and is not safe for concurrent use.
type Directory struct {
	sessions map[string]*Session
	active   string
}

// NewDirectory creates an empty session directory.
func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for the counterpart, creating it lazily
// on first sight. The name is improved monotonically: a real name replaces
// an empty or placeholder one (the counterpart id doubling as name), but a
// placeholder never overwrites a real name.
func (d *Directory) GetOrCreate(counterpartID, counterpartName string) *Session {
	s, ok := d.sessions[counterpartID]
	if !ok {
		name := counterpartName
		if name == "" {
			name = counterpartID
		}
		s = &Session{
			CounterpartID:   counterpartID,
			CounterpartName: name,
			Status:          SessionActive,
		}
		d.sessions[counterpartID] = s
		return s
	}
	if counterpartName != "" && counterpartName != counterpartID &&
		(s.CounterpartName == "" || s.CounterpartName == s.CounterpartID) {
		s.CounterpartName = counterpartName
	}
	return s
}

// Get returns the session for the counterpart, or nil.
func (d *Directory) Get(counterpartID string) *Session {
	return d.sessions[counterpartID]
}

// List returns sessions sorted by last activity, most recent first.
func (d *Directory) List() []Session {
	out := make([]Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, *s)
	}
	slices.SortStableFunc(out, func(a, b Session) int {
		switch {
		case a.LastActivityAt > b.LastActivityAt:
			return -1
		case a.LastActivityAt < b.LastActivityAt:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Active returns the active counterpart id, or "" when no session is open.
func (d *Directory) Active() string {
	return d.active
}

// SetActive marks the session active and resets its unread count. The reset
// is local-first: it does not wait for (or roll back on) the mark-read call.
func (d *Directory) SetActive(counterpartID string) *Session {
	s, ok := d.sessions[counterpartID]
	if !ok {
		return nil
	}
	d.active = counterpartID
	s.UnreadCount = 0
	return s
}

// ClearActive deactivates whatever session is active.
func (d *Directory) ClearActive() {
	d.active = ""
}

// Touch records activity on a session: last-message preview and timestamp.
func (d *Directory) Touch(counterpartID string, preview Preview, at int64) {
	s, ok := d.sessions[counterpartID]
	if !ok {
		return
	}
	p := preview
	s.LastMessage = &p
	if at > s.LastActivityAt {
		s.LastActivityAt = at
	}
}

// IncrementUnread bumps the unread counter for a session.
func (d *Directory) IncrementUnread(counterpartID string) {
	if s, ok := d.sessions[counterpartID]; ok {
		s.UnreadCount++
	}
}

// Remove deletes the session. Returns true if it was the active one.
func (d *Directory) Remove(counterpartID string) bool {
	delete(d.sessions, counterpartID)
	if d.active == counterpartID {
		d.active = ""
		return true
	}
	return false
}
