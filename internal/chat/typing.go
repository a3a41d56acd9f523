package chat

import (
	"sync"
	"time"
)

// Typing tracks ephemeral per-session typing presence. There is no
// "stopped typing" signal on the wire: absence of refreshes for the quiet
// window means stopped. Unlike the directory and store, the tracker owns
// its state under its own lock because expiry fires on timer goroutines.
type Typing struct {
	mu     sync.Mutex
	window time.Duration
	typing map[string]bool
	timers map[string]*time.Timer
	// gen guards against a stale timer firing between Stop and rearm:
	// expiry only applies if its generation is still current.
	gen    map[string]uint64
	onStop func(sessionID string)
}

// NewTyping creates a tracker with the given quiet window. onStop is called
// (off the caller's goroutine) when a session's typing state expires; it may
// be nil.
func NewTyping(window time.Duration, onStop func(sessionID string)) *Typing {
	return &Typing{
		window: window,
		typing: make(map[string]bool),
		timers: make(map[string]*time.Timer),
		gen:    make(map[string]uint64),
		onStop: onStop,
	}
}

// Touch records a typing signal for the session and (re)arms its expiry
// timer. A refresh before expiry rearms the single timer, never stacks a
// second one. Returns true if the session was not already typing.
func (t *Typing) Touch(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	started := !t.typing[sessionID]
	t.typing[sessionID] = true

	if timer, ok := t.timers[sessionID]; ok {
		timer.Stop()
	}
	t.gen[sessionID]++
	g := t.gen[sessionID]
	t.timers[sessionID] = time.AfterFunc(t.window, func() {
		t.expire(sessionID, g)
	})
	return started
}

// IsTyping reports whether the counterpart in the session is typing.
func (t *Typing) IsTyping(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing[sessionID]
}

// Forget drops a session's typing state without firing onStop. Used when a
// session ends.
func (t *Typing) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[sessionID]; ok {
		timer.Stop()
		delete(t.timers, sessionID)
	}
	t.gen[sessionID]++
	delete(t.typing, sessionID)
}

// Close stops all timers.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
		t.gen[id]++
	}
	clear(t.typing)
}

func (t *Typing) expire(sessionID string, g uint64) {
	t.mu.Lock()
	if t.gen[sessionID] != g {
		t.mu.Unlock()
		return
	}
	wasTyping := t.typing[sessionID]
	delete(t.typing, sessionID)
	delete(t.timers, sessionID)
	t.mu.Unlock()

	if wasTyping && t.onStop != nil {
		t.onStop(sessionID)
	}
}
