package chat

// Queue buffers sends composed while disconnected. Ordering is strictly
// FIFO across the whole queue, not per session: what was typed first goes
// out first, whichever session it belongs to.
type Queue struct {
	entries []PendingSend
}

// NewQueue creates an empty pending-send queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a pending send.
func (q *Queue) Enqueue(p PendingSend) {
	q.entries = append(q.entries, p)
}

// Len returns the number of queued sends.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Drain replays queued sends in FIFO order through publish. An entry is
// removed once its publish attempt has been issued; no acknowledgment is
// required (at-most-once replay). If publish errors, meaning the connection
// dropped again before an attempt could be issued, draining stops and the
// failed entry plus everything behind it stays queued for the next
// reconnect. Returns the entries that were published.
func (q *Queue) Drain(publish func(PendingSend) error) []PendingSend {
	var drained []PendingSend
	for len(q.entries) > 0 {
		entry := q.entries[0]
		if err := publish(entry); err != nil {
			break
		}
		q.entries = q.entries[1:]
		drained = append(drained, entry)
	}
	return drained
}
