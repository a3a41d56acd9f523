package engine

import (
	"go.uber.org/zap"

	"github.com/lojinha/chatd/internal/chat"
)

// loadHistory fetches the full persisted history of a session page by page,
// merges it into the store and issues the mark-read call. One shot per
// session per page lifetime: the store's loaded marker (set by the merge)
// suppresses refetch storms when the user reopens the same session. On
// fetch failure nothing is merged and the marker stays unset, so reopening
// retries.
func (e *Engine) loadHistory(sessionID string) {
	var all []chat.Message
	page := 0
	for {
		items, more, err := e.api.Messages(e.ctx, sessionID, page, e.cfg.HistoryPageSize)
		if err != nil {
			e.logger.Warn("history load failed",
				zap.String("session", sessionID),
				zap.Int("page", page),
				zap.Error(err))
			e.bus.Emit("notice.error", "could not load chat history")
			return
		}
		for _, it := range items {
			role := chat.RoleCounterpart
			if it.SentBy == e.identity.Role.WireName() {
				role = chat.RoleSelf
			}
			all = append(all, chat.Message{
				ID:         chat.ConfirmedID(it.ID),
				SessionID:  sessionID,
				Content:    chat.Sanitize(it.Content),
				SenderRole: role,
				CreatedAt:  it.CreatedAt,
				Read:       it.Read,
			})
		}
		if !more {
			break
		}
		page++
	}

	if err := e.call(func() {
		e.store.MergeHistory(sessionID, all)
		e.bus.Emit("chat.history_loaded", sessionID)
	}); err != nil {
		return
	}

	e.markRead(sessionID)
}

// markRead is best-effort: a failure is logged and noticed, never blocks
// the UI and never rolls back the local unread reset.
func (e *Engine) markRead(sessionID string) {
	if err := e.api.MarkRead(e.ctx, sessionID); err != nil {
		e.logger.Warn("mark-read failed",
			zap.String("session", sessionID),
			zap.Error(err))
	}
}
