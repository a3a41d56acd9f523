// Package engine hosts the chat core. A single goroutine owns the session
// directory, message store and pending queue; every mutation, whether an
// inbound frame, a UI command or a reconnect drain, is marshalled onto that
// goroutine. Nothing outside the engine writes to chat state.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lojinha/chatd/internal/auth"
	"github.com/lojinha/chatd/internal/bus"
	"github.com/lojinha/chatd/internal/chat"
	"github.com/lojinha/chatd/internal/rest"
	"github.com/lojinha/chatd/internal/status"
	"github.com/lojinha/chatd/internal/transport"
)

// Transport is the slice of the connection manager the engine drives.
type Transport interface {
	Publish(destination string, body any) error
	Subscribe(destination string, h transport.Handler)
}

// Backend is the REST collaborator surface the engine consumes.
type Backend interface {
	Sessions(ctx context.Context) ([]rest.SessionSummary, error)
	Messages(ctx context.Context, sessionID string, page, size int) ([]rest.HistoryMessage, bool, error)
	StartChat(ctx context.Context, counterpartID string) (string, error)
	EndChat(ctx context.Context, sessionID string) error
	MarkRead(ctx context.Context, sessionID string) error
}

// Config tunes the chat core.
type Config struct {
	// TypingWindow is the quiet window after which a counterpart counts as
	// having stopped typing.
	TypingWindow time.Duration
	// HistoryPageSize is the page size for history fetches.
	HistoryPageSize int
}

// MessageRef identifies a message in bus event payloads.
type MessageRef struct {
	SessionID string
	ID        string
}

// Engine is the chat core for one authenticated identity.
type Engine struct {
	cfg      Config
	identity *auth.Context
	tp       Transport
	api      Backend
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger

	// Owned by the loop goroutine; never touched from outside it.
	dir   *chat.Directory
	store *chat.Store
	queue *chat.Queue

	// The typing tracker carries its own lock: expiry fires on timer
	// goroutines.
	typing *chat.Typing

	cmds   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a chat engine. Call Start before using it.
func New(cfg Config, identity *auth.Context, tp Transport, api Backend, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Engine {
	if cfg.TypingWindow <= 0 {
		cfg.TypingWindow = 3 * time.Second
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	return &Engine{
		cfg:      cfg,
		identity: identity,
		tp:       tp,
		api:      api,
		machine:  machine,
		bus:      b,
		logger:   logger,
		dir:      chat.NewDirectory(),
		store:    chat.NewStore(),
		queue:    chat.NewQueue(),
		typing: chat.NewTyping(cfg.TypingWindow, func(sessionID string) {
			b.Emit("typing.stopped", sessionID)
		}),
		cmds: make(chan func(), 256),
	}
}

// Start subscribes the identity's inbox destinations, launches the state
// loop and seeds the directory from the backend's session list. ctx bounds
// the chat surface lifetime: cancelling it aborts in-flight fetches.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	evts, unsub := e.bus.Subscribe("transport.", 256)

	e.tp.Subscribe(inboxMessages(e.identity.IdentityID), e.onMessageFrame)
	e.tp.Subscribe(inboxTyping(e.identity.IdentityID), e.onTypingFrame)

	go e.loop(evts, unsub)
	go e.bootstrap()
}

// Stop shuts the engine down and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) loop(evts <-chan bus.Event, unsub func()) {
	defer close(e.done)
	defer unsub()
	defer e.typing.Close()

	for {
		select {
		case fn := <-e.cmds:
			fn()
		case evt := <-evts:
			if evt.Kind == "transport.connected" {
				e.drainPending()
			}
		case <-e.ctx.Done():
			return
		}
	}
}

// call runs fn on the loop goroutine and waits for it to complete.
func (e *Engine) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(ran) }:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// post schedules fn on the loop goroutine without waiting.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.ctx.Done():
	}
}

// postFrame is post for the read-pump handlers, which must never block:
// under overload the frame is dropped, mirroring the bus policy.
func (e *Engine) postFrame(fn func()) {
	select {
	case e.cmds <- fn:
	default:
		e.logger.Warn("engine command queue full, dropping frame")
	}
}

// bootstrap seeds the directory from GET /sessions.
func (e *Engine) bootstrap() {
	sessions, err := e.api.Sessions(e.ctx)
	if err != nil {
		e.logger.Warn("session list fetch failed", zap.Error(err))
		e.bus.Emit("notice.error", "could not load chat sessions")
		return
	}
	_ = e.call(func() {
		for _, s := range sessions {
			sess := e.dir.GetOrCreate(s.CounterpartID, s.CounterpartName)
			sess.UnreadCount = s.UnreadCount
			if s.LastMessage != "" {
				e.dir.Touch(s.CounterpartID,
					chat.Preview{Content: s.LastMessage, Sender: chat.RoleCounterpart}, 0)
			}
		}
		e.bus.Emit("chat.session_updated", "")
	})
}

// Send delivers content to the active session: optimistic append, then
// publish when connected or enqueue when not. Sending while disconnected
// is not an error.
func (e *Engine) Send(content string) error {
	content = chat.Sanitize(content)
	if content == "" {
		return fmt.Errorf("empty message")
	}

	var sendErr error
	if err := e.call(func() {
		active := e.dir.Active()
		if active == "" {
			sendErr = fmt.Errorf("no active session")
			return
		}

		clientID := uuid.NewString()
		now := time.Now().UnixMilli()
		e.store.Append(chat.Message{
			ID:          chat.LocalID(clientID),
			ClientID:    clientID,
			SessionID:   active,
			Content:     content,
			SenderRole:  chat.RoleSelf,
			SenderLabel: e.identity.Label,
			CreatedAt:   now,
		})
		e.dir.Touch(active, chat.Preview{Content: content, Sender: chat.RoleSelf}, now)

		pending := chat.PendingSend{
			SessionID: active,
			Content:   content,
			ClientID:  clientID,
			CreatedAt: now,
		}
		if e.machine.Current() == status.Connected {
			if err := e.tp.Publish(sendDestination, e.payloadFor(pending)); err == nil {
				e.bus.Emit("chat.send_published", MessageRef{SessionID: active, ID: clientID})
				return
			}
			// Lost the connection mid-send: fall through to the queue.
		}
		e.queue.Enqueue(pending)
		e.bus.Emit("chat.send_queued", MessageRef{SessionID: active, ID: clientID})
	}); err != nil {
		return err
	}
	return sendErr
}

// Open activates the session with the counterpart, creating it server-side
// when unknown, and kicks off the one-shot history load. Unread count is
// reset locally right away; mark-read is issued best-effort in the
// background and its failure never rolls the reset back.
func (e *Engine) Open(ctx context.Context, counterpartID, counterpartName string) error {
	var known bool
	if err := e.call(func() { known = e.dir.Get(counterpartID) != nil }); err != nil {
		return err
	}

	if !known {
		// Session ids equal counterpart ids in this backend; the call
		// creates the server-side session, the id confirms it.
		if _, err := e.api.StartChat(ctx, counterpartID); err != nil {
			e.bus.Emit("notice.error", "could not start chat")
			return err
		}
	}

	var needLoad bool
	if err := e.call(func() {
		s := e.dir.GetOrCreate(counterpartID, counterpartName)
		s.Status = chat.SessionActive
		e.dir.SetActive(counterpartID)
		needLoad = !e.store.Loaded(counterpartID)
		e.bus.Emit("chat.session_updated", counterpartID)
	}); err != nil {
		return err
	}

	if needLoad {
		go e.loadHistory(counterpartID)
	} else {
		go e.markRead(counterpartID)
	}
	return nil
}

// End closes the session server-side, then removes it locally. On backend
// failure the session stays and the error is returned for the user to retry.
func (e *Engine) End(ctx context.Context, counterpartID string) error {
	if err := e.api.EndChat(ctx, counterpartID); err != nil {
		e.bus.Emit("notice.error", "could not end chat")
		return err
	}
	return e.call(func() {
		wasActive := e.dir.Remove(counterpartID)
		if wasActive {
			e.store.ClearSession(counterpartID)
		}
		e.typing.Forget(counterpartID)
		e.bus.Emit("chat.session_updated", counterpartID)
	})
}

// SignalTyping publishes a typing hint for the active session. Ephemeral by
// nature: silently dropped while disconnected.
func (e *Engine) SignalTyping() {
	e.post(func() {
		active := e.dir.Active()
		if active == "" || e.machine.Current() != status.Connected {
			return
		}
		_ = e.tp.Publish(typingDestination, typingPayload{
			SessionID:  active,
			SenderRole: e.identity.Role.WireName(),
		})
	})
}

// Sessions returns the session list, most recently active first.
func (e *Engine) Sessions() []chat.Session {
	var out []chat.Session
	_ = e.call(func() { out = e.dir.List() })
	return out
}

// Messages returns the ordered messages of a session.
func (e *Engine) Messages(sessionID string) []chat.Message {
	var out []chat.Message
	_ = e.call(func() { out = e.store.Ordered(sessionID) })
	return out
}

// ActiveSession returns the active counterpart id, or "".
func (e *Engine) ActiveSession() string {
	var out string
	_ = e.call(func() { out = e.dir.Active() })
	return out
}

// IsTyping reports whether the counterpart in the session is typing.
func (e *Engine) IsTyping(sessionID string) bool {
	return e.typing.IsTyping(sessionID)
}

// PendingCount returns the number of sends waiting for reconnect.
func (e *Engine) PendingCount() int {
	var out int
	_ = e.call(func() { out = e.queue.Len() })
	return out
}

// ConnState returns the transport connection state.
func (e *Engine) ConnState() status.State {
	return e.machine.Current()
}

func (e *Engine) onMessageFrame(body []byte) {
	var p messagePayload
	if err := json.Unmarshal(body, &p); err != nil {
		e.logger.Warn("dropping malformed message payload", zap.Error(err))
		return
	}
	if p.SessionID == "" {
		e.logger.Warn("dropping message payload without session id")
		return
	}
	e.postFrame(func() { e.handleInbound(p) })
}

func (e *Engine) handleInbound(p messagePayload) {
	content := chat.Sanitize(p.Content)

	role := chat.RoleCounterpart
	if p.SenderRole == e.identity.Role.WireName() {
		role = chat.RoleSelf
	}

	// Lazy session creation: first message from an unseen counterpart
	// materializes the session with whatever name the payload carries.
	name := ""
	if role == chat.RoleCounterpart {
		name = p.SenderLabel
	}
	e.dir.GetOrCreate(p.SessionID, name)

	id := chat.ConfirmedID(p.MessageID)
	if p.MessageID == "" {
		id = chat.LocalID(p.ClientMessageID)
	}
	e.store.Append(chat.Message{
		ID:          id,
		ClientID:    p.ClientMessageID,
		SessionID:   p.SessionID,
		Content:     content,
		SenderRole:  role,
		SenderLabel: p.SenderLabel,
		CreatedAt:   p.CreatedAt,
		Read:        p.Read,
	})
	e.dir.Touch(p.SessionID, chat.Preview{Content: content, Sender: role}, p.CreatedAt)

	if role == chat.RoleCounterpart && e.dir.Active() != p.SessionID {
		e.dir.IncrementUnread(p.SessionID)
	}

	e.bus.Emit("chat.message_upserted", MessageRef{SessionID: p.SessionID, ID: id.Value})
	e.bus.Emit("chat.session_updated", p.SessionID)
}

func (e *Engine) onTypingFrame(body []byte) {
	var p typingPayload
	if err := json.Unmarshal(body, &p); err != nil {
		e.logger.Warn("dropping malformed typing payload", zap.Error(err))
		return
	}
	if p.SenderRole == e.identity.Role.WireName() {
		// Echo of our own typing hint.
		return
	}
	e.postFrame(func() {
		if e.dir.Active() != p.SessionID {
			return
		}
		if e.typing.Touch(p.SessionID) {
			e.bus.Emit("typing.started", p.SessionID)
		}
	})
}

// drainPending replays queued sends in FIFO order after a reconnect. Runs
// on the loop goroutine.
func (e *Engine) drainPending() {
	if e.queue.Len() == 0 {
		return
	}
	drained := e.queue.Drain(func(p chat.PendingSend) error {
		return e.tp.Publish(sendDestination, e.payloadFor(p))
	})
	for _, p := range drained {
		// Idempotent: the optimistic entry normally already exists.
		e.store.Append(chat.Message{
			ID:          chat.LocalID(p.ClientID),
			ClientID:    p.ClientID,
			SessionID:   p.SessionID,
			Content:     p.Content,
			SenderRole:  chat.RoleSelf,
			SenderLabel: e.identity.Label,
			CreatedAt:   p.CreatedAt,
		})
		e.bus.Emit("chat.send_published", MessageRef{SessionID: p.SessionID, ID: p.ClientID})
	}
	if len(drained) > 0 {
		e.logger.Info("pending sends replayed", zap.Int("count", len(drained)))
	}
}

func (e *Engine) payloadFor(p chat.PendingSend) messagePayload {
	return messagePayload{
		SessionID:       p.SessionID,
		Content:         p.Content,
		SenderRole:      e.identity.Role.WireName(),
		SenderLabel:     e.identity.Label,
		CreatedAt:       p.CreatedAt,
		ClientMessageID: p.ClientID,
	}
}
