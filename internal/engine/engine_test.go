package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lojinha/chatd/internal/auth"
	"github.com/lojinha/chatd/internal/bus"
	"github.com/lojinha/chatd/internal/chat"
	"github.com/lojinha/chatd/internal/rest"
	"github.com/lojinha/chatd/internal/status"
	"github.com/lojinha/chatd/internal/transport"
)

type publishedFrame struct {
	destination string
	body        any
}

type fakeTransport struct {
	mu       sync.Mutex
	frames   []publishedFrame
	err      error
	handlers map[string]transport.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]transport.Handler)}
}

func (f *fakeTransport) Publish(destination string, body any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, publishedFrame{destination: destination, body: body})
	return nil
}

func (f *fakeTransport) Subscribe(destination string, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[destination] = h
}

// deliver feeds an inbound payload through the handler registered for the
// destination, the way the read pump would.
func (f *fakeTransport) deliver(t *testing.T, destination string, payload any) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[destination]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler registered for %s", destination)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	h(body)
}

func (f *fakeTransport) published() []publishedFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

type fakeBackend struct {
	mu          sync.Mutex
	sessions    []rest.SessionSummary
	history     map[string][][]rest.HistoryMessage
	startErr    error
	endErr      error
	markReadErr error
	started     []string
	ended       []string
	markReads   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[string][][]rest.HistoryMessage)}
}

func (f *fakeBackend) Sessions(_ context.Context) ([]rest.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, nil
}

func (f *fakeBackend) Messages(_ context.Context, sessionID string, page, _ int) ([]rest.HistoryMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := f.history[sessionID]
	if page >= len(pages) {
		return nil, false, nil
	}
	return pages[page], page < len(pages)-1, nil
}

func (f *fakeBackend) StartChat(_ context.Context, counterpartID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, counterpartID)
	return counterpartID, nil
}

func (f *fakeBackend) EndChat(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	f.ended = append(f.ended, sessionID)
	return nil
}

func (f *fakeBackend) MarkRead(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.markReads = append(f.markReads, sessionID)
	return nil
}

func (f *fakeBackend) markReadCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.markReads))
	copy(out, f.markReads)
	return out
}

type testRig struct {
	engine  *Engine
	tp      *fakeTransport
	api     *fakeBackend
	bus     *bus.Bus
	machine *status.Machine
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	b := bus.New()
	machine := status.NewMachine(b)
	tp := newFakeTransport()
	api := newFakeBackend()
	identity := &auth.Context{
		Token:      "tok",
		IdentityID: "user-1",
		Label:      "Ana",
		Role:       auth.RoleUser,
	}
	e := New(Config{TypingWindow: 50 * time.Millisecond}, identity, tp, api, machine, b, zap.NewNop())
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return &testRig{engine: e, tp: tp, api: api, bus: b, machine: machine}
}

func (r *testRig) connect(t *testing.T) {
	t.Helper()
	if err := r.machine.Transition(status.Connecting); err != nil {
		t.Fatalf("transition to connecting: %v", err)
	}
	if err := r.machine.Transition(status.Connected); err != nil {
		t.Fatalf("transition to connected: %v", err)
	}
	r.bus.Emit("transport.connected", nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendWhileDisconnectedReplaysInOrder(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := r.engine.Send("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := r.engine.Send("world"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := r.engine.PendingCount(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	if got := len(r.tp.published()); got != 0 {
		t.Fatalf("published %d frames while disconnected", got)
	}

	r.connect(t)

	waitFor(t, "queue drain", func() bool { return r.engine.PendingCount() == 0 })
	waitFor(t, "both frames published", func() bool { return len(r.tp.published()) == 2 })

	frames := r.tp.published()
	for i, want := range []string{"hello", "world"} {
		p, ok := frames[i].body.(messagePayload)
		if !ok {
			t.Fatalf("frame %d body is %T", i, frames[i].body)
		}
		if p.Content != want {
			t.Errorf("frame %d content = %q, want %q", i, p.Content, want)
		}
		if frames[i].destination != sendDestination {
			t.Errorf("frame %d destination = %q", i, frames[i].destination)
		}
	}

	// No duplicates in the local store either.
	msgs := r.engine.Messages("shop-1")
	if len(msgs) != 2 {
		t.Fatalf("store has %d messages, want 2", len(msgs))
	}
}

func TestSendWithNoActiveSession(t *testing.T) {
	r := newTestRig(t)
	if err := r.engine.Send("hello"); err == nil {
		t.Fatal("want error sending without an active session")
	}
	if err := r.engine.Send("   "); err == nil {
		t.Fatal("want error sending blank content")
	}
}

func TestSendPublishesDirectlyWhenConnected(t *testing.T) {
	r := newTestRig(t)
	r.connect(t)

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.engine.Send("oi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "frame published", func() bool { return len(r.tp.published()) >= 1 })
	if got := r.engine.PendingCount(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestInboundMessageCreatesSessionLazily(t *testing.T) {
	r := newTestRig(t)

	r.tp.deliver(t, inboxMessages("user-1"), messagePayload{
		SessionID:   "shop-9",
		Content:     "tudo bem?",
		SenderRole:  "SHOP",
		SenderLabel: "Loja Nove",
		CreatedAt:   1000,
		MessageID:   "m-1",
	})

	waitFor(t, "session created", func() bool { return len(r.engine.Sessions()) == 1 })
	sessions := r.engine.Sessions()
	s := sessions[0]
	if s.CounterpartID != "shop-9" {
		t.Fatalf("counterpart = %q", s.CounterpartID)
	}
	if s.CounterpartName != "Loja Nove" {
		t.Errorf("counterpart name = %q", s.CounterpartName)
	}
	if s.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", s.UnreadCount)
	}
	if s.LastMessage == nil || s.LastMessage.Content != "tudo bem?" {
		t.Errorf("preview = %+v", s.LastMessage)
	}
}

func TestInboundEchoPromotesOptimisticMessage(t *testing.T) {
	r := newTestRig(t)
	r.connect(t)

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.engine.Send("oi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "frame published", func() bool { return len(r.tp.published()) >= 1 })

	sent := r.tp.published()[0].body.(messagePayload)

	// The gateway echoes the send back with the server-assigned id.
	r.tp.deliver(t, inboxMessages("user-1"), messagePayload{
		SessionID:       "shop-1",
		Content:         "oi",
		SenderRole:      "USER",
		CreatedAt:       sent.CreatedAt + 40,
		ClientMessageID: sent.ClientMessageID,
		MessageID:       "srv-1",
	})

	waitFor(t, "promotion", func() bool {
		msgs := r.engine.Messages("shop-1")
		return len(msgs) == 1 && msgs[0].ID.Kind == chat.IDConfirmed
	})
	msgs := r.engine.Messages("shop-1")
	if msgs[0].ID.Value != "srv-1" {
		t.Errorf("id = %q, want srv-1", msgs[0].ID.Value)
	}
	if msgs[0].CreatedAt != sent.CreatedAt+40 {
		t.Errorf("createdAt = %d, want server timestamp", msgs[0].CreatedAt)
	}
	if msgs[0].SenderRole != chat.RoleSelf {
		t.Errorf("role = %q, want self", msgs[0].SenderRole)
	}
}

func TestOpenLoadsHistoryOnce(t *testing.T) {
	r := newTestRig(t)
	r.api.history["shop-1"] = [][]rest.HistoryMessage{
		{
			{ID: "m-1", Content: "bom dia", SentBy: "SHOP", CreatedAt: 1000},
			{ID: "m-2", Content: "oi", SentBy: "USER", CreatedAt: 2000},
		},
		{
			{ID: "m-3", Content: "preciso de ajuda", SentBy: "USER", CreatedAt: 3000},
		},
	}

	evts, unsub := r.bus.Subscribe("chat.history_loaded", 4)
	defer unsub()

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}

	select {
	case <-evts:
	case <-time.After(2 * time.Second):
		t.Fatal("history_loaded never published")
	}

	msgs := r.engine.Messages("shop-1")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if msgs[i].CreatedAt != want {
			t.Errorf("message %d at %d, want %d", i, msgs[i].CreatedAt, want)
		}
	}
	if msgs[0].SenderRole != chat.RoleCounterpart || msgs[1].SenderRole != chat.RoleSelf {
		t.Errorf("roles mapped wrong: %q, %q", msgs[0].SenderRole, msgs[1].SenderRole)
	}

	waitFor(t, "mark-read", func() bool { return len(r.api.markReadCalls()) == 1 })

	// Reopening must not refetch.
	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	waitFor(t, "second mark-read", func() bool { return len(r.api.markReadCalls()) == 2 })
	if got := len(r.engine.Messages("shop-1")); got != 3 {
		t.Fatalf("after reopen got %d messages, want 3", got)
	}
}

func TestOpenResetsUnreadEvenWhenMarkReadFails(t *testing.T) {
	r := newTestRig(t)
	r.api.markReadErr = errors.New("backend down")

	r.tp.deliver(t, inboxMessages("user-1"), messagePayload{
		SessionID:  "shop-1",
		Content:    "oi",
		SenderRole: "SHOP",
		CreatedAt:  1000,
		MessageID:  "m-1",
	})
	waitFor(t, "unread increment", func() bool {
		s := r.engine.Sessions()
		return len(s) == 1 && s[0].UnreadCount == 1
	})

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := r.engine.Sessions()[0].UnreadCount; got != 0 {
		t.Fatalf("unread = %d after open, want 0", got)
	}
}

func TestStartChatFailureSurfacesAndLeavesNoSession(t *testing.T) {
	r := newTestRig(t)
	r.api.startErr = errors.New("counterpart gone")

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err == nil {
		t.Fatal("want error from open")
	}
	if got := len(r.engine.Sessions()); got != 0 {
		t.Fatalf("got %d sessions after failed open", got)
	}
}

func TestTypingOnlyTracksActiveSession(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}

	evts, unsub := r.bus.Subscribe("typing.", 8)
	defer unsub()

	// Hint for a non-active session is ignored.
	r.tp.deliver(t, inboxTyping("user-1"), typingPayload{SessionID: "shop-2", SenderRole: "SHOP"})
	// Echo of our own hint is ignored.
	r.tp.deliver(t, inboxTyping("user-1"), typingPayload{SessionID: "shop-1", SenderRole: "USER"})
	// Counterpart typing in the active session counts.
	r.tp.deliver(t, inboxTyping("user-1"), typingPayload{SessionID: "shop-1", SenderRole: "SHOP"})

	select {
	case evt := <-evts:
		if evt.Kind != "typing.started" || evt.Payload.(string) != "shop-1" {
			t.Fatalf("unexpected event %s %v", evt.Kind, evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing.started never published")
	}
	if r.engine.IsTyping("shop-2") {
		t.Error("non-active session marked typing")
	}

	// The indicator expires on its own.
	select {
	case evt := <-evts:
		if evt.Kind != "typing.stopped" {
			t.Fatalf("unexpected event %s", evt.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing.stopped never published")
	}
	if r.engine.IsTyping("shop-1") {
		t.Error("indicator still set after expiry")
	}
}

func TestSignalTypingPublishesForActiveSession(t *testing.T) {
	r := newTestRig(t)
	r.connect(t)

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}

	r.engine.SignalTyping()
	waitFor(t, "typing frame", func() bool {
		for _, f := range r.tp.published() {
			if f.destination == typingDestination {
				return true
			}
		}
		return false
	})
}

func TestEndRemovesSessionAndClearsState(t *testing.T) {
	r := newTestRig(t)

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}
	r.tp.deliver(t, inboxMessages("user-1"), messagePayload{
		SessionID:  "shop-1",
		Content:    "oi",
		SenderRole: "SHOP",
		CreatedAt:  1000,
		MessageID:  "m-1",
	})
	waitFor(t, "message stored", func() bool { return len(r.engine.Messages("shop-1")) == 1 })

	if err := r.engine.End(context.Background(), "shop-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if got := len(r.engine.Sessions()); got != 0 {
		t.Fatalf("got %d sessions after end", got)
	}
	if got := len(r.engine.Messages("shop-1")); got != 0 {
		t.Fatalf("got %d messages after end", got)
	}
	if r.engine.ActiveSession() != "" {
		t.Error("active session survived end")
	}
}

func TestEndFailureKeepsSession(t *testing.T) {
	r := newTestRig(t)
	r.api.endErr = errors.New("backend down")

	if err := r.engine.Open(context.Background(), "shop-1", "Loja"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.engine.End(context.Background(), "shop-1"); err == nil {
		t.Fatal("want error from end")
	}
	if got := len(r.engine.Sessions()); got != 1 {
		t.Fatalf("got %d sessions, want the session kept", got)
	}
}
