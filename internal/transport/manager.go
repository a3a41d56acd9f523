package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lojinha/chatd/internal/auth"
	"github.com/lojinha/chatd/internal/bus"
	"github.com/lojinha/chatd/internal/status"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
)

// ErrNotConnected is returned by Publish when no connection is available.
// Callers route the payload to the pending queue instead; it is never a
// fatal condition.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives the body of inbound frames for a destination. It is
// called on the read-pump goroutine and must not block.
type Handler func(body []byte)

// Config controls the connection and retry policy.
type Config struct {
	// URL of the websocket gateway.
	URL string
	// ReconnectDelay is the fixed wait between redials. No backoff:
	// eventual reconnection is preferred over backoff sophistication.
	ReconnectDelay time.Duration
	// MaxAttempts caps consecutive failed dials. 0 retries forever.
	MaxAttempts int
}

// Manager owns the persistent gateway connection for one chat surface and
// drives the DISCONNECTED → CONNECTING → CONNECTED machine. A single writer
// goroutine owns the socket for writes; inbound frames are dispatched to
// destination handlers from the read pump.
type Manager struct {
	cfg     Config
	header  http.Header
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu       sync.Mutex
	handlers map[string]Handler
	sendCh   chan Frame // nil while not connected

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a connection manager for the identity. The bearer
// credential is attached to the websocket handshake.
func NewManager(cfg Config, ac *auth.Context, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	header := http.Header{}
	header.Set("Authorization", ac.BearerHeader())
	return &Manager{
		cfg:      cfg,
		header:   header,
		machine:  machine,
		bus:      b,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string]Handler),
	}
}

// Connect starts the supervisor goroutine driving the connect/reconnect
// loop. It returns immediately; connection progress is observable through
// transport.* bus events.
func (m *Manager) Connect(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Disconnect stops the supervisor and closes the connection.
func (m *Manager) Disconnect() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Subscribe registers a handler for a destination. If currently connected
// the SUBSCRIBE frame goes out immediately; either way the destination is
// re-subscribed after every reconnect.
func (m *Manager) Subscribe(destination string, h Handler) {
	m.mu.Lock()
	m.handlers[destination] = h
	ch := m.sendCh
	m.mu.Unlock()

	if ch != nil {
		select {
		case ch <- Frame{Type: FrameSubscribe, Destination: destination}:
		default:
		}
	}
}

// Unsubscribe removes a destination handler.
func (m *Manager) Unsubscribe(destination string) {
	m.mu.Lock()
	delete(m.handlers, destination)
	m.mu.Unlock()
}

// Publish sends a payload to a destination. Returns ErrNotConnected when no
// connection is available (or the writer is backlogged); it never blocks
// and never panics.
func (m *Manager) Publish(destination string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}

	m.mu.Lock()
	ch := m.sendCh
	m.mu.Unlock()
	if ch == nil || m.machine.Current() != status.Connected {
		return ErrNotConnected
	}

	select {
	case ch <- Frame{Type: FrameSend, Destination: destination, Body: data}:
		return nil
	default:
		return ErrNotConnected
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer func() { _ = m.machine.Transition(status.Disconnected) }()

	_ = m.machine.Transition(status.Connecting)
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, m.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			m.logger.Warn("gateway dial failed",
				zap.Error(err),
				zap.Int("attempt", attempts))
			if m.cfg.MaxAttempts > 0 && attempts >= m.cfg.MaxAttempts {
				m.logger.Error("reconnect attempts exhausted",
					zap.Int("attempts", attempts))
				m.bus.Emit("notice.error", "chat connection lost")
				return
			}
			if !sleep(ctx, m.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		attempts = 0
		m.serveConn(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("gateway connection dropped, reconnecting",
			zap.Duration("delay", m.cfg.ReconnectDelay))
		_ = m.machine.Transition(status.Connecting)
		m.bus.Emit("transport.disconnected", nil)
		if !sleep(ctx, m.cfg.ReconnectDelay) {
			return
		}
	}
}

// serveConn pumps one established connection until it dies or ctx ends.
func (m *Manager) serveConn(ctx context.Context, conn *websocket.Conn) {
	sendCh := make(chan Frame, 256)

	m.mu.Lock()
	m.sendCh = sendCh
	subs := make([]string, 0, len(m.handlers))
	for d := range m.handlers {
		subs = append(subs, d)
	}
	m.mu.Unlock()

	_ = m.machine.Transition(status.Connected)
	m.logger.Info("gateway connected", zap.String("url", m.cfg.URL))

	// Subscriptions are not durable across drops: re-issue them before
	// anyone gets to publish on this connection.
	for _, d := range subs {
		sendCh <- Frame{Type: FrameSubscribe, Destination: d}
	}
	m.bus.Emit("transport.connected", nil)

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writePump(connCtx, conn, sendCh)
	}()

	m.readPump(conn)

	cancel()
	m.mu.Lock()
	m.sendCh = nil
	m.mu.Unlock()
	_ = conn.Close()
	wg.Wait()
}

func (m *Manager) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// A frame that fails to parse is dropped, never crashes the loop.
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f.Type != FrameMessage {
			continue
		}

		m.mu.Lock()
		h := m.handlers[f.Destination]
		m.mu.Unlock()
		if h == nil {
			m.logger.Warn("frame for unhandled destination",
				zap.String("destination", f.Destination))
			continue
		}
		h(f.Body)
	}
}

func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, sendCh <-chan Frame) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				m.logger.Warn("gateway write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// sleep waits for d or until ctx ends. Reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
