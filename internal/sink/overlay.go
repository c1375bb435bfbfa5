package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// Overlay pushes messages to WebSocket clients, typically a browser source
// in streaming software. New clients first receive the retained history.
//
// Overlay is safe for concurrent use.
type Overlay struct {
	maxHistory int
	metrics    *observe.Metrics
	accept     *websocket.AcceptOptions

	mu      sync.Mutex
	history []Message
	clients map[*overlayClient]struct{}
}

type overlayClient struct {
	send chan Message
	once sync.Once
}

func (c *overlayClient) close() { c.once.Do(func() { close(c.send) }) }

// OverlayOption configures an [Overlay].
type OverlayOption func(*Overlay)

// WithOverlayMetrics records connected clients on m.
func WithOverlayMetrics(m *observe.Metrics) OverlayOption {
	return func(o *Overlay) { o.metrics = m }
}

// WithOriginPatterns allows cross-origin clients matching patterns.
func WithOriginPatterns(patterns ...string) OverlayOption {
	return func(o *Overlay) { o.accept.OriginPatterns = patterns }
}

// NewOverlay returns an Overlay retaining the last history messages.
func NewOverlay(history int, opts ...OverlayOption) *Overlay {
	o := &Overlay{
		maxHistory: max(history, 0),
		accept:     &websocket.AcceptOptions{},
		clients:    make(map[*overlayClient]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Name implements [Sink].
func (o *Overlay) Name() string { return "websocket" }

// Deliver records m in the history and queues it for every client. A client
// whose queue is full is disconnected.
func (o *Overlay) Deliver(_ context.Context, m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.maxHistory > 0 {
		o.history = append(o.history, m)
		if n := len(o.history) - o.maxHistory; n > 0 {
			o.history = append(o.history[:0:0], o.history[n:]...)
		}
	}
	for c := range o.clients {
		select {
		case c.send <- m:
		default:
			slog.Warn("overlay client too slow, disconnecting")
			delete(o.clients, c)
			c.close()
		}
	}
	return nil
}

// History returns the retained messages, oldest first.
func (o *Overlay) History() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.history...)
}

// Clients returns the number of connected clients.
func (o *Overlay) Clients() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.clients)
}

// Close disconnects every client.
func (o *Overlay) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for c := range o.clients {
		delete(o.clients, c)
		c.close()
	}
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and streams messages as
// JSON text frames until either side goes away.
func (o *Overlay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, o.accept)
	if err != nil {
		slog.Debug("overlay: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := o.register()
	defer o.unregister(c)

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			if err := writeMessage(ctx, conn, m); err != nil {
				slog.Debug("overlay: write failed", "err", err)
				return
			}
		}
	}
}

func (o *Overlay) register() *overlayClient {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := &overlayClient{send: make(chan Message, clientBuffer+len(o.history))}
	for _, m := range o.history {
		c.send <- m
	}
	o.clients[c] = struct{}{}
	o.metrics.OverlayClients.Add(context.Background(), 1)
	return c
}

func (o *Overlay) unregister(c *overlayClient) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.clients[c]; ok {
		delete(o.clients, c)
		c.close()
	}
	o.metrics.OverlayClients.Add(context.Background(), -1)
}

func writeMessage(ctx context.Context, conn *websocket.Conn, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sink: overlay: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
