// Package channel carries typed JSON envelopes between a page and its
// server-side session over a websocket.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrUnknownType is returned by Dispatch for a message type without a handler.
var ErrUnknownType = errors.New("unknown message type")

// Envelope is one message on the channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Sender pushes typed messages to the page.
type Sender interface {
	Send(msgType string, data any) error
}

// HandlerFunc handles the payload of one inbound message.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

type route struct {
	fn    HandlerFunc
	async bool
}

// Router maps inbound message types to handlers.
type Router struct {
	routes map[string]route
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Handle registers fn for msgType. The read loop waits for fn to return
// before reading the next message.
func (r *Router) Handle(msgType string, fn HandlerFunc) {
	r.routes[msgType] = route{fn: fn}
}

// HandleAsync registers fn for msgType to run in its own goroutine, for
// slow calls that must not hold up later messages.
func (r *Router) HandleAsync(msgType string, fn HandlerFunc) {
	r.routes[msgType] = route{fn: fn, async: true}
}

// Dispatch runs the handler registered for env.Type synchronously.
func (r *Router) Dispatch(ctx context.Context, env Envelope) error {
	rt, ok := r.routes[env.Type]
	if !ok {
		return fmt.Errorf("dispatch %q: %w", env.Type, ErrUnknownType)
	}
	return rt.fn(ctx, env.Data)
}

// Conn is a websocket carrying envelopes. Send is safe for concurrent use.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Upgrader upgrades page requests. An empty origin list accepts any origin.
func Upgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// MaxMessageSize is the largest envelope a page may send. A bigger one
// ends the session.
const MaxMessageSize = 1 << 20

// Accept upgrades the request to a channel connection.
func Accept(up *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return NewConn(ws), nil
}

// NewConn wraps an established websocket.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(MaxMessageSize)
	return &Conn{ws: ws}
}

// Send marshals data and writes it as an envelope of type msgType.
func (c *Conn) Send(msgType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg, err := json.Marshal(Envelope{Type: msgType, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

// Close closes the underlying websocket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Serve reads envelopes until the peer disconnects or ctx is done and
// hands each to the router. Handler failures are logged and do not end
// the session. Serve returns after all async handlers have finished.
func (c *Conn) Serve(ctx context.Context, r *Router) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		c.ws.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
				return fmt.Errorf("read message: %w", err)
			}
			return nil
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			slog.Debug("invalid message format", "error", err)
			continue
		}

		rt, ok := r.routes[env.Type]
		if !ok {
			slog.Debug("unhandled message", "type", env.Type)
			continue
		}
		if !rt.async {
			c.run(ctx, env, rt.fn)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.run(ctx, env, rt.fn)
		}()
	}
}

func (c *Conn) run(ctx context.Context, env Envelope, fn HandlerFunc) {
	if err := fn(ctx, env.Data); err != nil {
		slog.Error("failed to handle message", "type", env.Type, "error", err)
	}
}
