// ABOUTME: Websocket implementation of Transport built on gorilla/websocket
// ABOUTME: One read loop per connection dispatches in receipt order and re-dials with backoff

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-desk/internal/desk"
)

const (
	writeTimeout = 10 * time.Second

	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithBackoff sets the initial and maximum reconnect delay.
func WithBackoff(initial, maxDelay time.Duration) ConnOption {
	return func(c *Conn) {
		if initial > 0 {
			c.backoff = initial
		}
		if maxDelay >= c.backoff {
			c.maxBackoff = maxDelay
		}
	}
}

// WithConnLogger sets the logger.
func WithConnLogger(logger *slog.Logger) ConnOption {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger.With("component", "realtime")
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ConnOption {
	return func(c *Conn) { c.dialer = d }
}

// Conn is a websocket Transport. It is safe for concurrent use.
type Conn struct {
	listeners

	url        string
	token      string
	dialer     *websocket.Dialer
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	ws     *websocket.Conn
	gen    uint64
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConn creates an unconnected websocket transport for url. The token is
// sent as a bearer Authorization header on every dial.
func NewConn(url, token string, opts ...ConnOption) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		url:        url,
		token:      token,
		dialer:     websocket.DefaultDialer,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		logger:     slog.Default().With("component", "realtime"),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the server and starts the read loop. Calling Connect on an
// open connection is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: transport closed", desk.ErrNotConnected)
	}
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.install(ws)
	c.logger.Info("realtime connected", "url", c.url)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", desk.ErrNetwork, c.url, err)
	}
	return ws, nil
}

// install makes ws the current connection and starts its read loop.
func (c *Conn) install(ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.gen++
	gen := c.gen
	c.ws = ws
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(ws, gen)
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	defer c.wg.Done()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.gen == gen && !c.closed
			if current {
				c.ws = nil
			}
			c.mu.Unlock()
			ws.Close()

			if current {
				c.logger.Warn("realtime connection lost", "error", err)
				c.wg.Add(1)
				go c.reconnect(gen)
			}
			return
		}

		ev, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				c.logger.Debug("ignoring unknown event", "error", err)
			} else {
				c.logger.Warn("dropping malformed frame", "error", err)
			}
			continue
		}
		c.dispatch(ev)
	}
}

// reconnect re-dials with exponential backoff until it succeeds, the
// transport is closed, or a newer connection replaces the lost one.
func (c *Conn) reconnect(lostGen uint64) {
	defer c.wg.Done()

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		stale := c.closed || c.gen != lostGen
		c.mu.Unlock()
		if stale {
			return
		}

		ws, err := c.dial(c.ctx)
		if err == nil {
			c.mu.Lock()
			stale = c.closed || c.gen != lostGen
			c.mu.Unlock()
			if stale {
				ws.Close()
				return
			}
			c.install(ws)
			c.logger.Info("realtime reconnected", "attempt", attempt)
			c.reconnected()
			return
		}

		c.logger.Warn("realtime reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

// Emit sends one intent frame.
func (c *Conn) Emit(ctx context.Context, name string, payload any) error {
	data, err := Encode(name, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return desk.ErrNotConnected
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", desk.ErrNetwork, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", desk.ErrNetwork, name, err)
	}
	return nil
}

// On registers a handler for the named event.
func (c *Conn) On(name string, h Handler) string { return c.on(name, h) }

// OnReconnect registers a hook run after each automatic reconnect or Reset.
func (c *Conn) OnReconnect(fn func()) string { return c.onReconnect(fn) }

// Off removes a handler or hook. The connection stays open.
func (c *Conn) Off(id string) { c.off(id) }

// Reset drops the current connection and dials a fresh one. Listeners are
// kept and reconnect hooks run once the new connection is up.
func (c *Conn) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: transport closed", desk.ErrNotConnected)
	}
	old := c.ws
	c.ws = nil
	c.gen++
	c.mu.Unlock()

	if old != nil {
		c.closeSocket(old)
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.install(ws)
	c.logger.Info("realtime connection reset")
	c.reconnected()
	return nil
}

// Close tears the connection down and stops reconnecting.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		c.closeSocket(ws)
	}
	c.wg.Wait()
	c.logger.Info("realtime connection closed")
	return nil
}

func (c *Conn) closeSocket(ws *websocket.Conn) {
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	ws.Close()
}

// Connected reports whether a socket is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}
