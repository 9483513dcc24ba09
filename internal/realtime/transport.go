// ABOUTME: Transport is the shared realtime connection both console modes listen on
// ABOUTME: Memory is an in-process Transport used by tests and offline runs

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-desk/internal/desk"
)

// Handler receives inbound events. Handlers run on the transport's dispatch
// goroutine in receipt order and must not block for long.
type Handler func(Event)

// Transport is one process-wide realtime connection. Listeners are removed
// with Off; Close tears the connection down for good.
type Transport interface {
	Emit(ctx context.Context, name string, payload any) error
	On(name string, h Handler) string
	OnReconnect(fn func()) string
	Off(id string)
	Reset(ctx context.Context) error
	Close() error
}

type listener struct {
	id      string
	event   string
	handler Handler
}

// listeners is the registry shared by Conn and Memory. Dispatch order follows
// registration order.
type listeners struct {
	mu        sync.RWMutex
	entries   []listener
	reconnect []listener
}

func (l *listeners) on(name string, h Handler) string {
	id := uuid.New().String()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, listener{id: id, event: name, handler: h})
	return id
}

func (l *listeners) onReconnect(fn func()) string {
	id := uuid.New().String()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reconnect = append(l.reconnect, listener{id: id, handler: func(Event) { fn() }})
	return id
}

func (l *listeners) off(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = without(l.entries, id)
	l.reconnect = without(l.reconnect, id)
}

func without(ls []listener, id string) []listener {
	out := ls[:0]
	for _, e := range ls {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

func (l *listeners) dispatch(ev Event) {
	l.mu.RLock()
	var hs []Handler
	for _, e := range l.entries {
		if e.event == ev.Name() {
			hs = append(hs, e.handler)
		}
	}
	l.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

func (l *listeners) reconnected() {
	l.mu.RLock()
	hs := make([]Handler, 0, len(l.reconnect))
	for _, e := range l.reconnect {
		hs = append(hs, e.handler)
	}
	l.mu.RUnlock()

	for _, h := range hs {
		h(nil)
	}
}

func (l *listeners) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries) + len(l.reconnect)
}

// Emitted is one intent recorded by Memory.
type Emitted struct {
	Name    string
	Payload json.RawMessage
}

// Memory is an in-process Transport. Emits are recorded and events are
// injected with Deliver.
type Memory struct {
	listeners

	mu      sync.Mutex
	emitted []Emitted
	closed  bool
	resets  int
	failing error
}

// NewMemory creates an open in-memory transport.
func NewMemory() *Memory {
	return &Memory{}
}

// Emit records the intent.
func (m *Memory) Emit(_ context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return desk.ErrNotConnected
	}
	if m.failing != nil {
		return m.failing
	}
	m.emitted = append(m.emitted, Emitted{Name: name, Payload: data})
	return nil
}

// On registers a handler for the named event.
func (m *Memory) On(name string, h Handler) string { return m.on(name, h) }

// OnReconnect registers a hook run after each reconnect or reset.
func (m *Memory) OnReconnect(fn func()) string { return m.onReconnect(fn) }

// Off removes a handler or hook.
func (m *Memory) Off(id string) { m.off(id) }

// Reset simulates a fresh connection.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	m.resets++
	m.closed = false
	m.mu.Unlock()
	m.reconnected()
	return nil
}

// Close marks the transport closed; later emits fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Deliver dispatches ev to the registered handlers synchronously.
func (m *Memory) Deliver(ev Event) { m.dispatch(ev) }

// Reconnect runs the reconnect hooks as if the link dropped and came back.
func (m *Memory) Reconnect() { m.reconnected() }

// FailEmits makes every later Emit return err. Pass nil to recover.
func (m *Memory) FailEmits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = err
}

// Emitted returns the recorded intents.
func (m *Memory) Emitted() []Emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Emitted, len(m.emitted))
	copy(out, m.emitted)
	return out
}

// EmittedNames returns just the recorded intent names.
func (m *Memory) EmittedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.emitted))
	for i, e := range m.emitted {
		out[i] = e.Name
	}
	return out
}

// Resets returns how many times Reset was called.
func (m *Memory) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Listeners returns the number of registered handlers and hooks.
func (m *Memory) Listeners() int { return m.count() }
