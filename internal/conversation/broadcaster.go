// ABOUTME: In-memory fan-out of encoded realtime frames to room subscribers
// ABOUTME: Rooms are chat group ids plus a lobby every connected agent listens on

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// Lobby is the room every connected agent is subscribed to for
	// directory-level broadcasts.
	Lobby = "lobby"
)

// Broadcaster provides in-memory pub/sub of encoded frames. Subscribers
// register for a room and receive every frame published to it afterwards.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan []byte // room -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan []byte),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for frames on room. Returns a channel that
// receives frames and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, room string) (<-chan []byte, string) {
	subID := uuid.New().String()
	ch := make(chan []byte, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[room]; !ok {
		b.subscribers[room] = make(map[string]chan []byte)
	}
	b.subscribers[room][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "room", room, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(room, subID)
	}()

	return ch, subID
}

// Publish sends a frame to all subscribers of room. If excludeSubID is
// non-empty, that subscriber is skipped.
// Non-blocking: frames are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(room string, frame []byte, excludeSubID string) int {
	b.mu.RLock()
	subs, ok := b.subscribers[room]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return 0
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	delivered := 0
	for id, ch := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- frame:
			delivered++
		default:
			b.logger.Debug("dropped frame for slow subscriber", "room", room, "sub_id", id)
		}
	}
	b.mu.RUnlock()
	return delivered
}

// Subscribers returns the number of subscribers on room.
func (b *Broadcaster) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[room])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(room, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[room]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, room)
	}

	b.logger.Debug("subscriber removed", "room", room, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for room, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, room)
	}

	b.logger.Debug("broadcaster closed")
}
