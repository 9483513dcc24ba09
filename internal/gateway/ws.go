// ABOUTME: Websocket endpoint that joins agents to rooms and applies their intents
// ABOUTME: Every connection listens on the lobby plus the rooms it has joined

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/conversation"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/realtime"
	"github.com/2389/coven-desk/internal/store"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxFrameSize = 64 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected agent.
type wsClient struct {
	gw       *Gateway
	conn     *websocket.Conn
	identity *desk.Identity
	send     chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	mu    sync.Mutex
	rooms map[string]wsSubscription
}

type wsSubscription struct {
	subID  string
	cancel context.CancelFunc
}

// handleWS upgrades the request and serves the connection until it closes.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsClient{
		gw:       g,
		conn:     conn,
		identity: id,
		send:     make(chan []byte, wsSendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		logger:   g.logger.With("agent_id", id.UserID, "remote", r.RemoteAddr),
		rooms:    make(map[string]wsSubscription),
	}
	c.logger.Info("agent connected")

	c.subscribe(conversation.Lobby)
	go c.writeLoop()
	c.readLoop()

	cancel()
	conn.Close()
	c.logger.Info("agent disconnected")
}

// subscribe forwards frames from room into the client's send queue. It
// reports false when the client was already in the room.
func (c *wsClient) subscribe(room string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.rooms[room]; ok {
		return sub.subID, false
	}

	subCtx, cancel := context.WithCancel(c.ctx)
	ch, subID := c.gw.broadcaster.Subscribe(subCtx, room)
	c.rooms[room] = wsSubscription{subID: subID, cancel: cancel}

	go func() {
		for frame := range ch {
			select {
			case c.send <- frame:
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return subID, true
}

func (c *wsClient) unsubscribe(room string) bool {
	c.mu.Lock()
	sub, ok := c.rooms[room]
	delete(c.rooms, room)
	c.mu.Unlock()
	if !ok {
		return false
	}
	sub.cancel()
	c.gw.broadcaster.Unsubscribe(room, sub.subID)
	return true
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.cancel()
				return
			}
		}
	}
}

func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(wsMaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if err := c.handleIntent(f); err != nil {
			c.logger.Warn("intent failed", "event", f.Event, "error", err)
		}
	}
}

var errMissingRoom = errors.New("room_id is required")

func (c *wsClient) handleIntent(f realtime.Frame) error {
	switch f.Event {
	case realtime.IntentJoin:
		var p realtime.RoomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		return c.join(p)
	case realtime.IntentLeave:
		var p realtime.RoomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		return c.leave(p)
	case realtime.IntentSend:
		var p realtime.SendPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		return c.sendMessage(p)
	case realtime.IntentAccept:
		var p realtime.AcceptPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		return c.acceptAnnounce(p)
	case realtime.IntentTransfer:
		var p realtime.TransferPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		return c.transferAnnounce(p)
	default:
		c.logger.Debug("ignoring unknown intent", "event", f.Event)
		return nil
	}
}

func (c *wsClient) join(p realtime.RoomPayload) error {
	if p.RoomID == "" {
		return errMissingRoom
	}
	subID, added := c.subscribe(p.RoomID)
	if !added {
		return nil
	}
	c.logger.Debug("joined room", "room_id", p.RoomID)
	c.gw.publishMembership(realtime.RoomMembershipEvent{
		RoomID: p.RoomID,
		UserID: c.identity.UserID,
		Role:   c.identity.Role,
		Action: realtime.MembershipJoined,
	}, subID)
	return nil
}

func (c *wsClient) leave(p realtime.RoomPayload) error {
	if p.RoomID == "" || p.RoomID == conversation.Lobby {
		return errMissingRoom
	}
	if !c.unsubscribe(p.RoomID) {
		return nil
	}
	c.logger.Debug("left room", "room_id", p.RoomID)
	c.gw.publishMembership(realtime.RoomMembershipEvent{
		RoomID: p.RoomID,
		UserID: c.identity.UserID,
		Role:   c.identity.Role,
		Action: realtime.MembershipLeft,
	}, "")
	return nil
}

// sendMessage persists an agent message and echoes it to the whole room,
// sender included.
func (c *wsClient) sendMessage(p realtime.SendPayload) error {
	if !c.identity.HasCapability(desk.CapSendMessage) {
		return desk.ErrDenied
	}
	body := strings.TrimSpace(p.Body)
	if p.RoomID == "" || body == "" {
		return desk.ErrEmptyBody
	}

	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	_, err := c.gw.PostMessage(ctx, p.RoomID, c.identity.UserID, c.identity.Role, body)
	return err
}

func (c *wsClient) acceptAnnounce(p realtime.AcceptPayload) error {
	if p.RoomID == "" {
		return errMissingRoom
	}
	agentID := p.AgentID
	if agentID == "" {
		agentID = c.identity.UserID
	}
	c.gw.publishMembership(realtime.RoomMembershipEvent{
		RoomID: p.RoomID,
		UserID: agentID,
		Role:   c.identity.Role,
		Action: realtime.MembershipAccepted,
	}, "")
	return nil
}

func (c *wsClient) transferAnnounce(p realtime.TransferPayload) error {
	if p.RoomID == "" {
		return errMissingRoom
	}
	c.gw.publishGroupListChanged("")
	return nil
}

// PostMessage stores a message for the session routed through chatGroupID,
// echoes it to the room and moves the session to the top of every list.
func (g *Gateway) PostMessage(ctx context.Context, chatGroupID, senderID, senderRole, body string) (store.Message, error) {
	sess, err := g.store.GetSession(ctx, chatGroupID)
	if err != nil {
		return store.Message{}, err
	}
	if sess.Status == desk.StatusEnded {
		return store.Message{}, desk.ErrDenied
	}

	now := g.now()
	m := store.Message{
		ID:         uuid.New().String(),
		SessionID:  sess.SessionID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Body:       body,
		CreatedAt:  now,
	}
	if err := g.store.SaveMessage(ctx, m); err != nil {
		return store.Message{}, err
	}
	g.publishMessage(chatGroupID, m)

	if touched, err := g.store.TouchSession(ctx, chatGroupID, now); err == nil {
		g.publishMoveToTop(touched)
	} else {
		g.logger.Warn("failed to touch session", "chat_group_id", chatGroupID, "error", err)
	}
	return m, nil
}
