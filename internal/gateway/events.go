// ABOUTME: Encodes backend state changes as realtime frames and publishes them to rooms
// ABOUTME: Directory-level frames go to the lobby, conversation frames to the chat group room

package gateway

import (
	"github.com/2389/coven-desk/internal/conversation"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/realtime"
	"github.com/2389/coven-desk/internal/store"
)

// publish encodes payload and fans it out to room. excludeSubID skips one
// subscriber.
func (g *Gateway) publish(room, event string, payload any, excludeSubID string) int {
	frame, err := realtime.Encode(event, payload)
	if err != nil {
		g.logger.Error("failed to encode frame", "event", event, "error", err)
		return 0
	}
	n := g.broadcaster.Publish(room, frame, excludeSubID)
	g.logger.Debug("published frame", "room", room, "event", event, "delivered", n)
	return n
}

func (g *Gateway) publishMoveToTop(s desk.Session) {
	g.publish(conversation.Lobby, realtime.EventMoveToTop, realtime.MoveToTopEvent{Session: s}, "")
}

func (g *Gateway) publishGroupListChanged(scope string) {
	g.publish(conversation.Lobby, realtime.EventGroupListChanged, realtime.GroupListChangedEvent{Scope: scope}, "")
}

func (g *Gateway) publishMessage(chatGroupID string, m store.Message) {
	g.publish(chatGroupID, realtime.EventMessage, toMessageResponse(m, chatGroupID), "")
}

// publishMembership announces a membership change in the room. Accepts are
// also announced in the lobby so every queue drops the session.
func (g *Gateway) publishMembership(ev realtime.RoomMembershipEvent, excludeSubID string) {
	g.publish(ev.RoomID, realtime.EventRoomMembership, ev, excludeSubID)
	if ev.Action == realtime.MembershipAccepted {
		g.publish(conversation.Lobby, realtime.EventRoomMembership, ev, "")
	}
}
