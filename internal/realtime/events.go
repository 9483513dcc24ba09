// ABOUTME: Closed set of inbound realtime events and the outbound intent payloads
// ABOUTME: Frames are {"event": name, "data": payload} JSON objects

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-desk/internal/desk"
)

// Inbound event names.
const (
	EventMessage          = "message"
	EventGroupListChanged = "group_list_changed"
	EventMoveToTop        = "move_to_top"
	EventRoomMembership   = "room_membership"
)

// Outbound intent names.
const (
	IntentJoin     = "join"
	IntentLeave    = "leave"
	IntentSend     = "send_message"
	IntentAccept   = "accept_session"
	IntentTransfer = "transfer_session"
)

// ErrUnknownEvent is returned by Decode for frames outside the inbound set.
var ErrUnknownEvent = errors.New("unknown event")

// Event is one decoded inbound event. The set of implementations is closed.
type Event interface {
	Name() string
	isEvent()
}

// MessageEvent carries one conversation message.
type MessageEvent struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// GroupListChangedEvent says the server-side group list changed in some way.
type GroupListChangedEvent struct {
	Scope string `json:"scope,omitempty"`
}

// MoveToTopEvent says one session changed position or department.
type MoveToTopEvent struct {
	Session desk.Session `json:"session"`
}

// MembershipAction is what happened to a room member.
type MembershipAction string

const (
	MembershipJoined   MembershipAction = "joined"
	MembershipLeft     MembershipAction = "left"
	MembershipAccepted MembershipAction = "accepted"
)

// RoomMembershipEvent reports joins, leaves and accepts in a room.
type RoomMembershipEvent struct {
	RoomID string           `json:"room_id"`
	UserID string           `json:"user_id"`
	Role   string           `json:"role"`
	Action MembershipAction `json:"action"`
}

func (MessageEvent) Name() string          { return EventMessage }
func (GroupListChangedEvent) Name() string { return EventGroupListChanged }
func (MoveToTopEvent) Name() string        { return EventMoveToTop }
func (RoomMembershipEvent) Name() string   { return EventRoomMembership }

func (MessageEvent) isEvent()          {}
func (GroupListChangedEvent) isEvent() {}
func (MoveToTopEvent) isEvent()        {}
func (RoomMembershipEvent) isEvent()   {}

// ToMessage converts the event into a store message classified against localUserID.
func (e MessageEvent) ToMessage(localUserID string) desk.Message {
	return desk.NewMessage(e.ID, e.SessionID, e.SenderID, e.SenderRole, e.Body, e.Timestamp, localUserID)
}

// RoomPayload is the body of join and leave intents.
type RoomPayload struct {
	RoomID string `json:"room_id"`
	Role   string `json:"role"`
	UserID string `json:"user_id"`
}

// SendPayload is the body of a send_message intent.
type SendPayload struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
	Body      string `json:"body"`
}

// AcceptPayload is the body of an accept_session intent.
type AcceptPayload struct {
	RoomID  string `json:"room_id"`
	AgentID string `json:"agent_id"`
}

// TransferPayload is the body of a transfer_session intent.
type TransferPayload struct {
	RoomID       string `json:"room_id"`
	TargetDeptID string `json:"target_dept_id"`
}

// Frame is the wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in a frame.
func Encode(name string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", name, err)
	}
	return json.Marshal(Frame{Event: name, Data: data})
}

// Decode parses one inbound frame into its event variant.
func Decode(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return DecodeFrame(f)
}

// DecodeFrame converts an already split frame into its event variant.
func DecodeFrame(f Frame) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch f.Event {
	case EventMessage:
		var e MessageEvent
		err = unmarshalData(f.Data, &e)
		if err == nil && (e.ID == "" || e.SessionID == "") {
			err = errors.New("message event missing id or session_id")
		}
		ev = e
	case EventGroupListChanged:
		var e GroupListChangedEvent
		err = unmarshalData(f.Data, &e)
		ev = e
	case EventMoveToTop:
		var e MoveToTopEvent
		err = unmarshalData(f.Data, &e)
		if err == nil && e.Session.ChatGroupID == "" {
			err = errors.New("move_to_top event missing chat_group_id")
		}
		ev = e
	case EventRoomMembership:
		var e RoomMembershipEvent
		err = unmarshalData(f.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.Event, err)
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
