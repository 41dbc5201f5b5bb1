package chat

import (
	"context"

	errs "SocialGW/tools/errs"

	"SocialGW/service/store"
)

// Relay mirrors events to sibling gateway nodes. Implementations are
// fire-and-forget; nothing in the core waits on them.
type Relay interface {
	PublishRoom(conversationID string, payload []byte)
	PublishUsers(internalUserIDs []string, payload []byte)
}

// RoomGateway decides which conversation a connection may act on. A room is
// nothing more than the set of live entries whose active conversation id
// matches; attaching and broadcasting both go through the registry, so room
// membership can never drift from the connection table.
type RoomGateway struct {
	reg   *Registry
	convs store.ConversationStore
	relay Relay // nil when running single-node
}

func NewRoomGateway(reg *Registry, convs store.ConversationStore, relay Relay) *RoomGateway {
	return &RoomGateway{reg: reg, convs: convs, relay: relay}
}

// Join validates the conversation and the caller's membership, then attaches
// the connection to the room. Membership alone is not enough to act on a
// conversation; the explicit join is what arms RequireActive.
func (g *RoomGateway) Join(ctx context.Context, ent *Entry, conversationID string) error {
	conv, err := g.convs.FindByID(ctx, conversationID)
	if err != nil {
		return errs.ErrPersistenceFailure.WrapMsg("error finding conversation", "conversationId", conversationID)
	}
	if conv == nil {
		return errs.ErrNotFound.WrapMsg("could not find conversation")
	}
	if !conv.HasMember(ent.UserInternalID) {
		return errs.ErrNotAuthorized.WrapMsg("client not found in conversation")
	}
	if !g.reg.SetActiveConversation(ent.ConnID, conversationID) {
		// Entry vanished between command receipt and join; protocol violation.
		return errs.ErrNotActive.WrapMsg("connection not registered")
	}
	return nil
}

// RequireActive is the guard in front of every send and toggle: the
// connection must have joined exactly this conversation in the current
// session, else the action is rejected with zero side effects.
func (g *RoomGateway) RequireActive(connID, conversationID string) error {
	ent := g.reg.FindByConnection(connID)
	if ent == nil || ent.ActiveConversationID != conversationID {
		return errs.ErrNotActive
	}
	return nil
}

// Broadcast delivers a payload to every connection in the room, minus
// exceptConnID (empty string excludes nobody). Delivery is an in-order,
// non-blocking enqueue per connection; remote nodes get a relay copy.
func (g *RoomGateway) Broadcast(conversationID string, payload []byte, exceptConnID string) {
	g.broadcastLocal(conversationID, payload, exceptConnID)
	if g.relay != nil {
		g.relay.PublishRoom(conversationID, payload)
	}
}

// BroadcastLocal is the delivery half used when re-emitting relayed events;
// it must not publish back to the relay.
func (g *RoomGateway) BroadcastLocal(conversationID string, payload []byte) {
	g.broadcastLocal(conversationID, payload, "")
}

func (g *RoomGateway) broadcastLocal(conversationID string, payload []byte, exceptConnID string) {
	if len(payload) == 0 {
		return
	}
	for _, e := range g.reg.ListByConversation(conversationID) {
		if e.ConnID == exceptConnID {
			continue
		}
		e.Conn.Send(payload)
	}
}
