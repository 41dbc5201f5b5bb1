package chat

import (
	"context"
	"sync"

	"SocialGW/logger"
	"SocialGW/service/store"
	errs "SocialGW/tools/errs"
	"SocialGW/tools/safe"
)

type toggleKey struct {
	messageID  string
	reaction   string
	actorPubID string
}

// toggleState exists only while a write is in flight for its key. queued is
// the single not-yet-persisted net intent; rapid toggles overwrite it rather
// than queueing a history.
type toggleState struct {
	queued *bool
}

// ReactionToggleCoordinator serializes concurrent reaction toggles so that at
// most one persistence write per (message, reaction, actor) is ever in
// flight, while every intent is still broadcast immediately. Whatever intent
// arrives last is what ends up durable.
type ReactionToggleCoordinator struct {
	mu     sync.Mutex
	states map[toggleKey]*toggleState

	rooms *RoomGateway
	msgs  store.MessageStore
}

func NewReactionToggleCoordinator(rooms *RoomGateway, msgs store.MessageStore) *ReactionToggleCoordinator {
	return &ReactionToggleCoordinator{
		states: make(map[toggleKey]*toggleState),
		rooms:  rooms,
		msgs:   msgs,
	}
}

// Toggle validates the intent, broadcasts it to the room, and either starts a
// write or coalesces into the one already running. Returned errors are
// reported to the actor only, with no broadcast and no write.
func (c *ReactionToggleCoordinator) Toggle(ctx context.Context, ent *Entry, messageID, reaction string, wantAdd bool) error {
	if reaction == "" {
		return errs.ErrInvalidInput.WrapMsg("invalid reaction sent")
	}
	msg, err := c.msgs.FindByID(ctx, messageID)
	if err != nil {
		return errs.ErrPersistenceFailure.WrapMsg("error finding message")
	}
	if msg == nil {
		return errs.ErrNotFound.WrapMsg("could not find message")
	}
	if err := c.rooms.RequireActive(ent.ConnID, msg.ConversationID); err != nil {
		return err
	}

	// Every intent is user-visible immediately, even the ones that coalesce
	// into a single write below.
	c.rooms.Broadcast(msg.ConversationID, EncodeFrame(EvtReactionIntent, ReactionIntentData{
		Reaction:  reaction,
		MessageID: messageID,
		ActorID:   ent.UserPublicID,
		Add:       wantAdd,
	}), "")

	key := toggleKey{messageID: messageID, reaction: reaction, actorPubID: ent.UserPublicID}

	c.mu.Lock()
	if st, inFlight := c.states[key]; inFlight {
		w := wantAdd
		st.queued = &w // last write wins
		c.mu.Unlock()
		return nil
	}
	c.states[key] = &toggleState{}
	c.mu.Unlock()

	conn := ent.Conn
	room := msg.ConversationID
	safe.Go(func() { c.drain(key, room, conn, wantAdd) })
	return nil
}

// drain issues writes for key until no queued intent remains. Exactly one
// drain goroutine exists per key at any time; the state map entry is its
// ownership token.
func (c *ReactionToggleCoordinator) drain(key toggleKey, room string, conn Sender, want bool) {
	for {
		// Detached context: the write already happened from the user's point
		// of view, the store bounds its own timeout.
		err := c.msgs.UpsertReaction(context.Background(), key.messageID, key.reaction, key.actorPubID, want)
		if err != nil {
			logger.Errorf("[reactions] upsert failed msg=%s reaction=%s err=%v", key.messageID, key.reaction, err)
			c.correct(key, room, conn)
		}

		c.mu.Lock()
		st := c.states[key]
		if st != nil && st.queued != nil {
			want = *st.queued
			st.queued = nil
			c.mu.Unlock()
			continue
		}
		delete(c.states, key)
		c.mu.Unlock()
		return
	}
}

// correct re-broadcasts the persisted state after a failed write, since the
// optimistic intent broadcast may now be wrong.
func (c *ReactionToggleCoordinator) correct(key toggleKey, room string, conn Sender) {
	msg, err := c.msgs.FindByID(context.Background(), key.messageID)
	if err != nil || msg == nil {
		conn.Send(EncodeFrame(EvtToggleFailed, FailureData{
			Code:   errs.CodePersistenceFailure,
			Reason: "failed to save",
		}))
		return
	}
	c.rooms.Broadcast(room, EncodeFrame(EvtReactionIntent, ReactionIntentData{
		Reaction:  key.reaction,
		MessageID: key.messageID,
		ActorID:   key.actorPubID,
		Add:       msg.HasReaction(key.reaction, key.actorPubID),
	}), "")
}
