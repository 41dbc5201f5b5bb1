package chat

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"SocialGW/logger"
	"SocialGW/service/store"
	errs "SocialGW/tools/errs"
	"SocialGW/tools/safe"
)

// NonceLength is the exact byte length of the client-side encryption nonce.
const NonceLength = 24

// MessageDispatcher validates, enriches, broadcasts and persists chat
// messages. Broadcast is optimistic: the room sees the message before the
// write lands, and the sender alone learns the durable outcome through the
// persistence ack.
type MessageDispatcher struct {
	rooms *RoomGateway
	convs store.ConversationStore
	msgs  store.MessageStore
	users store.UserDirectory
}

func NewMessageDispatcher(rooms *RoomGateway, convs store.ConversationStore, msgs store.MessageStore, users store.UserDirectory) *MessageDispatcher {
	return &MessageDispatcher{rooms: rooms, convs: convs, msgs: msgs, users: users}
}

// Send runs the full pipeline. Any returned error is reported to the sender
// only and guarantees zero broadcast and zero persistence attempt.
func (d *MessageDispatcher) Send(ctx context.Context, ent *Entry, in *InboundMessage) error {
	conv, err := d.convs.FindByID(ctx, in.ConversationID)
	if err != nil {
		return errs.ErrPersistenceFailure.WrapMsg("error finding conversation")
	}
	if conv == nil {
		return errs.ErrNotFound.WrapMsg("could not find conversation")
	}
	if err := d.rooms.RequireActive(ent.ConnID, in.ConversationID); err != nil {
		return err
	}

	var reply *ReplySnippet
	involved := map[string]string{}
	if in.InReplyTo != "" {
		reply, err = d.resolveReply(ctx, in, involved)
		if err != nil {
			return err
		}
	}

	if in.IsEncrypted {
		if err := d.validateEncrypted(ctx, in); err != nil {
			return err
		}
	} else if strings.TrimSpace(in.ChatText) == "" {
		return errs.ErrInvalidInput.WrapMsg("empty text sent")
	}

	// One id and one timestamp for both the broadcast and the write, so the
	// optimistic copy and the durable record always correlate.
	id := primitive.NewObjectID().Hex()
	now := time.Now().UnixMilli()

	out := &OutboundMessage{
		ID:                 id,
		PublicID:           ent.UserPublicID,
		IsEncrypted:        in.IsEncrypted,
		ChatText:           in.ChatText,
		DatePosted:         now,
		DateUpdated:        now,
		CryptographicNonce: in.CryptographicNonce,
		EncryptedChatText:  in.EncryptedChatText,
		InvolvedIDs:        involved,
		Reactions:          []store.Reaction{},
		InReplyTo:          reply,
		Attachments:        in.Attachments,
	}
	if in.IsEncrypted {
		out.ChatText = ""
	}

	d.rooms.Broadcast(in.ConversationID, EncodeFrame(EvtMessageReceived, out), ent.ConnID)

	record := &store.Message{
		ID:                 id,
		ConversationID:     in.ConversationID,
		IsEncrypted:        in.IsEncrypted,
		SenderID:           ent.UserInternalID,
		ChatText:           out.ChatText,
		DatePosted:         now,
		DateUpdated:        now,
		CryptographicNonce: in.CryptographicNonce,
		EncryptedChatText:  in.EncryptedChatText,
		InvolvedIDs:        involved,
		Reactions:          []store.Reaction{},
		InReplyTo:          in.InReplyTo,
		Attachments:        in.Attachments,
	}
	conn := ent.Conn
	safe.Go(func() {
		// Detached from the request context: closing the socket must not
		// cancel an already-announced write.
		ack := PersistAckData{OK: true, Message: out}
		if err := d.msgs.Create(context.Background(), record); err != nil {
			logger.Errorf("[dispatcher] persist failed msg=%s err=%v", id, err)
			ack.OK = false
			ack.Reason = "error with saving message"
		}
		conn.Send(EncodeFrame(EvtMessagePersisted, ack))
	})
	return nil
}

// resolveReply loads the replied-to message and denormalizes a snippet of it,
// including the sender identity at time of reply. A vanished sender degrades
// to empty snippet fields; a missing or cross-conversation target rejects the
// send outright.
func (d *MessageDispatcher) resolveReply(ctx context.Context, in *InboundMessage, involved map[string]string) (*ReplySnippet, error) {
	target, err := d.msgs.FindByID(ctx, in.InReplyTo)
	if err != nil {
		return nil, errs.ErrPersistenceFailure.WrapMsg("error finding message being replied to")
	}
	if target == nil || target.ConversationID != in.ConversationID {
		return nil, errs.ErrNotFound.WrapMsg("could not find message being replied to")
	}

	snippet := &ReplySnippet{
		ID:                 target.ID,
		IsEncrypted:        target.IsEncrypted,
		ChatText:           target.ChatText,
		DatePosted:         target.DatePosted,
		DateUpdated:        target.DateUpdated,
		CryptographicNonce: target.CryptographicNonce,
		EncryptedChatText:  target.EncryptedChatText,
	}
	involved["repliedToPubId"] = ""

	if target.SenderID == "" {
		return snippet, nil // server message, no author to resolve
	}
	author, err := d.users.PublicProfile(ctx, target.SenderID)
	if err != nil {
		return nil, errs.ErrPersistenceFailure.WrapMsg("error finding user being replied to")
	}
	if author != nil {
		snippet.PublicID = author.PublicID
		snippet.SenderName = author.Name
		snippet.SenderDisplayName = author.DisplayName
		snippet.SenderImageKey = author.AvatarKey
		involved["repliedToPubId"] = author.PublicID
	}
	return snippet, nil
}

func (d *MessageDispatcher) validateEncrypted(ctx context.Context, in *InboundMessage) error {
	if len(in.CryptographicNonce) != NonceLength {
		return errs.ErrInvalidInput.WrapMsg("bad nonce")
	}
	hasText := false
	for _, ct := range in.EncryptedChatText {
		if strings.TrimSpace(ct.EncryptedString) != "" {
			hasText = true
			break
		}
	}
	if !hasText {
		return errs.ErrInvalidInput.WrapMsg("empty text sent")
	}
	for _, ct := range in.EncryptedChatText {
		inUse, err := d.convs.HasEncryptionKeyInUse(ctx, in.ConversationID, ct.KeyID)
		if err != nil {
			return errs.ErrPersistenceFailure.WrapMsg("error checking encryption keys")
		}
		if inUse {
			return nil
		}
	}
	return errs.ErrInvalidInput.WrapMsg("empty text sent", "reason", "no referenced key in use")
}
