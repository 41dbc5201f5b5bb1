package chat

import (
	"encoding/json"

	"SocialGW/logger"
	"SocialGW/service/store"
)

// Wire format: one JSON envelope per websocket text message, both directions.

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server -> client events.
const (
	EvtClientConnected    = "client-connected"
	EvtPeerOnline         = "peer-online"
	EvtPeerOffline        = "peer-offline"
	EvtPresenceSnapshot   = "presence-snapshot"
	EvtJoinedConversation = "joined-conversation"
	EvtJoinFailed         = "join-failed"
	EvtMessageReceived    = "message-received"
	EvtMessagePersisted   = "message-persisted"
	EvtReactionIntent     = "reaction-intent"
	EvtSendFailed         = "send-failed"
	EvtToggleFailed       = "toggle-failed"
	EvtTimedOut           = "timed-out"
)

// Client -> server commands.
const (
	CmdJoinConversation = "join-conversation"
	CmdSendMessage      = "send-message"
	CmdToggleReaction   = "toggle-reaction"
	CmdBackground       = "background"
	CmdForeground       = "foreground"
)

type PeerMeta struct {
	PubID       string `json:"pubId"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	ImageKey    string `json:"imageKey"`
}

type PeerOfflineData struct {
	PubID string `json:"pubId"`
}

type SnapshotData struct {
	Peers  []PeerMeta `json:"peers"`
	Failed bool       `json:"failed,omitempty"` // peer lookup could not reach storage
}

type FailureData struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type JoinData struct {
	ConversationID string `json:"conversationId"`
}

type ToggleData struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
	Add       *bool  `json:"add"`
}

type ReactionIntentData struct {
	Reaction  string `json:"reaction"`
	MessageID string `json:"messageId"`
	ActorID   string `json:"actorId"`
	Add       bool   `json:"add"`
}

type PersistAckData struct {
	OK      bool             `json:"ok"`
	Reason  string           `json:"reason,omitempty"`
	Message *OutboundMessage `json:"message"`
}

// InboundMessage is the send-message command payload.
type InboundMessage struct {
	ConversationID     string                `json:"conversationId"`
	IsEncrypted        bool                  `json:"isEncrypted"`
	ChatText           string                `json:"chatText"`
	CryptographicNonce []byte                `json:"cryptographicNonce"`
	EncryptedChatText  []store.EncryptedText `json:"encryptedChatText"`
	InReplyTo          string                `json:"inReplyTo"`
	Attachments        []string              `json:"attachments"`
}

// ReplySnippet is the denormalized copy of the replied-to message embedded in
// an outgoing payload. Snapshotted at send time, never updated afterwards.
type ReplySnippet struct {
	ID                 string                `json:"id"`
	PublicID           string                `json:"publicId"`
	SenderName         string                `json:"senderName"`
	SenderDisplayName  string                `json:"senderDisplayName"`
	SenderImageKey     string                `json:"senderImageKey"`
	IsEncrypted        bool                  `json:"isEncrypted"`
	ChatText           string                `json:"chatText"`
	DatePosted         int64                 `json:"datePosted"`
	DateUpdated        int64                 `json:"dateUpdated"`
	CryptographicNonce []byte                `json:"cryptographicNonce"`
	EncryptedChatText  []store.EncryptedText `json:"encryptedChatText"`
}

// OutboundMessage is the enriched message broadcast to the room. The same
// value is echoed in the persistence ack so clients can correlate by id.
type OutboundMessage struct {
	ID                 string                `json:"id"`
	PublicID           string                `json:"publicId"` // sender public id
	IsEncrypted        bool                  `json:"isEncrypted"`
	ChatText           string                `json:"chatText"`
	DatePosted         int64                 `json:"datePosted"`
	DateUpdated        int64                 `json:"dateUpdated"`
	CryptographicNonce []byte                `json:"cryptographicNonce"`
	EncryptedChatText  []store.EncryptedText `json:"encryptedChatText"`
	IsServerMessage    bool                  `json:"isServerMessage"`
	InvolvedIDs        map[string]string     `json:"involvedIds"`
	Reactions          []store.Reaction      `json:"messageReactions"`
	InReplyTo          *ReplySnippet         `json:"inReplyTo,omitempty"`
	Attachments        []string              `json:"attachments"`
}

// EncodeFrame marshals an event envelope. Payload types are all local structs,
// so a marshal failure is a programming error; it is logged and dropped.
func EncodeFrame(event string, data any) []byte {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			logger.Errorf("[frames] marshal %s payload: %v", event, err)
			return nil
		}
		raw = b
	}
	out, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		logger.Errorf("[frames] marshal %s frame: %v", event, err)
		return nil
	}
	return out
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, err
	}
	return f, nil
}
