package store

// Bson models for the three collections the realtime core touches. The
// gateway never owns their lifecycle beyond create/update of messages and
// reaction records.

type Conversation struct {
	ID                   string             `bson:"_id"`
	Members              []string           `bson:"members"` // internal user ids
	IsDirectMessage      bool               `bson:"is_direct_message"`
	OwnerID              string             `bson:"owner_id"`
	Title                string             `bson:"conversation_title"`
	Description          string             `bson:"conversation_description"`
	ImageKey             string             `bson:"conversation_image_key"`
	IsEncrypted          bool               `bson:"is_encrypted"`
	PublicEncryptionKeys []EncryptionKeyRef `bson:"public_encryption_keys"`
	AllowScreenShots     bool               `bson:"allow_screen_shots"`
	DateCreated          int64              `bson:"date_created"` // unix ms
}

// EncryptionKeyRef marks a client-side public encryption key as in use on a
// conversation. Outbound encrypted messages must reference at least one.
type EncryptionKeyRef struct {
	KeyID  string `bson:"keys_unique_id" json:"keysUniqueId"`
	UserID string `bson:"user_id" json:"userId"`
}

func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID                 string            `bson:"_id" json:"id"`
	ConversationID     string            `bson:"conversation_id" json:"conversationId"`
	IsEncrypted        bool              `bson:"is_encrypted" json:"isEncrypted"`
	SenderID           string            `bson:"sender_id" json:"-"` // internal id; empty for server messages
	ChatText           string            `bson:"chat_text" json:"chatText"`
	DatePosted         int64             `bson:"date_posted" json:"datePosted"`
	DateUpdated        int64             `bson:"date_updated" json:"dateUpdated"`
	CryptographicNonce []byte            `bson:"cryptographic_nonce" json:"cryptographicNonce"`
	EncryptedChatText  []EncryptedText   `bson:"encrypted_chat_text" json:"encryptedChatText"`
	IsServerMessage    bool              `bson:"is_server_message" json:"isServerMessage"`
	InvolvedIDs        map[string]string `bson:"involved_ids" json:"involvedIds"`
	Reactions          []Reaction        `bson:"message_reactions" json:"messageReactions"`
	InReplyTo          string            `bson:"in_reply_to" json:"inReplyTo"`
	Attachments        []string          `bson:"attachments" json:"attachments"`
}

// EncryptedText is one ciphertext of the same logical message, encrypted for
// one client key. Multi-device conversations carry one entry per key.
type EncryptedText struct {
	KeyID           string `bson:"keys_unique_id" json:"keysUniqueId"`
	EncryptedString string `bson:"encrypted_string" json:"encryptedString"`
}

type Reaction struct {
	Reaction string `bson:"reaction" json:"reaction"`
	PubID    string `bson:"pub_id" json:"pubId"`
}

// HasReaction reports whether actor already has the given reaction recorded.
func (m *Message) HasReaction(reaction, actorPubID string) bool {
	for _, r := range m.Reactions {
		if r.Reaction == reaction && r.PubID == actorPubID {
			return true
		}
	}
	return false
}

// UserProfile is the public slice of a user document. The internal id never
// goes over the wire; peers only ever see the public id.
type UserProfile struct {
	InternalID  string `bson:"_id" json:"-"`
	PublicID    string `bson:"second_id" json:"pubId"`
	Name        string `bson:"name" json:"name"`
	DisplayName string `bson:"display_name" json:"displayName"`
	AvatarKey   string `bson:"profile_image_key" json:"imageKey"`
}
