package store

import "context"

// Absence is a normal outcome for all finders: (nil, nil), never an error.
// Errors mean the storage engine could not answer.

type ConversationStore interface {
	FindByID(ctx context.Context, id string) (*Conversation, error)
	FindAllContainingMember(ctx context.Context, userID string) ([]Conversation, error)
	HasEncryptionKeyInUse(ctx context.Context, conversationID, keyID string) (bool, error)
}

type MessageStore interface {
	Create(ctx context.Context, msg *Message) error
	FindByID(ctx context.Context, id string) (*Message, error)
	// UpsertReaction is idempotent: add uses $addToSet, remove uses $pull, so
	// replaying the same intent never duplicates or errors.
	UpsertReaction(ctx context.Context, messageID, reaction, actorPubID string, add bool) error
}

type UserDirectory interface {
	PublicProfile(ctx context.Context, userInternalID string) (*UserProfile, error)
}
