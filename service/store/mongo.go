package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	ConversationCollection = "conversations"
	MessageCollection      = "messages"
	UserCollection         = "users"
)

var (
	_ ConversationStore = (*MongoConversations)(nil)
	_ MessageStore      = (*MongoMessages)(nil)
	_ UserDirectory     = (*MongoUsers)(nil)
)

// mongoStore is the shared base: one database handle and one timeout. Every
// call gets its own bounded context so a slow mongod degrades to an error
// instead of hanging the connection goroutine.
type mongoStore struct {
	db      *mongo.Database
	timeout time.Duration
}

func (s mongoStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// One type per store interface. ConversationStore and MessageStore both name
// a FindByID, so a single receiver cannot satisfy them together.
type (
	MongoConversations struct{ mongoStore }
	MongoMessages      struct{ mongoStore }
	MongoUsers         struct{ mongoStore }
)

// MongoStores bundles the three store implementations over one database.
type MongoStores struct {
	Conversations *MongoConversations
	Messages      *MongoMessages
	Users         *MongoUsers
}

func NewMongoStores(db *mongo.Database, timeout time.Duration) *MongoStores {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := mongoStore{db: db, timeout: timeout}
	return &MongoStores{
		Conversations: &MongoConversations{base},
		Messages:      &MongoMessages{base},
		Users:         &MongoUsers{base},
	}
}

// ---- ConversationStore ----

func (s *MongoConversations) FindByID(ctx context.Context, id string) (*Conversation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var out Conversation
	err := s.db.Collection(ConversationCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MongoConversations) FindAllContainingMember(ctx context.Context, userID string) ([]Conversation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	cur, err := s.db.Collection(ConversationCollection).Find(ctx, bson.M{"members": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoConversations) HasEncryptionKeyInUse(ctx context.Context, conversationID, keyID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.db.Collection(ConversationCollection).CountDocuments(ctx, bson.M{
		"_id":                                    conversationID,
		"public_encryption_keys.keys_unique_id": keyID,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- MessageStore ----

func (s *MongoMessages) Create(ctx context.Context, msg *Message) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.Collection(MessageCollection).InsertOne(ctx, msg)
	return err
}

func (s *MongoMessages) FindByID(ctx context.Context, id string) (*Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var out Message
	err := s.db.Collection(MessageCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MongoMessages) UpsertReaction(ctx context.Context, messageID, reaction, actorPubID string, add bool) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rec := bson.M{"reaction": reaction, "pub_id": actorPubID}
	var update bson.M
	if add {
		update = bson.M{"$addToSet": bson.M{"message_reactions": rec}}
	} else {
		update = bson.M{"$pull": bson.M{"message_reactions": rec}}
	}
	_, err := s.db.Collection(MessageCollection).UpdateOne(ctx, bson.M{"_id": messageID}, update)
	return err
}

// ---- UserDirectory ----

func (s *MongoUsers) PublicProfile(ctx context.Context, userInternalID string) (*UserProfile, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var out UserProfile
	err := s.db.Collection(UserCollection).FindOne(ctx, bson.M{"_id": userInternalID}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
