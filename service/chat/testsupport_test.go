package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"SocialGW/service/store"
)

// fakeSender records every frame handed to it, in order.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *fakeSender) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.frames = append(s.frames, cp)
	return true
}

func (s *fakeSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// events returns the event names of all recorded frames, in receive order.
func (s *fakeSender) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, raw := range s.frames {
		var f Frame
		if json.Unmarshal(raw, &f) == nil {
			out = append(out, f.Event)
		}
	}
	return out
}

func (s *fakeSender) count(event string) int {
	n := 0
	for _, e := range s.events() {
		if e == event {
			n++
		}
	}
	return n
}

// dataOf decodes the payload of the i-th frame carrying event into out.
func (s *fakeSender) dataOf(t *testing.T, event string, i int, out any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := 0
	for _, raw := range s.frames {
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event != event {
			continue
		}
		if seen == i {
			require.NoError(t, json.Unmarshal(f.Data, out))
			return
		}
		seen++
	}
	t.Fatalf("frame %d of event %q not found (got %v)", i, event, s.events())
}

// fakeRelay records what would be published to sibling nodes.
type fakeRelay struct {
	mu    sync.Mutex
	rooms []string
	users [][]string
}

func (r *fakeRelay) PublishRoom(conversationID string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, conversationID)
}

func (r *fakeRelay) PublishUsers(internalUserIDs []string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, append([]string(nil), internalUserIDs...))
}

func (r *fakeRelay) userPublishes() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.users...)
}

type upsertCall struct {
	MessageID string
	Reaction  string
	ActorID   string
	Add       bool
}

// fakeStore implements all three store interfaces over in-memory maps, with
// error injection and an optional gate to hold reaction writes in flight.
type fakeStore struct {
	mu    sync.Mutex
	convs map[string]*store.Conversation
	msgs  map[string]*store.Message
	users map[string]*store.UserProfile

	convErr   error
	listErr   error
	msgErr    error
	userErr   error
	createErr error

	created    []*store.Message
	upserts    []upsertCall
	upsertErrs []error // consumed one per call, nil entries succeed

	upsertStarted chan struct{} // signalled on entry when non-nil
	upsertGate    chan struct{} // received from before returning when non-nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs: make(map[string]*store.Conversation),
		msgs:  make(map[string]*store.Message),
		users: make(map[string]*store.UserProfile),
	}
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	return f.convs[id], nil
}

func (f *fakeStore) FindAllContainingMember(ctx context.Context, userID string) ([]store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.Conversation
	for _, c := range f.convs {
		if c.HasMember(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) HasEncryptionKeyInUse(ctx context.Context, conversationID, keyID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return false, f.convErr
	}
	c := f.convs[conversationID]
	if c == nil {
		return false, nil
	}
	for _, k := range c.PublicEncryptionKeys {
		if k.KeyID == keyID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Create(ctx context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *msg
	f.created = append(f.created, &cp)
	f.msgs[msg.ID] = &cp
	return nil
}

func (f *fakeStore) findMessage(ctx context.Context, id string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgErr != nil {
		return nil, f.msgErr
	}
	m := f.msgs[id]
	if m == nil {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) UpsertReaction(ctx context.Context, messageID, reaction, actorPubID string, add bool) error {
	if f.upsertStarted != nil {
		f.upsertStarted <- struct{}{}
	}
	if f.upsertGate != nil {
		<-f.upsertGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.upsertErrs) > 0 {
		err = f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
	}
	if err != nil {
		return err
	}
	f.upserts = append(f.upserts, upsertCall{MessageID: messageID, Reaction: reaction, ActorID: actorPubID, Add: add})
	if m := f.msgs[messageID]; m != nil {
		if add && !m.HasReaction(reaction, actorPubID) {
			m.Reactions = append(m.Reactions, store.Reaction{Reaction: reaction, PubID: actorPubID})
		}
		if !add {
			kept := m.Reactions[:0]
			for _, r := range m.Reactions {
				if r.Reaction != reaction || r.PubID != actorPubID {
					kept = append(kept, r)
				}
			}
			m.Reactions = kept
		}
	}
	return nil
}

func (f *fakeStore) createdMessages() []*store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.Message(nil), f.created...)
}

func (f *fakeStore) upsertCalls() []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsertCall(nil), f.upserts...)
}

func (f *fakeStore) setMsgErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgErr = err
}

func (f *fakeStore) PublicProfile(ctx context.Context, userInternalID string) (*store.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	u := f.users[userInternalID]
	if u == nil {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// fakeMessages adapts fakeStore to the MessageStore finder name, which clashes
// with the conversation finder on the same struct.
type fakeMessages struct{ *fakeStore }

func (f fakeMessages) FindByID(ctx context.Context, id string) (*store.Message, error) {
	return f.findMessage(ctx, id)
}

func testEntry(connID, pubID, internalID, device string) (*Entry, *fakeSender) {
	conn := &fakeSender{}
	return &Entry{
		ConnID:         connID,
		UserPublicID:   pubID,
		UserInternalID: internalID,
		DeviceID:       device,
		Meta:           DisplayMeta{Name: pubID + "-name", DisplayName: pubID + "-display"},
		Conn:           conn,
	}, conn
}
