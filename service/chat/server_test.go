package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SocialGW/global/config"
	"SocialGW/service/store"
	errs "SocialGW/tools/errs"
)

// fakeMirror records online/offline/touch calls.
type fakeMirror struct {
	mu      sync.Mutex
	touches []string
}

func (m *fakeMirror) SetOnline(ctx context.Context, userPublicID, deviceID, connID string) error {
	return nil
}

func (m *fakeMirror) SetOffline(ctx context.Context, userPublicID, deviceID, connID string) error {
	return nil
}

func (m *fakeMirror) Touch(ctx context.Context, userPublicID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches = append(m.touches, userPublicID+"/"+deviceID)
	return nil
}

func (m *fakeMirror) touched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.touches...)
}

func newServerFixture(t *testing.T) (*Server, *fakeStore) {
	fs := newFakeStore()
	s := NewServer(config.Default(), fs, fakeMessages{fs}, fs, nil, nil)
	t.Cleanup(s.Close)
	return s, fs
}

func TestHandleJoinSuccess(t *testing.T) {
	s, fs := newServerFixture(t)
	fs.convs["conv-1"] = &store.Conversation{ID: "conv-1", Members: []string{"int-a"}}
	ent, conn := testEntry("c1", "pub-a", "int-a", "d")
	s.reg.Register(ent)

	raw, _ := json.Marshal(JoinData{ConversationID: "conv-1"})
	s.handleJoin(context.Background(), s.reg.FindByConnection("c1"), raw)

	require.Equal(t, 1, conn.count(EvtJoinedConversation))
	var out JoinData
	conn.dataOf(t, EvtJoinedConversation, 0, &out)
	assert.Equal(t, "conv-1", out.ConversationID)
}

func TestHandleJoinFailureCarriesCode(t *testing.T) {
	s, _ := newServerFixture(t)
	ent, conn := testEntry("c1", "pub-a", "int-a", "d")
	s.reg.Register(ent)

	raw, _ := json.Marshal(JoinData{ConversationID: "ghost"})
	s.handleJoin(context.Background(), s.reg.FindByConnection("c1"), raw)

	var fail FailureData
	conn.dataOf(t, EvtJoinFailed, 0, &fail)
	assert.Equal(t, errs.CodeNotFound, fail.Code)
	assert.Equal(t, "could not find conversation", fail.Reason)
	assert.False(t, conn.isClosed())
}

func TestHandleJoinUnregisteredConnectionForcesClose(t *testing.T) {
	s, fs := newServerFixture(t)
	fs.convs["conv-1"] = &store.Conversation{ID: "conv-1", Members: []string{"int-a"}}
	ent, conn := testEntry("ghost", "pub-a", "int-a", "d")

	raw, _ := json.Marshal(JoinData{ConversationID: "conv-1"})
	s.handleJoin(context.Background(), ent, raw)

	assert.True(t, conn.isClosed())
	assert.Zero(t, conn.count(EvtJoinFailed), "protocol violations get a reconnect, not an error frame")
}

func TestHandleToggleRequiresExplicitDirection(t *testing.T) {
	s, _ := newServerFixture(t)
	ent, conn := testEntry("c1", "pub-a", "int-a", "d")
	s.reg.Register(ent)

	raw, _ := json.Marshal(map[string]any{"messageId": "m1", "reaction": "heart"})
	s.handleToggle(context.Background(), s.reg.FindByConnection("c1"), raw)

	var fail FailureData
	conn.dataOf(t, EvtToggleFailed, 0, &fail)
	assert.Equal(t, errs.CodeInvalidInput, fail.Code)
	assert.Equal(t, "to add or remove not clarified", fail.Reason)
}

func TestRouterIgnoresUnknownEvents(t *testing.T) {
	s, _ := newServerFixture(t)
	ent, conn := testEntry("c1", "pub-a", "int-a", "d")
	s.reg.Register(ent)

	s.router.Dispatch(context.Background(), ent, &Frame{Event: "no-such-command"})
	assert.Empty(t, conn.events())
}

func TestExpireConnectionNotifiesAndCloses(t *testing.T) {
	s, _ := newServerFixture(t)
	ent, conn := testEntry("c1", "pub-a", "int-a", "d")
	s.reg.Register(ent)

	s.expireConnection("c1", "pub-a")

	assert.Equal(t, 1, conn.count(EvtTimedOut))
	assert.True(t, conn.isClosed())

	// A connection that already vanished is a no-op.
	s.expireConnection("gone", "pub-x")
}

func TestTouchSessionRefreshesMirror(t *testing.T) {
	fs := newFakeStore()
	fm := &fakeMirror{}
	s := NewServer(config.Default(), fs, fakeMessages{fs}, fs, nil, fm)
	t.Cleanup(s.Close)

	ent, _ := testEntry("c1", "pub-a", "int-a", "phone")
	s.reg.Register(ent)

	s.touchSession(s.reg.FindByConnection("c1"))
	require.Eventually(t, func() bool {
		got := fm.touched()
		return len(got) == 1 && got[0] == "pub-a/phone"
	}, waitFor, tick)
}

func TestTouchSessionWithoutMirrorIsNoop(t *testing.T) {
	s, _ := newServerFixture(t)
	ent, _ := testEntry("c1", "pub-a", "int-a", "d")
	s.reg.Register(ent)

	s.touchSession(s.reg.FindByConnection("c1"))
}

func TestFailureMapping(t *testing.T) {
	fail := failure(errs.ErrNotAuthorized.WrapMsg("client not found in conversation"))
	assert.Equal(t, errs.CodeNotAuthorized, fail.Code)
	assert.Equal(t, "client not found in conversation", fail.Reason)

	fail = failure(errs.ErrNotActive)
	assert.Equal(t, errs.CodeNotActive, fail.Code)
	assert.Equal(t, "not connected to conversation", fail.Reason)

	fail = failure(assert.AnError)
	assert.Equal(t, errs.CodeServerInternal, fail.Code)
	assert.Equal(t, "internal error", fail.Reason)
}
