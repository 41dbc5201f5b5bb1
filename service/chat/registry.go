package chat

import (
	"sync"
)

type DisplayMeta struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	AvatarKey   string `json:"imageKey"`
}

// Entry is one live connection. Owned by the Registry; everything handed out
// is a snapshot copy, so only the registry ever mutates an entry and always
// under its lock.
type Entry struct {
	ConnID               string
	UserPublicID         string
	UserInternalID       string
	DeviceID             string
	ActiveConversationID string // set only after a successful join
	Meta                 DisplayMeta
	Conn                 Sender
}

type userDeviceKey struct {
	user   string // public id
	device string
}

// Registry is the process-wide table of live connections: primary map keyed
// by connection id plus two secondary indexes, all updated atomically under
// one lock so they can never drift.
type Registry struct {
	mu           sync.RWMutex
	byConn       map[string]*Entry
	byUserDevice map[userDeviceKey]*Entry
	byUser       map[string]map[string]*Entry // internal user id -> conn id -> entry
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:       make(map[string]*Entry),
		byUserDevice: make(map[userDeviceKey]*Entry),
		byUser:       make(map[string]map[string]*Entry),
	}
}

// Register inserts a new entry. If the same user+device pair already has a
// live entry, that entry is removed first and returned so the caller can
// close its transport; at most one session per device can ever be live.
func (r *Registry) Register(e *Entry) (evicted *Entry) {
	key := userDeviceKey{user: e.UserPublicID, device: e.DeviceID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old := r.byUserDevice[key]; old != nil {
		r.dropLocked(old)
		evicted = snapshot(old)
	}

	r.byConn[e.ConnID] = e
	r.byUserDevice[key] = e
	m := r.byUser[e.UserInternalID]
	if m == nil {
		m = make(map[string]*Entry)
		r.byUser[e.UserInternalID] = m
	}
	m[e.ConnID] = e
	return evicted
}

// Remove deletes the entry for connID. hadOtherDevice reports whether the
// same user still has another live connection, which callers use to suppress
// the offline broadcast.
func (r *Registry) Remove(connID string) (removed *Entry, hadOtherDevice bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.byConn[connID]
	if e == nil {
		return nil, false
	}
	r.dropLocked(e)
	hadOtherDevice = len(r.byUser[e.UserInternalID]) > 0
	return snapshot(e), hadOtherDevice
}

func (r *Registry) dropLocked(e *Entry) {
	delete(r.byConn, e.ConnID)
	delete(r.byUserDevice, userDeviceKey{user: e.UserPublicID, device: e.DeviceID})
	if m := r.byUser[e.UserInternalID]; m != nil {
		delete(m, e.ConnID)
		if len(m) == 0 {
			delete(r.byUser, e.UserInternalID)
		}
	}
}

// SetActiveConversation records which room the connection is attached to.
// False when the connection is gone, which callers treat as a protocol
// violation rather than an error.
func (r *Registry) SetActiveConversation(connID, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.byConn[connID]
	if e == nil {
		return false
	}
	e.ActiveConversationID = conversationID
	return true
}

func (r *Registry) FindByConnection(connID string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byConn[connID])
}

// ListByConversation returns every entry currently attached to the room.
func (r *Registry) ListByConversation(conversationID string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, e := range r.byConn {
		if e.ActiveConversationID == conversationID {
			out = append(out, snapshot(e))
		}
	}
	return out
}

// ListByUsers returns the live entries of the given internal user ids.
func (r *Registry) ListByUsers(internalIDs []string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, id := range internalIDs {
		for _, e := range r.byUser[id] {
			out = append(out, snapshot(e))
		}
	}
	return out
}

func snapshot(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
