package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OnlineMirror reflects this node's live sessions into Redis so sibling
// nodes and ops tooling can answer "is user X online anywhere" without
// asking every gateway. The in-process registry stays authoritative; the
// mirror is best effort and expires on its own if a node dies.

const defaultSessionTTL = 2 * time.Hour

// Session key per (user, device); a per-user set indexes the device keys.
// Offline removes both atomically so the index can never point at a live
// key that was already deleted.
var luaOffline = redis.NewScript(`
local idx  = KEYS[1]
local sess = KEYS[2]
local existed = redis.call("DEL", sess)
redis.call("SREM", idx, sess)
if redis.call("SCARD", idx) == 0 then
  redis.call("DEL", idx)
end
return existed
`)

type OnlineMirror struct {
	rdb  *redis.Client
	node string
	ttl  time.Duration
}

func NewOnlineMirror(rdb *redis.Client, nodeID string, ttl time.Duration) *OnlineMirror {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &OnlineMirror{rdb: rdb, node: nodeID, ttl: ttl}
}

func (m *OnlineMirror) sessionKey(userPublicID, deviceID string) string {
	return fmt.Sprintf("sess:{%s}:d:%s", userPublicID, deviceID)
}

func (m *OnlineMirror) indexKey(userPublicID string) string {
	return fmt.Sprintf("sidx:{%s}", userPublicID)
}

func (m *OnlineMirror) SetOnline(ctx context.Context, userPublicID, deviceID, connID string) error {
	sess := m.sessionKey(userPublicID, deviceID)
	idx := m.indexKey(userPublicID)

	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, sess, m.node+"/"+connID, m.ttl)
	pipe.SAdd(ctx, idx, sess)
	pipe.Expire(ctx, idx, m.ttl*2)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *OnlineMirror) SetOffline(ctx context.Context, userPublicID, deviceID, connID string) error {
	sess := m.sessionKey(userPublicID, deviceID)
	idx := m.indexKey(userPublicID)
	return luaOffline.Run(ctx, m.rdb, []string{idx, sess}).Err()
}

// Touch refreshes the TTL; wired to the heartbeat path.
func (m *OnlineMirror) Touch(ctx context.Context, userPublicID, deviceID string) error {
	return m.rdb.Expire(ctx, m.sessionKey(userPublicID, deviceID), m.ttl).Err()
}

// IsOnlineAnywhere answers across all nodes via the index set.
func (m *OnlineMirror) IsOnlineAnywhere(ctx context.Context, userPublicID string) (bool, error) {
	n, err := m.rdb.SCard(ctx, m.indexKey(userPublicID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
