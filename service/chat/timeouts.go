package chat

import (
	"sync"
	"time"

	"SocialGW/logger"
)

type pendingTimeout struct {
	connID       string
	userPublicID string
	timer        *time.Timer
}

// TimeoutManager grants backgrounded clients a grace window before their
// connection is treated as gone. The pending map entry is the ownership
// token: a timer may only act while its own record is still the one in the
// map, so a cancel or a replacement window can never be fired by a stale
// timer.
type TimeoutManager struct {
	mu      sync.Mutex
	pending map[string]*pendingTimeout
	grace   time.Duration
	expire  func(connID, userPublicID string)
}

func NewTimeoutManager(grace time.Duration, onExpire func(connID, userPublicID string)) *TimeoutManager {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &TimeoutManager{
		pending: make(map[string]*pendingTimeout),
		grace:   grace,
		expire:  onExpire,
	}
}

// OnBackground schedules the deferred disconnect. Duplicate signals for a
// connection that already has a pending timeout are no-ops.
func (m *TimeoutManager) OnBackground(connID, userPublicID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[connID]; exists {
		return
	}
	p := &pendingTimeout{connID: connID, userPublicID: userPublicID}
	p.timer = time.AfterFunc(m.grace, func() { m.fire(p) })
	m.pending[connID] = p
	logger.Debugf("[timeouts] scheduled conn=%s grace=%v", connID, m.grace)
}

// OnForeground cancels the pending timeout, if any.
func (m *TimeoutManager) OnForeground(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pending[connID]
	if p == nil {
		return
	}
	p.timer.Stop()
	delete(m.pending, connID)
	logger.Debugf("[timeouts] cancelled conn=%s", connID)
}

// Cancel is the disconnect-path cleanup; same semantics as OnForeground.
func (m *TimeoutManager) Cancel(connID string) {
	m.OnForeground(connID)
}

func (m *TimeoutManager) fire(p *pendingTimeout) {
	m.mu.Lock()
	if m.pending[p.connID] != p {
		// Cancelled, or the slot now belongs to a newer window scheduled
		// after the cancel. Either way this timer's record is dead.
		m.mu.Unlock()
		return
	}
	delete(m.pending, p.connID)
	m.mu.Unlock()

	logger.Infof("[timeouts] grace expired conn=%s user=%s", p.connID, p.userPublicID)
	m.expire(p.connID, p.userPublicID)
}
