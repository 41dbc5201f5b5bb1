package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"SocialGW/logger"
)

// Cross-node event relay. Every gateway node publishes its room broadcasts
// and presence events here and re-emits what the others publish, so a room
// or peer set split across nodes still sees everything. Fire and forget:
// the in-process delivery path never waits on NATS, and a relay outage only
// degrades cross-node visibility.

const (
	subjectRoom  = "gw.evt.room"
	subjectUsers = "gw.evt.users"
)

type Event struct {
	Node    string          `json:"node"`
	Room    string          `json:"room,omitempty"`
	UserIDs []string        `json:"userIds,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Delivery is the local re-emission half, implemented by the chat server.
type Delivery interface {
	DeliverRoom(conversationID string, payload []byte)
	DeliverUsers(internalUserIDs []string, payload []byte)
}

type Client struct {
	nc   *nats.Conn
	node string
	subs []*nats.Subscription
}

func Connect(servers []string, nodeID string) (*Client, error) {
	if len(servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	nc, err := nats.Connect(strings.Join(servers, ","),
		nats.Name("socialgw-"+nodeID),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, node: nodeID}, nil
}

func (c *Client) PublishRoom(conversationID string, payload []byte) {
	c.publish(subjectRoom, Event{Node: c.node, Room: conversationID, Payload: payload})
}

func (c *Client) PublishUsers(internalUserIDs []string, payload []byte) {
	c.publish(subjectUsers, Event{Node: c.node, UserIDs: internalUserIDs, Payload: payload})
}

func (c *Client) publish(subject string, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("[relay] marshal event: %v", err)
		return
	}
	if err := c.nc.Publish(subject, raw); err != nil {
		logger.Warnf("[relay] publish %s failed: %v", subject, err)
	}
}

// Subscribe starts re-emitting sibling-node events into d. Events tagged
// with this node's id are skipped; the local fast path already delivered
// them.
func (c *Client) Subscribe(d Delivery) error {
	roomSub, err := c.nc.Subscribe(subjectRoom, func(m *nats.Msg) {
		ev, ok := c.decode(m.Data)
		if !ok {
			return
		}
		d.DeliverRoom(ev.Room, ev.Payload)
	})
	if err != nil {
		return err
	}
	userSub, err := c.nc.Subscribe(subjectUsers, func(m *nats.Msg) {
		ev, ok := c.decode(m.Data)
		if !ok {
			return
		}
		d.DeliverUsers(ev.UserIDs, ev.Payload)
	})
	if err != nil {
		_ = roomSub.Unsubscribe()
		return err
	}
	c.subs = append(c.subs, roomSub, userSub)
	return nil
}

func (c *Client) decode(raw []byte) (*Event, bool) {
	ev := &Event{}
	if err := json.Unmarshal(raw, ev); err != nil {
		logger.Warnf("[relay] bad event: %v", err)
		return nil, false
	}
	if ev.Node == c.node {
		return nil, false
	}
	return ev, true
}

func (c *Client) Close() {
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	if c.nc != nil {
		c.nc.Close()
	}
}
