package chat

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"SocialGW/logger"
	"SocialGW/service/store"
	errs "SocialGW/tools/errs"
)

// PresenceCoordinator computes who may learn about a user's liveness and
// emits the online/offline events. Presence is scoped strictly to
// conversation co-membership; users who share no conversation never see each
// other's status.
type PresenceCoordinator struct {
	reg   *Registry
	convs store.ConversationStore
	users store.UserDirectory
	fan   *Fanout
	relay Relay // nil when running single-node
}

func NewPresenceCoordinator(reg *Registry, convs store.ConversationStore, users store.UserDirectory, fan *Fanout, relay Relay) *PresenceCoordinator {
	return &PresenceCoordinator{reg: reg, convs: convs, users: users, fan: fan, relay: relay}
}

// coMemberIDs returns the deduplicated internal ids of every user sharing at
// least one conversation with userInternalID, connected or not.
func (p *PresenceCoordinator) coMemberIDs(ctx context.Context, userInternalID string) ([]string, error) {
	convos, err := p.convs.FindAllContainingMember(ctx, userInternalID)
	if err != nil {
		return nil, errs.ErrPeerLookupFailure.WrapMsg("error finding conversations", "userId", userInternalID)
	}

	seen := make(map[string]struct{})
	var peerIDs []string
	for _, c := range convos {
		for _, m := range c.Members {
			if m == userInternalID {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			peerIDs = append(peerIDs, m)
		}
	}
	return peerIDs, nil
}

// ComputePeers returns the live local entries of every user sharing at least
// one conversation with userInternalID. Zero peers is a normal outcome; an
// error means storage could not be reached and is a distinct
// PeerLookupFailure.
func (p *PresenceCoordinator) ComputePeers(ctx context.Context, userInternalID string) ([]*Entry, error) {
	ids, err := p.coMemberIDs(ctx, userInternalID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return p.reg.ListByUsers(ids), nil
}

// OnConnect tells every online peer that ent's user came online and hands the
// connecting client its initial presence snapshot, deduplicated per peer user.
func (p *PresenceCoordinator) OnConnect(ctx context.Context, ent *Entry) {
	ids, err := p.coMemberIDs(ctx, ent.UserInternalID)
	if err != nil {
		// Degrade to a no-broadcast no-op; the client learns the snapshot failed.
		logger.Warnf("[presence] peer lookup failed user=%s err=%v", ent.UserPublicID, err)
		ent.Conn.Send(EncodeFrame(EvtPresenceSnapshot, SnapshotData{Failed: true}))
		return
	}

	online := EncodeFrame(EvtPeerOnline, PeerMeta{
		PubID:       ent.UserPublicID,
		Name:        ent.Meta.Name,
		DisplayName: ent.Meta.DisplayName,
		ImageKey:    ent.Meta.AvatarKey,
	})
	peers := p.reg.ListByUsers(ids)
	conns := make([]Sender, 0, len(peers))
	peerUsers := make(map[string]*Entry) // internal id -> representative entry
	for _, peer := range peers {
		conns = append(conns, peer.Conn)
		if _, dup := peerUsers[peer.UserInternalID]; !dup {
			peerUsers[peer.UserInternalID] = peer
		}
	}
	p.fan.Broadcast(conns, online)
	// The relay gets every co-member, not just the locally connected ones;
	// each node intersects the set with its own registry on delivery.
	if p.relay != nil && len(ids) > 0 {
		p.relay.PublishUsers(ids, online)
	}

	ent.Conn.Send(EncodeFrame(EvtPresenceSnapshot, SnapshotData{Peers: p.snapshotPeers(ctx, peerUsers)}))
}

// snapshotPeers builds the deduplicated snapshot list. Profiles are refreshed
// from the directory in parallel so long-lived sessions don't leak stale
// names; a failed lookup falls back to the registration-time metadata.
func (p *PresenceCoordinator) snapshotPeers(ctx context.Context, peerUsers map[string]*Entry) []PeerMeta {
	out := make([]PeerMeta, 0, len(peerUsers))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for id, peer := range peerUsers {
		id, peer := id, peer
		g.Go(func() error {
			meta := PeerMeta{
				PubID:       peer.UserPublicID,
				Name:        peer.Meta.Name,
				DisplayName: peer.Meta.DisplayName,
				ImageKey:    peer.Meta.AvatarKey,
			}
			if profile, err := p.users.PublicProfile(gctx, id); err == nil && profile != nil {
				meta = PeerMeta{
					PubID:       profile.PublicID,
					Name:        profile.Name,
					DisplayName: profile.DisplayName,
					ImageKey:    profile.AvatarKey,
				}
			}
			mu.Lock()
			out = append(out, meta)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// OnDisconnect propagates offline status unless another device of the same
// user is still connected.
func (p *PresenceCoordinator) OnDisconnect(ctx context.Context, userPublicID, userInternalID string, hadOtherDevice bool) {
	if hadOtherDevice {
		return
	}
	ids, err := p.coMemberIDs(ctx, userInternalID)
	if err != nil {
		logger.Warnf("[presence] peer lookup failed on disconnect user=%s err=%v", userPublicID, err)
		return
	}
	if len(ids) == 0 {
		return
	}

	offline := EncodeFrame(EvtPeerOffline, PeerOfflineData{PubID: userPublicID})
	peers := p.reg.ListByUsers(ids)
	conns := make([]Sender, 0, len(peers))
	for _, peer := range peers {
		conns = append(conns, peer.Conn)
	}
	p.fan.Broadcast(conns, offline)
	if p.relay != nil {
		p.relay.PublishUsers(ids, offline)
	}
}
