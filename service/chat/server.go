package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"SocialGW/global/config"
	"SocialGW/logger"
	"SocialGW/middleware/security"
	"SocialGW/service/store"
	errs "SocialGW/tools/errs"
	"SocialGW/tools/ids"
	"SocialGW/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// OnlineMirror reflects registry changes into shared storage for sibling
// nodes and ops tooling. Strictly best effort.
type OnlineMirror interface {
	SetOnline(ctx context.Context, userPublicID, deviceID, connID string) error
	SetOffline(ctx context.Context, userPublicID, deviceID, connID string) error
	Touch(ctx context.Context, userPublicID, deviceID string) error
}

// Server ties the coordination core to the websocket transport.
type Server struct {
	cfg *config.AppConfig

	reg        *Registry
	fan        *Fanout
	rooms      *RoomGateway
	presence   *PresenceCoordinator
	dispatcher *MessageDispatcher
	reactions  *ReactionToggleCoordinator
	timeouts   *TimeoutManager
	router     *Router

	users  store.UserDirectory
	mirror OnlineMirror // nil disables mirroring
}

func NewServer(cfg *config.AppConfig, convs store.ConversationStore, msgs store.MessageStore, users store.UserDirectory, relay Relay, mirror OnlineMirror) *Server {
	safe.MustNotNil(convs, "conversation store")
	safe.MustNotNil(msgs, "message store")
	safe.MustNotNil(users, "user directory")

	reg := NewRegistry()
	fan := NewFanout(cfg.FanoutWorkers, cfg.FanoutQueue)
	rooms := NewRoomGateway(reg, convs, relay)

	s := &Server{
		cfg:        cfg,
		reg:        reg,
		fan:        fan,
		rooms:      rooms,
		presence:   NewPresenceCoordinator(reg, convs, users, fan, relay),
		dispatcher: NewMessageDispatcher(rooms, convs, msgs, users),
		reactions:  NewReactionToggleCoordinator(rooms, msgs),
		router:     NewRouter(),
		users:      users,
		mirror:     mirror,
	}
	s.timeouts = NewTimeoutManager(cfg.BackgroundGrace, s.expireConnection)
	s.registerHandlers()
	return s
}

func (s *Server) Registry() *Registry { return s.reg }

func (s *Server) Close() { s.fan.Close() }

func (s *Server) registerHandlers() {
	s.router.Register(CmdJoinConversation, s.handleJoin)
	s.router.Register(CmdSendMessage, s.handleSend)
	s.router.Register(CmdToggleReaction, s.handleToggle)
	s.router.Register(CmdBackground, func(_ context.Context, ent *Entry, _ json.RawMessage) {
		s.timeouts.OnBackground(ent.ConnID, ent.UserPublicID)
	})
	s.router.Register(CmdForeground, func(_ context.Context, ent *Entry, _ json.RawMessage) {
		s.timeouts.OnForeground(ent.ConnID)
	})
}

func (s *Server) handleJoin(ctx context.Context, ent *Entry, data json.RawMessage) {
	var in JoinData
	if err := json.Unmarshal(data, &in); err != nil || in.ConversationID == "" {
		ent.Conn.Send(EncodeFrame(EvtJoinFailed, FailureData{Code: errs.CodeInvalidInput, Reason: "invalid input"}))
		return
	}
	if err := s.rooms.Join(ctx, ent, in.ConversationID); err != nil {
		if errs.Code(err) == errs.CodeNotActive {
			// Registry lost the entry mid-command; force a reconnect.
			ent.Conn.Close()
			return
		}
		ent.Conn.Send(EncodeFrame(EvtJoinFailed, failure(err)))
		return
	}
	logger.Infof("[ws] joined conversation conn=%s conv=%s", ent.ConnID, in.ConversationID)
	ent.Conn.Send(EncodeFrame(EvtJoinedConversation, JoinData{ConversationID: in.ConversationID}))
}

func (s *Server) handleSend(ctx context.Context, ent *Entry, data json.RawMessage) {
	var in InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		ent.Conn.Send(EncodeFrame(EvtSendFailed, FailureData{Code: errs.CodeInvalidInput, Reason: "invalid input"}))
		return
	}
	if err := s.dispatcher.Send(ctx, ent, &in); err != nil {
		ent.Conn.Send(EncodeFrame(EvtSendFailed, failure(err)))
	}
}

func (s *Server) handleToggle(ctx context.Context, ent *Entry, data json.RawMessage) {
	var in ToggleData
	if err := json.Unmarshal(data, &in); err != nil || in.Add == nil {
		ent.Conn.Send(EncodeFrame(EvtToggleFailed, FailureData{Code: errs.CodeInvalidInput, Reason: "to add or remove not clarified"}))
		return
	}
	if err := s.reactions.Toggle(ctx, ent, in.MessageID, in.Reaction, *in.Add); err != nil {
		ent.Conn.Send(EncodeFrame(EvtToggleFailed, failure(err)))
	}
}

func failure(err error) FailureData {
	var ce errs.CodeError
	if errors.As(err, &ce) {
		reason := ce.Detail
		if reason == "" {
			reason = ce.Msg
		}
		return FailureData{Code: ce.Code, Reason: reason}
	}
	return FailureData{Code: errs.CodeServerInternal, Reason: "internal error"}
}

// expireConnection is the grace-window expiry path: tell the client, then
// force the transport closed so the normal disconnect path runs.
func (s *Server) expireConnection(connID, userPublicID string) {
	ent := s.reg.FindByConnection(connID)
	if ent == nil {
		return
	}
	ent.Conn.Send(EncodeFrame(EvtTimedOut, nil))
	ent.Conn.Close()
}

// HandleWS is the upgrade endpoint. The auth middleware has already resolved
// the bearer token to an internal user id; the device id rides on the query.
func (s *Server) HandleWS(c *gin.Context) {
	userID := c.GetString(security.CtxUserKey)
	deviceID := c.Query("device")
	if userID == "" || deviceID == "" {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	// The request context dies with the hijacked request; the session runs on
	// its own.
	ctx := context.Background()

	profile, err := s.users.PublicProfile(ctx, userID)
	if err != nil || profile == nil {
		logger.Warnf("[ws] unknown user on handshake user=%s err=%v", userID, err)
		_ = ws.Close()
		return
	}

	connID := ids.GenerateString()
	client := NewClient(connID, ws, s.cfg.SendQueueSize)
	go client.WritePump()

	ent := &Entry{
		ConnID:         connID,
		UserPublicID:   profile.PublicID,
		UserInternalID: profile.InternalID,
		DeviceID:       deviceID,
		Meta: DisplayMeta{
			Name:        profile.Name,
			DisplayName: profile.DisplayName,
			AvatarKey:   profile.AvatarKey,
		},
		Conn: client,
	}

	if evicted := s.reg.Register(ent); evicted != nil {
		logger.Infof("[ws] evicting prior session user=%s device=%s conn=%s", evicted.UserPublicID, evicted.DeviceID, evicted.ConnID)
		s.timeouts.Cancel(evicted.ConnID)
		evicted.Conn.Close()
	}
	if s.mirror != nil {
		safe.Go(func() {
			if err := s.mirror.SetOnline(ctx, ent.UserPublicID, ent.DeviceID, connID); err != nil {
				logger.Warnf("[ws] online mirror failed conn=%s err=%v", connID, err)
			}
		})
	}

	client.Send(EncodeFrame(EvtClientConnected, nil))
	s.presence.OnConnect(ctx, ent)

	s.readLoop(ctx, client)
	s.disconnect(ctx, client)
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	ws := client.ws
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		// Pongs double as the session heartbeat for the online mirror.
		if ent := s.reg.FindByConnection(client.ConnID); ent != nil {
			s.touchSession(ent)
		}
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debugf("[ws] peer closed conn=%s", client.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Debugf("[ws] read timeout conn=%s", client.ConnID)
			} else {
				logger.Debugf("[ws] read error conn=%s err=%v", client.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			logger.Debugf("[ws] bad frame conn=%s err=%v len=%d", client.ConnID, err, len(raw))
			continue
		}
		ent := s.reg.FindByConnection(client.ConnID)
		if ent == nil {
			// Evicted while the frame was in transit.
			return
		}
		s.router.Dispatch(ctx, ent, frame)
	}
}

// touchSession refreshes the mirror TTL for a live session.
func (s *Server) touchSession(ent *Entry) {
	if s.mirror == nil {
		return
	}
	user, device := ent.UserPublicID, ent.DeviceID
	safe.Go(func() {
		if err := s.mirror.Touch(context.Background(), user, device); err != nil {
			logger.Debugf("[ws] mirror touch failed user=%s err=%v", user, err)
		}
	})
}

func (s *Server) disconnect(ctx context.Context, client *Client) {
	s.timeouts.Cancel(client.ConnID)
	client.Close()

	removed, hadOtherDevice := s.reg.Remove(client.ConnID)
	if removed == nil {
		return // already evicted by a same-device reconnect
	}
	logger.Infof("[ws] disconnected conn=%s user=%s otherDevice=%v", removed.ConnID, removed.UserPublicID, hadOtherDevice)

	if s.mirror != nil {
		safe.Go(func() {
			if err := s.mirror.SetOffline(ctx, removed.UserPublicID, removed.DeviceID, removed.ConnID); err != nil {
				logger.Warnf("[ws] offline mirror failed conn=%s err=%v", removed.ConnID, err)
			}
		})
	}
	s.presence.OnDisconnect(ctx, removed.UserPublicID, removed.UserInternalID, hadOtherDevice)
}

// DeliverRoom and DeliverUsers re-emit events relayed from sibling nodes to
// the connections living on this one.
func (s *Server) DeliverRoom(conversationID string, payload []byte) {
	s.rooms.BroadcastLocal(conversationID, payload)
}

func (s *Server) DeliverUsers(internalUserIDs []string, payload []byte) {
	for _, e := range s.reg.ListByUsers(internalUserIDs) {
		e.Conn.Send(payload)
	}
}
