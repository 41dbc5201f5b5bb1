package chat

import (
	"context"
	"encoding/json"

	"SocialGW/logger"
)

type HandlerFunc func(ctx context.Context, ent *Entry, data json.RawMessage)

// Router maps inbound command events to handlers. Unknown events are logged
// and dropped; a client speaking garbage costs nothing but its own frames.
type Router struct {
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

func (r *Router) Register(event string, h HandlerFunc) { r.handlers[event] = h }

func (r *Router) Dispatch(ctx context.Context, ent *Entry, f *Frame) {
	h, ok := r.handlers[f.Event]
	if !ok {
		logger.Debugf("[router] no handler for event=%s conn=%s", f.Event, ent.ConnID)
		return
	}
	h(ctx, ent, f.Data)
}
