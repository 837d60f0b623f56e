// Package connectivity carries request/response messages between the
// remediation core and whatever hosts it: the HTTP surface, the MCP tools,
// or an in-process caller. Handlers are plain functions over bytes so the
// same handler serves every transport.
//
//	r := connectivity.New()
//	r.Register("GET_STATS", statsHandler)
//	resp, err := r.Call(ctx, "GET_STATS", nil)
//
// Outbound services (the captioning client) use the same Handler shape so
// they can share the timeout, retry and breaker middleware.
package connectivity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Handler processes one message: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router dispatches messages by type. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	mw       HandlerMiddleware
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every handler registered afterwards.
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.mw = Chain(mws...) }
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register installs h for msgType, replacing any previous handler.
func (r *Router) Register(msgType string, h Handler) {
	if r.mw != nil {
		h = r.mw(h)
	}
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
}

// Call dispatches payload to the handler for msgType.
func (r *Router) Call(ctx context.Context, msgType string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[msgType]
	r.mu.RUnlock()

	if !ok {
		return nil, &ErrUnknownMessage{Type: msgType}
	}
	r.logger.DebugContext(ctx, "connectivity: dispatch", "type", msgType, "payload_bytes", len(payload))
	return h(ctx, payload)
}

// Types lists the registered message types in sorted order.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
