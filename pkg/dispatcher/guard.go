package dispatcher

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/morezero/subject-router/pkg/handler"
	"github.com/morezero/subject-router/pkg/metrics"
)

const guardLogPrefix = "dispatcher:guard"

// ResponseGuard lets exactly one caller publish the reply of a request.
type ResponseGuard struct {
	hctx      *handler.Context
	publisher Publisher
	replyTo   string
	subject   string
	metrics   *metrics.Dispatch
	delivered atomic.Bool
}

// NewResponseGuard creates a guard for the reply of hctx's request.
func NewResponseGuard(hctx *handler.Context, publisher Publisher, replyTo, subject string, m *metrics.Dispatch) *ResponseGuard {
	return &ResponseGuard{
		hctx:      hctx,
		publisher: publisher,
		replyTo:   replyTo,
		subject:   subject,
		metrics:   m,
	}
}

// TrySend claims the reply and publishes payload. It returns false, without
// publishing, when the reply was already claimed. A claimed reply the broker
// refuses is logged and counted, never retried.
func (g *ResponseGuard) TrySend(payload []byte) bool {
	if !g.hctx.MarkResponded() {
		slog.Error(fmt.Sprintf("%s - Already sent response for request %s on %s", guardLogPrefix, g.hctx.RequestID(), g.subject))
		g.metrics.DoubleResponse(g.subject)
		return false
	}
	if g.replyTo == "" {
		slog.Debug(fmt.Sprintf("%s - request %s on %s has no reply subject", guardLogPrefix, g.hctx.RequestID(), g.subject))
		return true
	}
	if err := g.publisher.Publish(g.replyTo, payload); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish reply for request %s to %s: %v", guardLogPrefix, g.hctx.RequestID(), g.replyTo, err))
		g.metrics.PublishFailed(g.subject)
		return true
	}
	g.delivered.Store(true)
	return true
}

// Delivered reports whether a reply reached the broker.
func (g *ResponseGuard) Delivered() bool {
	return g.delivered.Load()
}
