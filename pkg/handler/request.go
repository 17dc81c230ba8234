package handler

import "sync"

// Request is the decoded request handed to every step of one chain run.
type Request struct {
	ID      string
	Subject string
	ReplyTo string
	Roles   []string
	// DTO is the decoded request object; nil when the route declares no request type.
	DTO any
	// Payload is the raw message body.
	Payload []byte

	hctx *Context
}

// NewRequest binds a request to its handler context.
func NewRequest(hctx *Context, subject, replyTo string, roles []string, dto any, payload []byte) *Request {
	return &Request{
		ID:      hctx.RequestID(),
		Subject: subject,
		ReplyTo: replyTo,
		Roles:   roles,
		DTO:     dto,
		Payload: payload,
		hctx:    hctx,
	}
}

// Context returns the handler context of the request.
func (r *Request) Context() *Context {
	return r.hctx
}

// HasRole reports whether role is among the roles declared for the route.
func (r *Request) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// DTOAs returns the decoded request as T.
func DTOAs[T any](r *Request) (T, bool) {
	v, ok := r.DTO.(T)
	return v, ok
}

// Transporter carries intermediate state between the steps of one chain run.
// The executor creates it and never looks inside.
type Transporter struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewTransporter returns an empty Transporter.
func NewTransporter() *Transporter {
	return &Transporter{values: make(map[string]any)}
}

func (t *Transporter) Put(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
}

func (t *Transporter) Get(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	return v, ok
}

// Value fetches key as T.
func Value[T any](t *Transporter, key string) (T, bool) {
	raw, ok := t.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}
