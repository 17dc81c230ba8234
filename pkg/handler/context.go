package handler

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Phase is the execution state of one chain run.
type Phase int32

const (
	PhaseCreated Phase = iota
	PhaseStep
	PhaseResponding
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseStep:
		return "step"
	case PhaseResponding:
		return "responding"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Context is the mutable state of a single request. It lives from dispatch
// until the reply is sent or the request is dropped.
type Context struct {
	requestID string
	handlerID string

	responded atomic.Bool

	mu        sync.Mutex
	phase     Phase
	step      int
	succeeded bool
	result    *ResultEnvelope
}

// NewContext creates a Context in PhaseCreated.
func NewContext(requestID, handlerID string) *Context {
	return &Context{requestID: requestID, handlerID: handlerID}
}

func (c *Context) RequestID() string { return c.requestID }
func (c *Context) HandlerID() string { return c.handlerID }

// Responded reports whether a reply has been claimed for this request.
func (c *Context) Responded() bool {
	return c.responded.Load()
}

// MarkResponded atomically flips responded from false to true. It returns
// false when the flag was already set, in which case the caller must not publish.
func (c *Context) MarkResponded() bool {
	return c.responded.CompareAndSwap(false, true)
}

// Result returns the envelope produced by the response operation, if any.
func (c *Context) Result() (ResultEnvelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return ResultEnvelope{}, false
	}
	return *c.result, true
}

// Phase returns the current phase and, in PhaseStep, the 1-based step number.
func (c *Context) Phase() (Phase, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.step
}

// Succeeded reports whether the chain completed with a result. Only meaningful
// once Phase is PhaseCompleted.
func (c *Context) Succeeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseCompleted && c.succeeded
}

// enterStep moves to step n (1-based). Steps only move forward.
func (c *Context) enterStep(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.phase == PhaseCreated && n == 1:
	case c.phase == PhaseStep && n == c.step+1:
	default:
		return fmt.Errorf("handler: illegal transition %s(%d) -> step(%d)", c.phase, c.step, n)
	}
	c.phase, c.step = PhaseStep, n
	return nil
}

func (c *Context) enterResponding() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseCreated && c.phase != PhaseStep {
		return fmt.Errorf("handler: illegal transition %s -> responding", c.phase)
	}
	c.phase = PhaseResponding
	return nil
}

// complete moves to PhaseCompleted exactly once. A nil result marks failure.
func (c *Context) complete(result *ResultEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseCompleted {
		return fmt.Errorf("handler: request %s already completed", c.requestID)
	}
	c.phase = PhaseCompleted
	if result != nil {
		r := *result
		c.result = &r
		c.succeeded = true
	}
	return nil
}
