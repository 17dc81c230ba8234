package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const registryLogPrefix = "handler:registry"

// StepFunc is one processing step. It may have side effects but must not reply.
type StepFunc func(ctx context.Context, req *Request, t *Transporter) error

// ResponseFunc materializes the result after the last step.
type ResponseFunc func(ctx context.Context, req *Request, t *Transporter) (ResultEnvelope, error)

// Step is a StepFunc with its execution order. Lower orders run first; equal
// orders keep registration order.
type Step struct {
	Order int
	Name  string
	Run   StepFunc
}

// Handler is what an application registers under a handler identifier.
type Handler struct {
	Steps   []Step
	Respond ResponseFunc
}

// Chain is a registered handler with its steps sorted.
type Chain struct {
	ID      string
	steps   []Step
	respond ResponseFunc
}

// Steps returns the sorted steps.
func (c *Chain) Steps() []Step {
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// ErrRegistrySealed is returned when registering after Seal.
var ErrRegistrySealed = errors.New("handler: registry is sealed")

// Registry maps handler and request-type identifiers to chains and request
// factories. It is populated at startup, sealed, and read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	sealed   bool
	handlers map[string]*Chain
	types    map[string]func() any
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]*Chain),
		types:    make(map[string]func() any),
	}
}

// RegisterHandler sorts h's steps once and stores the chain under id.
func (r *Registry) RegisterHandler(id string, h Handler) error {
	if id == "" {
		return errors.New("handler: empty handler id")
	}
	if h.Respond == nil {
		return fmt.Errorf("handler: %s has no response operation", id)
	}
	for i, s := range h.Steps {
		if s.Run == nil {
			return fmt.Errorf("handler: %s step %d (%q) has no function", id, i, s.Name)
		}
	}

	steps := make([]Step, len(h.Steps))
	copy(steps, h.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	for i := range steps {
		if steps[i].Name == "" {
			steps[i].Name = fmt.Sprintf("step%d", steps[i].Order)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, dup := r.handlers[id]; dup {
		return fmt.Errorf("handler: %s already registered", id)
	}
	r.handlers[id] = &Chain{ID: id, steps: steps, respond: h.Respond}
	slog.Debug(fmt.Sprintf("%s - Registered handler %s with %d steps", registryLogPrefix, id, len(steps)))
	return nil
}

// RegisterType stores a factory returning a fresh pointer to decode into.
func (r *Registry) RegisterType(id string, factory func() any) error {
	if id == "" {
		return errors.New("handler: empty request type id")
	}
	if factory == nil {
		return fmt.Errorf("handler: request type %s has no factory", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, dup := r.types[id]; dup {
		return fmt.Errorf("handler: request type %s already registered", id)
	}
	r.types[id] = factory
	return nil
}

// TypeOf returns a factory producing *T for RegisterType.
func TypeOf[T any]() func() any {
	return func() any { return new(T) }
}

// Seal forbids further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the chain registered under id.
func (r *Registry) Resolve(id string) (*Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.handlers[id]
	return c, ok
}

// NewDTO returns a fresh request object for the type id.
func (r *Registry) NewDTO(id string) (any, bool) {
	r.mu.RLock()
	factory, ok := r.types[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// HasType reports whether a request type is registered.
func (r *Registry) HasType(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[id]
	return ok
}

// Missing returns the handler and type identifiers that are not registered.
func (r *Registry) Missing(handlerIDs, typeIDs []string) (handlers, types []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range handlerIDs {
		if _, ok := r.handlers[id]; !ok {
			handlers = append(handlers, id)
		}
	}
	for _, id := range typeIDs {
		if _, ok := r.types[id]; !ok {
			types = append(types, id)
		}
	}
	return handlers, types
}
