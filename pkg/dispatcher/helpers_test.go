package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/morezero/subject-router/pkg/commsutil"
	"github.com/morezero/subject-router/pkg/events"
	"github.com/morezero/subject-router/pkg/handler"
	"github.com/morezero/subject-router/pkg/metrics"
	"github.com/morezero/subject-router/pkg/routing"
)

const testPrefix = "dispatcher:dispatcher_test"

type published struct {
	Subject string
	Data    []byte
}

type fakeSub struct {
	broker *fakeBroker
	key    string
}

func (s *fakeSub) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.handlers, s.key)
	return nil
}

// fakeBroker records subscriptions and publications in memory.
type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]func(InboundMessage)
	order        []string
	published    []published
	publishCh    chan published
	publishErr   error
	subscribeErr map[string]error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  make(map[string]func(InboundMessage)),
		publishCh: make(chan published, 256),
	}
}

func (b *fakeBroker) QueueSubscribe(subject, group string, fn func(InboundMessage)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.subscribeErr[subject]; err != nil {
		return nil, err
	}
	key := subject + "@" + group
	b.handlers[key] = fn
	b.order = append(b.order, key)
	return &fakeSub{broker: b, key: key}, nil
}

func (b *fakeBroker) Publish(subject string, data []byte) error {
	b.mu.Lock()
	err := b.publishErr
	if err == nil {
		b.published = append(b.published, published{Subject: subject, Data: append([]byte(nil), data...)})
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.publishCh <- published{Subject: subject, Data: data}
	return nil
}

// deliver invokes the subscription callback registered for subject@group.
func (b *fakeBroker) deliver(t *testing.T, key string, msg InboundMessage) {
	t.Helper()
	b.mu.Lock()
	fn, ok := b.handlers[key]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("%s - no subscription for %s", testPrefix, key)
	}
	fn(msg)
}

func (b *fakeBroker) publications() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// awaitReply waits for the next publication.
func (b *fakeBroker) awaitReply(t *testing.T) published {
	t.Helper()
	select {
	case p := <-b.publishCh:
		return p
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for reply", testPrefix)
		return published{}
	}
}

var errBoom = errors.New("boom")

type registerRequest struct {
	Name string `json:"name"`
}

// wireReply is the decoded form of a published reply.
type wireReply struct {
	Success bool           `json:"success"`
	Payload map[string]any `json:"payload"`
	Code    *int           `json:"code"`
	Message string         `json:"message"`
	Kind    string         `json:"kind"`
}

func decodeReply(t *testing.T, data []byte) wireReply {
	t.Helper()
	var r wireReply
	if err := sonic.Unmarshal(data, &r); err != nil {
		t.Fatalf("%s - reply is not valid JSON (%q): %v", testPrefix, data, err)
	}
	return r
}

type fixture struct {
	broker   *fakeBroker
	disp     *Dispatcher
	promReg  *prometheus.Registry
	mu       sync.Mutex
	events   []*events.DispatchEvent
	registry *handler.Registry
}

func (f *fixture) dispatchEvents() []*events.DispatchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*events.DispatchEvent(nil), f.events...)
}

// drain waits for every continuation started so far.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.disp.Wait(ctx); err != nil {
		t.Fatalf("%s - drain: %v", testPrefix, err)
	}
}

func (f *fixture) counter(name string) float64 {
	mfs, err := f.promReg.Gather()
	if err != nil {
		return -1
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

type fixtureOpts struct {
	timeout time.Duration
	// eventGate, when set, holds every event publication until it is closed.
	eventGate chan struct{}
}

// newFixture registers handlers via setup, builds the table and starts a dispatcher.
func newFixture(t *testing.T, entries []routing.Entry, setup func(*handler.Registry), opts ...fixtureOpts) *fixture {
	t.Helper()

	reg := handler.NewRegistry()
	if err := reg.RegisterType("RegisterRequest", handler.TypeOf[registerRequest]()); err != nil {
		t.Fatalf("%s - register type: %v", testPrefix, err)
	}
	if setup != nil {
		setup(reg)
	}

	table, err := routing.Build(entries)
	if err != nil {
		t.Fatalf("%s - build table: %v", testPrefix, err)
	}

	f := &fixture{broker: newFakeBroker(), promReg: prometheus.NewRegistry(), registry: reg}
	m := metrics.NewDispatch(f.promReg)
	if err := m.Register(); err != nil {
		t.Fatalf("%s - register metrics: %v", testPrefix, err)
	}

	var gate chan struct{}
	if len(opts) > 0 {
		gate = opts[0].eventGate
	}

	params := NewDispatcherParams{
		Table:    table,
		Registry: reg,
		Codec:    commsutil.NewJSONCodec(reg),
		Broker:   f.broker,
		Metrics:  m,
		Publisher: events.NewCallbackPublisher(func(_ context.Context, e *events.DispatchEvent) error {
			if gate != nil {
				<-gate
			}
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
			return nil
		}),
	}
	if len(opts) > 0 {
		params.RequestTimeout = opts[0].timeout
	}

	d, err := NewDispatcher(params)
	if err != nil {
		t.Fatalf("%s - new dispatcher: %v", testPrefix, err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("%s - start: %v", testPrefix, err)
	}
	t.Cleanup(d.Stop)
	f.disp = d
	return f
}

func mustRegister(t *testing.T, reg *handler.Registry, id string, h handler.Handler) {
	t.Helper()
	if err := reg.RegisterHandler(id, h); err != nil {
		t.Fatalf("%s - register handler %s: %v", testPrefix, id, err)
	}
}

// counting returns a step that increments n.
func counting(order int, n *callCounter) handler.Step {
	return handler.Step{Order: order, Run: func(context.Context, *handler.Request, *handler.Transporter) error {
		n.inc()
		return nil
	}}
}

type callCounter struct {
	mu sync.Mutex
	n  int
}

func (c *callCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *callCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func okResponse(payload any) handler.ResponseFunc {
	return func(context.Context, *handler.Request, *handler.Transporter) (handler.ResultEnvelope, error) {
		return handler.Success(payload), nil
	}
}
