package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/subject-router/pkg/events"
	"github.com/morezero/subject-router/pkg/handler"
	"github.com/morezero/subject-router/pkg/ids"
	"github.com/morezero/subject-router/pkg/metrics"
	"github.com/morezero/subject-router/pkg/routing"
)

const logPrefix = "dispatcher:dispatch"

// eventTimeout bounds a single dispatch event publication.
const eventTimeout = 5 * time.Second

// ErrAlreadyStarted is returned by Start on a running dispatcher.
var ErrAlreadyStarted = errors.New("dispatcher: already started")

// NewDispatcherParams holds dependencies for creating a Dispatcher.
type NewDispatcherParams struct {
	Table    *routing.Table
	Registry *handler.Registry
	Codec    PayloadCodec
	Broker   Broker
	// Publisher receives one DispatchEvent per message. Nil disables events.
	Publisher events.EventPublisher
	// Metrics may be nil.
	Metrics *metrics.Dispatch
	// RequestTimeout bounds each chain run. Zero means unbounded.
	RequestTimeout time.Duration
}

// Dispatcher routes inbound messages to static replies or handler chains.
type Dispatcher struct {
	table     *routing.Table
	codec     PayloadCodec
	broker    Broker
	executor  *handler.Executor
	publisher events.EventPublisher
	metrics   *metrics.Dispatch
	timeout   time.Duration
	tracer    trace.Tracer

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	subs    []Subscription
	stopped bool
	// wg counts accepted messages until their event is emitted.
	wg sync.WaitGroup
}

// NewDispatcher checks every route against the registry and seals it. A route
// naming an unregistered handler or request type is a *routing.ConfigurationError.
func NewDispatcher(p NewDispatcherParams) (*Dispatcher, error) {
	if p.Table == nil || p.Registry == nil || p.Codec == nil || p.Broker == nil {
		return nil, fmt.Errorf("%s - table, registry, codec and broker are required", logPrefix)
	}

	for i, e := range p.Table.Entries() {
		if e.IsStatic() {
			continue
		}
		if _, ok := p.Registry.Resolve(e.HandlerID); !ok {
			return nil, &routing.ConfigurationError{Index: i, Subject: e.Subject,
				Reason: fmt.Sprintf("handler %q is not registered", e.HandlerID)}
		}
		if e.RequestTypeID != "" && !p.Registry.HasType(e.RequestTypeID) {
			return nil, &routing.ConfigurationError{Index: i, Subject: e.Subject,
				Reason: fmt.Sprintf("request type %q is not registered", e.RequestTypeID)}
		}
	}
	p.Registry.Seal()

	publisher := p.Publisher
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		table:     p.Table,
		codec:     p.Codec,
		broker:    p.Broker,
		executor:  handler.NewExecutor(p.Registry),
		publisher: publisher,
		metrics:   p.Metrics,
		timeout:   p.RequestTimeout,
		tracer:    otel.Tracer("subject-router/dispatcher"),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}, nil
}

// Start opens one queue subscription per route. On failure the subscriptions
// opened so far are closed again.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs != nil {
		return ErrAlreadyStarted
	}
	d.stopped = false

	subs := make([]Subscription, 0, d.table.Len())
	for _, entry := range d.table.Entries() {
		entry := entry
		sub, err := d.broker.QueueSubscribe(entry.Subject, entry.QueueGroup, func(msg InboundMessage) {
			d.Handle(entry, msg)
		})
		if err != nil {
			unsubscribeAll(subs)
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, entry.Key(), err)
		}
		subs = append(subs, sub)
		slog.Info(fmt.Sprintf("%s - Subscribed to %s (queue %s)", logPrefix, entry.Subject, entry.QueueGroup))
	}
	d.subs = subs
	return nil
}

// Stop closes all subscriptions. Messages already accepted keep running; use
// Wait to drain them. Messages arriving after Stop are dropped without a reply.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.stopped = true
	d.mu.Unlock()
	unsubscribeAll(subs)
}

// Wait blocks until every accepted message has replied and emitted its event,
// or ctx is done. When ctx ends first, the remaining chains are cancelled.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func unsubscribeAll(subs []Subscription) {
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe failed: %v", logPrefix, err))
		}
	}
}

// Handle processes one message delivered for entry. It never blocks on the
// handler chain or on event publishers; the chain reply and every event are
// sent from goroutines tracked by Wait.
func (d *Dispatcher) Handle(entry routing.Entry, msg InboundMessage) {
	if !d.accept() {
		slog.Warn(fmt.Sprintf("%s - dropping message on %s: dispatcher stopped", logPrefix, entry.Subject))
		return
	}
	start := time.Now()
	if entry.IsStatic() {
		replied := d.replyStatic(entry, msg)
		go func() {
			defer d.wg.Done()
			d.recordStatic(entry, replied, start)
		}()
		return
	}

	hctx := handler.NewContext(ids.NewRequestID(), entry.HandlerID)
	guard := NewResponseGuard(hctx, d.broker, msg.ReplyTo, entry.Subject, d.metrics)
	slog.Debug(fmt.Sprintf("%s - subject=%s handler=%s request=%s", logPrefix, entry.Subject, entry.HandlerID, hctx.RequestID()))

	dto, err := d.decode(entry, msg.Payload)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - bad request %s on %s: %v", logPrefix, hctx.RequestID(), entry.Subject, err))
		result := decodeFailureResult(err)
		d.reply(guard, result)
		go func() {
			defer d.wg.Done()
			d.record(entry, hctx.RequestID(), metrics.OutcomeBadRequest, result, guard.Delivered(), start)
		}()
		return
	}

	req := handler.NewRequest(hctx, msg.Subject, msg.ReplyTo, entry.Roles, dto, msg.Payload)

	ctx, cancel := d.chainContext()
	ctx, span := d.tracer.Start(ctx, "dispatch "+entry.Subject, trace.WithAttributes(
		attribute.String("route.subject", entry.Subject),
		attribute.String("route.queue_group", entry.QueueGroup),
		attribute.String("handler.id", entry.HandlerID),
		attribute.String("request.id", hctx.RequestID()),
	))

	d.metrics.ChainStarted()
	outcomes := d.executor.Execute(ctx, hctx, req)

	go func() {
		defer d.wg.Done()
		defer cancel()
		defer span.End()
		defer d.metrics.ChainFinished()

		d.finish(entry, hctx, guard, <-outcomes, span, start)
	}()
}

// accept registers a message with the wait group unless the dispatcher is
// stopped. The check and the Add share d.mu with Stop, so Wait after Stop sees
// every accepted message.
func (d *Dispatcher) accept() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *Dispatcher) chainContext() (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(d.baseCtx, d.timeout)
	}
	return context.WithCancel(d.baseCtx)
}

// decode turns the payload into the route's request object. Routes without a
// request type get a nil object and the raw payload only.
func (d *Dispatcher) decode(entry routing.Entry, payload []byte) (any, error) {
	if entry.RequestTypeID == "" {
		return nil, nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, errBodyRequired
	}
	return d.codec.Decode(payload, entry.RequestTypeID)
}

func (d *Dispatcher) replyStatic(entry routing.Entry, msg InboundMessage) bool {
	if msg.ReplyTo == "" {
		return false
	}
	if err := d.broker.Publish(msg.ReplyTo, entry.StaticResponse); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish static reply on %s: %v", logPrefix, entry.Subject, err))
		d.metrics.PublishFailed(entry.Subject)
		return false
	}
	return true
}

func (d *Dispatcher) recordStatic(entry routing.Entry, replied bool, start time.Time) {
	elapsed := time.Since(start)
	d.metrics.ObserveRequest(entry.Subject, "", metrics.OutcomeStatic, elapsed)
	d.emit(&events.DispatchEvent{
		Subject:    entry.Subject,
		QueueGroup: entry.QueueGroup,
		Outcome:    metrics.OutcomeStatic,
		Replied:    replied,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
}

// finish consumes the single outcome of a chain run and replies through the guard.
func (d *Dispatcher) finish(entry routing.Entry, hctx *handler.Context, guard *ResponseGuard, outcome handler.Outcome, span trace.Span, start time.Time) {
	var result handler.ResultEnvelope
	label := metrics.OutcomeOK

	switch {
	case outcome.Fault != nil:
		slog.Error(fmt.Sprintf("%s - handler %s failed for request %s: %v", logPrefix, entry.HandlerID, hctx.RequestID(), outcome.Fault))
		span.RecordError(outcome.Fault)
		span.SetStatus(codes.Error, outcome.Fault.Error())
		result = faultResult(outcome.Fault)
		label = metrics.OutcomeFault
		if outcome.Fault.Structured() {
			label = metrics.OutcomeError
		}
	default:
		res, ok := outcome.Context.Result()
		if !ok {
			result = faultResult(handler.AsFault(errNoResult))
			label = metrics.OutcomeFault
			break
		}
		result = res
		if result.IsSuccess() {
			break
		}
		label = metrics.OutcomeError
		if _, ok := result.ErrorBody(); !ok {
			// failure envelope without an error body
			result = faultResult(handler.AsFault(errNoResult))
			label = metrics.OutcomeFault
		}
	}

	d.reply(guard, result)
	d.record(entry, hctx.RequestID(), label, result, guard.Delivered(), start)
}

// reply encodes result and sends it through guard. A result that cannot be
// encoded is replaced by an UNKNOWN error so the requester still gets an answer.
func (d *Dispatcher) reply(guard *ResponseGuard, result handler.ResultEnvelope) bool {
	data, err := d.codec.Encode(result)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		fallback := handler.Failure(handler.NewDetailedError(handler.UnhandledCode, "failed to encode response", handler.KindUnknown))
		if data, err = d.codec.Encode(fallback); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode fallback response: %v", logPrefix, err))
			return false
		}
	}
	return guard.TrySend(data)
}

func (d *Dispatcher) record(entry routing.Entry, requestID, label string, result handler.ResultEnvelope, replied bool, start time.Time) {
	elapsed := time.Since(start)
	d.metrics.ObserveRequest(entry.Subject, entry.HandlerID, label, elapsed)

	event := &events.DispatchEvent{
		RequestID:  requestID,
		Subject:    entry.Subject,
		QueueGroup: entry.QueueGroup,
		HandlerID:  entry.HandlerID,
		Outcome:    label,
		Replied:    replied,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if de, ok := result.ErrorBody(); ok {
		event.ErrorKind = string(de.Kind)
		event.Message = de.Message
	}
	d.emit(event)
}

func (d *Dispatcher) emit(event *events.DispatchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := d.publisher.PublishDispatched(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish dispatch event for %s: %v", logPrefix, event.Subject, err))
	}
}
