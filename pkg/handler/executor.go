package handler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const executorLogPrefix = "handler:executor"

// Outcome is the single result of a chain run: exactly one of Context and Fault is set.
type Outcome struct {
	Context *Context
	Fault   *Fault
}

// Executor runs registered chains.
type Executor struct {
	registry *Registry
	tracer   trace.Tracer
}

// NewExecutor creates an Executor backed by reg.
func NewExecutor(reg *Registry) *Executor {
	return &Executor{registry: reg, tracer: otel.Tracer("subject-router/handler")}
}

// Execute runs the chain of hctx.HandlerID() on its own goroutine. The returned
// channel yields exactly one Outcome and is then closed.
func (e *Executor) Execute(ctx context.Context, hctx *Context, req *Request) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		out <- e.Run(ctx, hctx, req)
	}()
	return out
}

// Run executes the chain on the calling goroutine.
func (e *Executor) Run(ctx context.Context, hctx *Context, req *Request) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in handler %s request=%s: %v\n%s",
				executorLogPrefix, hctx.HandlerID(), hctx.RequestID(), r, debug.Stack()))
			outcome = e.fail(hctx, fmt.Errorf("panic in handler %s: %v", hctx.HandlerID(), r))
		}
	}()

	chain, ok := e.registry.Resolve(hctx.HandlerID())
	if !ok {
		return e.fail(hctx, fmt.Errorf("handler %q is not registered", hctx.HandlerID()))
	}

	t := NewTransporter()
	for i, step := range chain.steps {
		if err := ctx.Err(); err != nil {
			return e.fail(hctx, fmt.Errorf("handler %s aborted before step %q: %w", chain.ID, step.Name, err))
		}
		if err := hctx.enterStep(i + 1); err != nil {
			return e.fail(hctx, err)
		}
		if err := e.runStep(ctx, chain, step, req, t); err != nil {
			return e.fail(hctx, err)
		}
	}

	if err := hctx.enterResponding(); err != nil {
		return e.fail(hctx, err)
	}
	result, err := chain.respond(ctx, req, t)
	if err != nil {
		return e.fail(hctx, err)
	}
	if err := hctx.complete(&result); err != nil {
		return Outcome{Fault: AsFault(err)}
	}
	return Outcome{Context: hctx}
}

func (e *Executor) runStep(ctx context.Context, chain *Chain, step Step, req *Request, t *Transporter) error {
	ctx, span := e.tracer.Start(ctx, "step "+step.Name, trace.WithAttributes(
		attribute.String("handler.id", chain.ID),
		attribute.Int("step.order", step.Order),
		attribute.String("request.id", req.ID),
	))
	defer span.End()

	slog.Debug(fmt.Sprintf("%s - %s request=%s step=%s", executorLogPrefix, chain.ID, req.ID, step.Name))
	if err := step.Run(ctx, req, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Executor) fail(hctx *Context, err error) Outcome {
	f := AsFault(err)
	if cerr := hctx.complete(nil); cerr != nil {
		slog.Warn(fmt.Sprintf("%s - %v", executorLogPrefix, cerr))
	}
	return Outcome{Fault: f}
}
