package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/pkg/contextx"
)

var (
	ErrInvalidRoute      = errors.New("trigger: invalid route")
	ErrDuplicateRoute    = errors.New("trigger: route already registered")
	ErrDuplicateCallable = errors.New("trigger: callable already registered")
	ErrPanic             = errors.New("trigger: handler panicked")
)

// EventHandler reacts to a document change. A returned error is terminal
// for this event; the dispatcher logs it and moves on.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt ChangeEvent) error
}

type EventHandlerFunc func(ctx context.Context, evt ChangeEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, evt ChangeEvent) error { return f(ctx, evt) }

// CallableHandler serves a synchronous invocation.
type CallableHandler interface {
	Invoke(ctx context.Context, req InvocationRequest) (any, error)
}

type CallableHandlerFunc func(ctx context.Context, req InvocationRequest) (any, error)

func (f CallableHandlerFunc) Invoke(ctx context.Context, req InvocationRequest) (any, error) {
	return f(ctx, req)
}

// Gate switches triggers on and off at runtime.
type Gate interface {
	IsEnabled(ctx context.Context, key string) bool
}

// Deduper suppresses concurrent or completed redeliveries of one event.
// Claim reports false when the key is already held or done.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// Sink is what event sources deliver into.
type Sink interface {
	Dispatch(ctx context.Context, evt ChangeEvent) Outcome
	Submit(ctx context.Context, evt ChangeEvent, done func(Outcome)) error
}

type registration struct {
	name    string
	handler EventHandler
}

type Dispatcher struct {
	mu        sync.RWMutex
	routes    map[Route]registration
	callables map[string]CallableHandler

	chain    Middleware
	gate     Gate
	deduper  Deduper
	outcomes OutcomeSink
	logger   *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMiddleware(mws ...Middleware) Option {
	return func(d *Dispatcher) { d.chain = Chain(mws...) }
}

func WithGate(g Gate) Option { return func(d *Dispatcher) { d.gate = g } }

func WithDeduper(dd Deduper) Option { return func(d *Dispatcher) { d.deduper = dd } }

func WithOutcomeSink(s OutcomeSink) Option { return func(d *Dispatcher) { d.outcomes = s } }

// WithConcurrency bounds the number of events Submit runs at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:    make(map[Route]registration),
		callables: make(map[string]CallableHandler),
		chain:     Chain(),
		logger:    slog.Default(),
		sem:       make(chan struct{}, 16),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// On binds a named handler to a collection/operation pair. One handler per
// route.
func (d *Dispatcher) On(name string, route Route, h EventHandler) error {
	if name == "" || route.Collection == "" || h == nil {
		return fmt.Errorf("%w: %q on %s", ErrInvalidRoute, name, route)
	}
	if _, err := ParseOperation(string(route.Operation)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.routes[route]; ok {
		return fmt.Errorf("%w: %s is served by %q", ErrDuplicateRoute, route, prev.name)
	}
	d.routes[route] = registration{name: name, handler: h}
	return nil
}

func (d *Dispatcher) Callable(name string, h CallableHandler) error {
	if name == "" || h == nil {
		return fmt.Errorf("%w: callable %q", ErrInvalidRoute, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.callables[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCallable, name)
	}
	d.callables[name] = h
	return nil
}

// Triggers lists registered event triggers and callables, sorted.
func (d *Dispatcher) Triggers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.routes)+len(d.callables))
	for _, reg := range d.routes {
		names = append(names, reg.name)
	}
	for name := range d.callables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) lookup(route Route) (registration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.routes[route]
	return reg, ok
}

// Dispatch runs the handler bound to the event's route and reports what
// happened. Failures, including panics, never escape: they are logged and
// folded into the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, evt ChangeEvent) Outcome {
	start := time.Now()
	out := Outcome{
		EventID:    evt.ID,
		Collection: evt.Collection,
		DocumentID: evt.DocumentID,
		Operation:  evt.Operation,
	}

	route := Route{Collection: evt.Collection, Operation: evt.Operation}
	reg, ok := d.lookup(route)
	if !ok {
		out.Status = StatusUnmatched
		d.logger.DebugContext(ctx, "no trigger for change event",
			slog.String("route", route.String()),
			slog.String("event_id", evt.ID),
		)
		return out
	}
	out.Trigger = reg.name

	ctx = contextx.WithTrigger(ctx, reg.name)
	ctx = contextx.WithEntryPoint(ctx, string(KindEvent))
	if evt.ID != "" {
		ctx = contextx.WithEventID(ctx, evt.ID)
		ctx = contextx.WithIdempotencyKey(ctx, "event:"+evt.ID)
	}
	if evt.Source != "" {
		ctx = contextx.WithEventSource(ctx, evt.Source)
	}

	if d.gate != nil && !d.gate.IsEnabled(ctx, GateKey(reg.name)) {
		out.Status = StatusSkipped
		out.Duration = time.Since(start)
		eventsTotal.WithLabelValues(reg.name, string(out.Status)).Inc()
		d.logger.InfoContext(ctx, "trigger disabled, event skipped", slog.String("document_id", evt.DocumentID))
		return out
	}

	dedupeKey := ""
	if d.deduper != nil && evt.ID != "" {
		dedupeKey = reg.name + ":" + evt.ID
		claimed, err := d.deduper.Claim(ctx, dedupeKey)
		switch {
		case err != nil:
			d.logger.WarnContext(ctx, "dedupe claim failed, processing anyway", slog.String("error", err.Error()))
			dedupeKey = ""
		case !claimed:
			out.Status = StatusDuplicate
			out.Duration = time.Since(start)
			eventsTotal.WithLabelValues(reg.name, string(out.Status)).Inc()
			d.logger.InfoContext(ctx, "duplicate change event ignored", slog.String("document_id", evt.DocumentID))
			return out
		}
	}

	ctx, steps := withSteps(ctx)
	call := Call{Trigger: reg.name, Kind: KindEvent, EventID: evt.ID, Route: route}
	err := d.execute(ctx, call, func(ctx context.Context) error {
		return reg.handler.HandleEvent(ctx, evt)
	})

	out.CompletedSteps = steps.list()
	out.Duration = time.Since(start)
	switch {
	case err == nil:
		out.Status = StatusSuccess
	case len(out.CompletedSteps) > 0:
		out.Status = StatusPartialFailure
	default:
		out.Status = StatusFailed
	}
	if err != nil {
		out.Err = err
		out.Error = err.Error()
		out.AuditGap = errors.Is(err, audit.ErrAppendFailed)
	}

	if dedupeKey != "" {
		d.settle(ctx, dedupeKey, err == nil)
	}
	d.report(ctx, out)
	return out
}

func (d *Dispatcher) settle(ctx context.Context, key string, done bool) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if done {
		err = d.deduper.Complete(ctx, key)
	} else {
		err = d.deduper.Release(ctx, key)
	}
	if err != nil {
		d.logger.WarnContext(ctx, "dedupe settle failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) report(ctx context.Context, out Outcome) {
	eventsTotal.WithLabelValues(out.Trigger, string(out.Status)).Inc()
	if out.AuditGap {
		auditGapsTotal.WithLabelValues(out.Trigger).Inc()
	}

	if out.Err == nil {
		return
	}

	d.logger.ErrorContext(ctx, "trigger failed",
		slog.String("status", string(out.Status)),
		slog.String("document_id", out.DocumentID),
		slog.Any("completed_steps", out.CompletedSteps),
		slog.Bool("audit_gap", out.AuditGap),
		slog.String("error", out.Error),
	)

	if d.outcomes != nil {
		if err := d.outcomes.Publish(context.WithoutCancel(ctx), out); err != nil {
			d.logger.WarnContext(ctx, "publish outcome failed", slog.String("error", err.Error()))
		}
	}
}

// Submit runs Dispatch on its own goroutine once a concurrency slot is free.
// The handler keeps running if ctx is cancelled after the slot was taken.
func (d *Dispatcher) Submit(ctx context.Context, evt ChangeEvent, done func(Outcome)) error {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.wg.Add(1)
	go func() {
		defer func() {
			<-d.sem
			d.wg.Done()
		}()
		out := d.Dispatch(context.WithoutCancel(ctx), evt)
		if done != nil {
			done(out)
		}
	}()
	return nil
}

// Wait blocks until every submitted event has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Run submits events until the channel closes or ctx is done, then waits
// for in-flight handlers.
func (d *Dispatcher) Run(ctx context.Context, events <-chan ChangeEvent) error {
	defer d.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.Submit(ctx, evt, nil); err != nil {
				return err
			}
		}
	}
}

// Invoke serves a callable. The returned error is always a *Failure.
func (d *Dispatcher) Invoke(ctx context.Context, req InvocationRequest) (any, error) {
	d.mu.RLock()
	h, ok := d.callables[req.Name]
	d.mu.RUnlock()
	if !ok {
		invocationsTotal.WithLabelValues("unknown", CodeNotFound).Inc()
		return nil, Fail(CodeNotFound, "Function %s does not exist.", req.Name)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx = contextx.WithTrigger(ctx, req.Name)
	ctx = contextx.WithEntryPoint(ctx, string(KindCallable))
	if req.CallerID != "" {
		ctx = contextx.WithAuthPrincipalID(ctx, req.CallerID)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = req.ID
	}
	ctx = contextx.WithIdempotencyKey(ctx, "call:"+req.Name+":"+req.CallerID+":"+key)

	if d.gate != nil && !d.gate.IsEnabled(ctx, GateKey(req.Name)) {
		invocationsTotal.WithLabelValues(req.Name, CodeUnavailable).Inc()
		return nil, Fail(CodeUnavailable, "Function %s is disabled.", req.Name)
	}

	var result any
	call := Call{Trigger: req.Name, Kind: KindCallable, EventID: req.ID}
	err := d.execute(ctx, call, func(ctx context.Context) error {
		var err error
		result, err = h.Invoke(ctx, req)
		return err
	})
	if err == nil {
		invocationsTotal.WithLabelValues(req.Name, "ok").Inc()
		return result, nil
	}

	f := AsFailure(err)
	invocationsTotal.WithLabelValues(req.Name, f.Code).Inc()
	level := slog.LevelInfo
	if f.Code == CodeInternal || f.Code == CodeUnavailable {
		level = slog.LevelError
	}
	d.logger.Log(ctx, level, "callable rejected",
		slog.String("caller", req.CallerID),
		slog.String("code", f.Code),
		slog.String("error", err.Error()),
	)
	return nil, f
}

// execute runs fn through the middleware chain and turns panics anywhere in
// it into ErrPanic.
func (d *Dispatcher) execute(ctx context.Context, call Call, fn Next) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "trigger panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return d.chain(ctx, call, fn)
}

// GateKey is the feature key that enables or disables a trigger.
func GateKey(name string) string { return "trigger." + name }
