package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cgast/dispatchd/internal/auth"
	"github.com/cgast/dispatchd/internal/logging"
	"github.com/cgast/dispatchd/pkg/command"
	"github.com/cgast/dispatchd/pkg/events"
)

// Engine runs commands through the fixed request path: lookup, parameter
// validation, authorization, then the streamed handler execution.
type Engine struct {
	registry *command.Registry
	gate     *auth.Gate
	log      *logging.Logger
	bus      events.EventBus
}

// New creates an engine over the given registry and gate.
func New(registry *command.Registry, gate *auth.Gate, log *logging.Logger) *Engine {
	return &Engine{
		registry: registry,
		gate:     gate,
		log:      log,
	}
}

// SetBus attaches an event bus for execution lifecycle notifications.
func (e *Engine) SetBus(bus events.EventBus) {
	e.bus = bus
}

// Execute resolves, validates and authorizes the request, then starts the
// handler and returns its event channel. The channel is unbuffered: every
// event is handed to the caller as the handler produces it, and it closes
// after the terminal frame. Failures before the first frame are returned
// synchronously; the channel is nil in that case.
func (e *Engine) Execute(ctx context.Context, req command.Request) (<-chan command.Event, error) {
	if req.Principal == "" {
		return nil, &command.ValidationError{Field: command.FieldPrincipal, Reason: "principal is required"}
	}

	// Resolution comes first: an unknown command is reported as such even
	// to callers who could not have run it.
	d, err := e.registry.Lookup(req.Command)
	if err != nil {
		return nil, err
	}

	params, err := d.Schema.Validate(req.Params)
	if err != nil {
		e.publish(events.NewExecutionEvent(events.EventExecutionRejected, req.Command, req.Principal))
		return nil, err
	}

	if err := e.gate.Authorize(req.Principal, d.Policy); err != nil {
		e.log.Warnf("denied command=%s principal=%s", req.Command, req.Principal)
		e.publish(events.NewExecutionEvent(events.EventExecutionDenied, req.Command, req.Principal))
		return nil, err
	}

	out := make(chan command.Event)
	inv := command.NewInvocation(req.Principal, req.Command, params)
	go e.run(ctx, d, inv, out)
	return out, nil
}

// run drives one handler to its terminal frame and closes the stream.
func (e *Engine) run(ctx context.Context, d command.Descriptor, inv command.Invocation, out chan command.Event) {
	defer close(out)

	start := time.Now()
	e.log.Infof("executing command=%s principal=%s", inv.Command, inv.Principal)
	e.publish(events.NewExecutionEvent(events.EventExecutionStarted, inv.Command, inv.Principal))

	em := command.NewEmitter(ctx, out)
	err := e.invoke(ctx, d, inv, em)

	switch {
	case err != nil && em.Ended():
		// The stream already told the client it succeeded; the late error
		// is only worth a log line.
		e.log.Warnf("command=%s returned error after terminal frame: %v", inv.Command, err)
		e.finish(events.EventExecutionCompleted, inv, start)
	case err != nil:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.log.Infof("aborted command=%s principal=%s: %v", inv.Command, inv.Principal, err)
		} else {
			e.log.Errorf("failed command=%s principal=%s error=%v", inv.Command, inv.Principal, err)
		}
		e.fail(ctx, out, err.Error())
		e.finish(events.EventExecutionFailed, inv, start)
	case !em.Ended():
		// A stream may never just stop; the absent terminal becomes a
		// failure, not an invented success.
		e.log.Errorf("command=%s ended without a terminal event", inv.Command)
		e.fail(ctx, out, fmt.Sprintf("command %q ended without a terminal event", inv.Command))
		e.finish(events.EventExecutionFailed, inv, start)
	default:
		e.log.Infof("completed command=%s principal=%s duration=%s", inv.Command, inv.Principal, time.Since(start).Round(time.Millisecond))
		e.finish(events.EventExecutionCompleted, inv, start)
	}
}

// invoke calls the handler, converting a panic into a plain error.
func (e *Engine) invoke(ctx context.Context, d command.Descriptor, inv command.Invocation, em *command.Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return d.Handler(ctx, inv, em)
}

// fail sends a synthesized terminal error frame unless the caller is gone.
func (e *Engine) fail(ctx context.Context, out chan command.Event, message string) {
	select {
	case out <- command.Event{Status: command.StatusError, Message: message}:
	case <-ctx.Done():
	}
}

func (e *Engine) finish(typ events.EventType, inv command.Invocation, start time.Time) {
	ev := events.NewExecutionEvent(typ, inv.Command, inv.Principal)
	ev.Duration = time.Since(start)
	e.publish(ev)
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
