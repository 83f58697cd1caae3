package command

import (
	"context"
	"errors"
)

// Statuses carried by stream events.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is one frame of a command's output stream. Progress is a pointer
// so an explicit 0.0 survives serialization while terminal frames without
// progress omit the key.
type Event struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Progress *float64       `json:"progress,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Status != StatusRunning
}

// ErrStreamEnded is returned when a handler emits after its terminal frame.
var ErrStreamEnded = errors.New("stream already ended by terminal event")

// Emitter delivers a handler's events to the engine relay, unbuffered, and
// enforces the single-terminal-frame rule. Once the invocation context is
// done every emit returns the context's error. An Emitter must be used
// from a single goroutine.
type Emitter struct {
	ctx   context.Context
	out   chan<- Event
	ended bool
}

// NewEmitter wires an emitter to an event channel. The engine is the usual
// caller; tests construct them directly.
func NewEmitter(ctx context.Context, out chan<- Event) *Emitter {
	return &Emitter{ctx: ctx, out: out}
}

// Progress emits a running frame. The fraction is clamped to [0, 1].
func (em *Emitter) Progress(fraction float64, message string, data map[string]any) error {
	f := clamp01(fraction)
	return em.emit(Event{Status: StatusRunning, Message: message, Progress: &f, Data: data})
}

// Success emits the terminal success frame at progress 1.0.
func (em *Emitter) Success(message string, data map[string]any) error {
	f := 1.0
	return em.emit(Event{Status: StatusSuccess, Message: message, Progress: &f, Data: data})
}

// Ended reports whether a terminal frame has been emitted.
func (em *Emitter) Ended() bool {
	return em.ended
}

func (em *Emitter) emit(ev Event) error {
	if em.ended {
		return ErrStreamEnded
	}
	select {
	case em.out <- ev:
		if ev.Terminal() {
			em.ended = true
		}
		return nil
	case <-em.ctx.Done():
		return em.ctx.Err()
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
