package events

import "time"

// EventType identifies the kind of lifecycle event emitted by the service.
type EventType string

const (
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventExecutionDenied    EventType = "execution.denied"
	EventExecutionRejected  EventType = "execution.rejected"
	EventGroupsReloaded     EventType = "groups.reloaded"
	EventMemberAdded        EventType = "groups.member_added"
	EventMemberRemoved      EventType = "groups.member_removed"
)

// Event represents a single service lifecycle event. Execution events carry
// the command and principal they concern; group events describe the change
// in Data.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Command   string        `json:"command,omitempty"`
	Principal string        `json:"principal,omitempty"`
	Data      any           `json:"data,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, data any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewExecutionEvent creates an Event tied to one command invocation.
func NewExecutionEvent(typ EventType, command, principal string) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Command:   command,
		Principal: principal,
	}
}
