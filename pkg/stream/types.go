package stream

import (
	"context"
	"time"
)

// Transport is the duplex line channel to the firmware.
// A Session owns its Transport exclusively.
type Transport interface {
	// WriteLine writes text followed by a line terminator.
	WriteLine(text string) error
	// ReadLine reads one line with terminators removed. A timeout <= 0
	// blocks until a line arrives. On timeout the error satisfies
	// IsTimeout and no data is lost.
	ReadLine(timeout time.Duration) (string, error)
	// FlushInbound discards everything received but not yet read.
	FlushInbound() error
	// Close releases the channel.
	Close() error
}

// EventType identifies a progress event.
type EventType int

// Event types
const (
	EventWoken EventType = iota
	EventSent
	EventAck
	EventMessage
	EventDrained
	EventFinished
)

// Event reports progress of a Session.
type Event struct {
	Type    EventType
	Command *Command
	Ack     Ack
	// Line is the raw firmware line for EventMessage.
	Line string
}

// EventHandler is called synchronously on progress.
type EventHandler interface {
	HandleEvent(context.Context, Event)
}

// HandleEventFunc is func type of EventHandler.
type HandleEventFunc func(context.Context, Event)

// HandleEvent implements EventHandler.
func (f HandleEventFunc) HandleEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Outcome pairs an Ordinary command with its acknowledgment.
type Outcome struct {
	Command *Command
	Ack     Ack
	// Err is ErrNoReply when the command was never acknowledged.
	Err error
}

// Failed indicates the command was rejected or never acknowledged.
func (o *Outcome) Failed() bool {
	return o.Err != nil || !o.Ack.OK()
}

// Result is the cumulative report of a Session.
type Result struct {
	// Sent counts all commands written.
	Sent int
	// Ordinary and Arcs split Sent by Kind.
	Ordinary int
	Arcs     int
	// Acked counts acknowledgments matched to Ordinary commands.
	Acked int
	// Failures counts Failure acknowledgments.
	Failures int
	// Unanswered counts Ordinary commands given up with ErrNoReply.
	Unanswered int
	// Outcomes in acknowledgment order, when kept.
	Outcomes []Outcome
}

// OK indicates nothing was rejected or left unanswered.
func (r *Result) OK() bool {
	return r.Failures == 0 && r.Unanswered == 0
}
