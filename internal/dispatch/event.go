// Package dispatch implements the non-real-time event scheduler that sits
// between control producers (frontends, the worker, the engine's outbound RT
// queue) and the engine's inbound RT queue. It classifies Events, routes them
// to registered posters, converts timed Events into sample-accurate RtEvents,
// and fans notifications out to subscribers.
package dispatch

import (
	"github.com/google/uuid"

	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// EventKind tags the payload an Event carries.
type EventKind uint8

const (
	EventKeyboard EventKind = iota
	EventParameterChange
	EventParameterChangeNotification
	EventEngineMutation
	EventAsyncWork
	EventAsyncWorkCompletion
	// EventSubscribe and EventUnsubscribe are internal control kinds: the
	// only way Subscribe/Unsubscribe reach the dispatcher's listener
	// slices is by posting one of these through in_queue, so the slices are
	// never touched by any goroutine but the dispatcher's own (spec §9
	// "subscription during dispatch").
	EventSubscribe
	EventUnsubscribe
)

// CompletionStatus is the terminal status passed to an Event's completion
// callback (spec §6 "Event status codes").
type CompletionStatus int

const (
	CompletionOK CompletionStatus = iota
	CompletionError
	CompletionCancelled
	CompletionTimedOut
)

// CompletionFunc is invoked exactly once for every Event that does not end
// in QueuedHandling (spec testable property 5).
type CompletionFunc func(arg any, ev *Event, status CompletionStatus)

// EngineMutation is an engine-mutation Event payload: add/remove a chain or
// processor. Execute runs on the worker thread, never on the audio thread.
type EngineMutation interface {
	Execute(e *enginecore.Engine) error
}

// AsyncWork is an asynchronous-work Event payload executed by the worker.
// A non-nil returned Event is re-posted to the dispatcher as a completion
// notification (spec §4.6).
type AsyncWork interface {
	Execute() (followUp *Event, err error)
}

// KeyboardPayload carries a keyboard/note Event destined for the RT queue.
type KeyboardPayload struct {
	ProcessorID  enginecore.ObjectID
	Type         rtqueue.KeyboardEventType
	Note         int
	Value        float32
}

// ParameterChangePayload carries a parameter-change Event destined for the
// RT queue, or (as ParameterChangeNotification) one broadcast to listeners.
type ParameterChangePayload struct {
	ProcessorID enginecore.ObjectID
	ParameterID enginecore.ObjectID
	FloatValue  float32
}

// Listener receives broadcast notifications in subscription order (spec
// testable property 4).
type Listener interface {
	Notify(ev *Event)
}

// Event is the non-RT variant record routed by the dispatcher (spec §3).
// Time is assigned at creation and never mutated; Receiver is either
// pre-assigned by the producer or left as PosterController for the
// dispatcher to classify.
type Event struct {
	ID                    uuid.UUID
	Kind                  EventKind
	Receiver              PosterID
	Time                  enginecore.Time
	ProcessAsynchronously bool
	Payload               any
	Completion            CompletionFunc
	CompletionArg         any
}

// NewEvent constructs an Event stamped with a fresh correlation id.
func NewEvent(kind EventKind, receiver PosterID, t enginecore.Time, payload any) *Event {
	return &Event{ID: uuid.New(), Kind: kind, Receiver: receiver, Time: t, Payload: payload}
}

// complete invokes the completion callback, if any, exactly once.
func (e *Event) complete(status CompletionStatus) {
	if e.Completion != nil {
		e.Completion(e.CompletionArg, e, status)
	}
}

// ToRtEvent converts a keyboard or parameter-change Event into the RtEvent
// it maps onto at the given sample offset. ok is false for Event kinds that
// have no RT representation.
func (e *Event) ToRtEvent(offset int) (ev rtqueue.RtEvent, ok bool) {
	switch p := e.Payload.(type) {
	case KeyboardPayload:
		return rtqueue.RtEvent{
			Kind:         rtqueue.KindKeyboard,
			SampleOffset: offset,
			ProcessorID:  p.ProcessorID,
			KeyboardType: p.Type,
			Note:         p.Note,
			Value:        p.Value,
		}, true
	case ParameterChangePayload:
		return rtqueue.RtEvent{
			Kind:         rtqueue.KindParameterChange,
			SampleOffset: offset,
			ProcessorID:  p.ProcessorID,
			ParameterID:  p.ParameterID,
			FloatValue:   p.FloatValue,
		}, true
	default:
		return rtqueue.RtEvent{}, false
	}
}
