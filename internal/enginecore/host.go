package enginecore

import "github.com/fluxaudio/corehost/internal/rtqueue"

// NonRtEvent is the minimal shape of a non-RT Event a Processor can post
// through the host facade. It mirrors the subset of dispatch.Event fields a
// Processor is allowed to originate; the full Event type (with poster
// routing, completion callbacks, etc.) lives in package dispatch, which
// cannot be imported here without an import cycle (dispatch depends on
// enginecore's RtEvent/Time types). PostEvent takes this narrow shape and
// the engine's dispatcher-facing adapter fills in the rest.
type NonRtEvent struct {
	Time    Time
	Payload any
}

// Host is the handle passed to every Processor at construction (spec §4.8).
// It is the only channel by which a Processor talks to the outside world;
// Processors never see the dispatcher or engine directly.
type Host interface {
	// PostEvent hands a non-RT Event to the dispatcher's inbound queue.
	PostEvent(ev NonRtEvent)
	// RequestOutputRtEvent pushes ev onto the engine's outgoing RT queue —
	// used for notifications and for re-routing (e.g. a transposer emitting
	// a new note event in place of the one it consumed).
	RequestOutputRtEvent(ev rtqueue.RtEvent)
	// TimeNow returns the current wall-clock Time as seen by the engine.
	TimeNow() Time
	// SampleRate returns the engine's configured sample rate in Hz.
	SampleRate() int
}
