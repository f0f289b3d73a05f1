package dispatch

// PosterID indexes the dispatcher's posters table (spec §4.5).
type PosterID int

const (
	PosterAudioEngine PosterID = iota
	PosterMIDIDispatcher
	PosterOSCFrontend
	PosterWorker
	PosterController
	maxPosters
)

// Status is the result of a poster processing one Event (spec §6 "Poster ABI").
type Status int

const (
	HandledOK Status = iota
	QueuedHandling
	UnrecognizedEvent
	UnrecognizedReceiver
	ErrorStatus
)

// EventPoster is a named endpoint that can receive Events from the
// dispatcher. The dispatcher itself registers as PosterController.
type EventPoster interface {
	PosterID() PosterID
	Process(ev *Event) Status
}
