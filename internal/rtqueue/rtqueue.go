// Package rtqueue implements the wait-free single-producer/single-consumer
// ring buffer that crosses the audio/non-audio thread boundary. Nothing in
// this package allocates, locks, or blocks on push or pop.
package rtqueue

import "sync/atomic"

// RtEventKind tags the payload carried by an RtEvent.
type RtEventKind uint8

const (
	KindParameterChange RtEventKind = iota
	KindStringParameterChange
	KindKeyboard
	KindRawMIDI
	KindAsyncWorkRequest
	KindAsyncWorkCompletion
	KindProcessorInsert
	KindProcessorRemove
	KindProcessorReorder
	KindSync
)

// KeyboardEventType enumerates the keyboard/note sub-kinds an RtEvent can carry.
type KeyboardEventType uint8

const (
	NoteOn KeyboardEventType = iota
	NoteOff
	Aftertouch
	PitchBend
	Modulation
	ProgramChange
)

// ObjectID is the stable 32-bit identifier for processors, parameters, and chains.
type ObjectID uint32

// RtEvent is the fixed-size, cache-line-friendly record carried across the
// RT queue. Exactly one of the payload fields is meaningful, selected by Kind.
// StringValue carries transferred ownership of a heap pointer: the producer
// must not touch it again after a successful push, and the consumer that
// pops a KindStringParameterChange event owns (and must release) it.
type RtEvent struct {
	Kind         RtEventKind
	SampleOffset int // [0, BlockSize)
	ProcessorID  ObjectID
	ParameterID  ObjectID

	// KindParameterChange
	FloatValue float32

	// KindStringParameterChange — ownership transferred through the queue.
	StringValue *string

	// KindKeyboard
	KeyboardType KeyboardEventType
	Note         int
	Value        float32 // velocity / aftertouch amount / bend / mod depth

	// KindRawMIDI
	MIDIBytes [4]byte
	MIDILen   uint8

	// KindAsyncWorkRequest / KindAsyncWorkCompletion
	WorkID     uint64
	WorkStatus int

	// KindProcessorInsert / KindProcessorRemove / KindProcessorReorder
	ChainID ObjectID
	Slot    int

	// KindSync
	WallClockMicros int64
}

// Queue is a fixed-capacity power-of-two ring of RtEvent records shared by
// exactly one producer goroutine and exactly one consumer goroutine.
type Queue struct {
	mask    uint64
	buf     []RtEvent
	head    atomic.Uint64 // next slot the consumer will read
	tail    atomic.Uint64 // next slot the producer will write
	dropped atomic.Uint64 // overflow counter, read by telemetry
}

// New creates a queue of the given capacity, which must be a power of two.
func New(capacity int) *Queue {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("rtqueue: capacity must be a power of two")
	}
	return &Queue{
		mask: uint64(capacity - 1),
		buf:  make([]RtEvent, capacity),
	}
}

// Capacity returns the fixed number of slots in the ring.
func (q *Queue) Capacity() int {
	return len(q.buf)
}

// TryPush writes ev into the ring. It returns false without blocking if the
// ring is full; the overflow counter is incremented and the caller is
// responsible for surfacing that as an error to whoever posted the event.
func (q *Queue) TryPush(ev RtEvent) bool {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail-head >= uint64(len(q.buf)) {
		q.dropped.Add(1)
		return false
	}
	q.buf[tail&q.mask] = ev
	// Release: the write above must be visible before the new tail is.
	q.tail.Store(tail + 1)
	return true
}

// TryPop reads the oldest unread event from the ring. It returns
// (RtEvent{}, false) without blocking if the ring is empty.
func (q *Queue) TryPop() (RtEvent, bool) {
	head := q.head.Load()
	// Acquire: must observe the producer's write before reading tail.
	tail := q.tail.Load()
	if head == tail {
		return RtEvent{}, false
	}
	ev := q.buf[head&q.mask]
	q.head.Store(head + 1)
	return ev, true
}

// Overflow returns the number of pushes dropped because the ring was full.
func (q *Queue) Overflow() uint64 {
	return q.dropped.Load()
}

// Len returns a snapshot of the number of unread events in the ring. It is
// advisory only — the producer or consumer may race ahead of the snapshot.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}
