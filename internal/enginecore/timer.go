package enginecore

import "math"

// Timer holds the bidirectional mapping between wall-clock Time and sample
// offsets within the block the engine is currently processing. It is
// mutated exactly once per audio block via SetIncomingTime/SetOutgoingTime
// (driven by the SYNC RtEvent, spec §4.4 step 1 and §4.5 step 3).
type Timer struct {
	currentBlockStart  Time
	outgoingBlockStart Time
	sampleRate         int
	blockSize          int
}

// NewTimer creates a timer for the given sample rate and block size. Both
// anchors start at zero; the dispatcher sets both from each SYNC RtEvent the
// engine emits.
func NewTimer(sampleRate, blockSize int) *Timer {
	return &Timer{sampleRate: sampleRate, blockSize: blockSize}
}

// SampleRate returns the configured sample rate in Hz.
func (t *Timer) SampleRate() int { return t.sampleRate }

// BlockSize returns the configured frames-per-block.
func (t *Timer) BlockSize() int { return t.blockSize }

// blockDuration is the wall-clock span of one block, in Time units.
func (t *Timer) blockDuration() Time {
	return Time(math.Round(float64(t.blockSize) * 1e6 / float64(t.sampleRate)))
}

// BlockDuration exports blockDuration for callers that need the wall-clock
// span of one audio block.
func (t *Timer) BlockDuration() Time {
	return t.blockDuration()
}

// Lateness returns how far wallClock lies before the current block's start
// anchor. A positive result means wallClock is in the past relative to the
// block the timer currently has in flight; zero or negative means it is
// current or in the future.
func (t *Timer) Lateness(wallClock Time) Time {
	return t.currentBlockStart - wallClock
}

// SetIncomingTime advances the anchor used by SampleOffsetFromRealTime.
// Called once per audio block from the value carried by the SYNC RtEvent.
func (t *Timer) SetIncomingTime(wallClock Time) {
	t.currentBlockStart = wallClock
}

// SetOutgoingTime advances the anchor used by RealTimeFromSampleOffset.
// Called once per audio block when the engine emits its SYNC RtEvent.
func (t *Timer) SetOutgoingTime(wallClock Time) {
	t.outgoingBlockStart = wallClock
}

// SampleOffsetFromRealTime maps a wall-clock Time to a position within the
// block currently being dispatched. It returns sendNow=true and an offset
// clamped to [0, blockSize-1] if t is at or before
// currentBlockStart+blockDuration (a time before currentBlockStart maps to
// offset 0); otherwise sendNow=false and the caller must retry on a later
// tick.
func (t *Timer) SampleOffsetFromRealTime(wallClock Time) (sendNow bool, offset int) {
	if wallClock > t.currentBlockStart+t.blockDuration() {
		return false, 0
	}
	deltaUs := float64(wallClock - t.currentBlockStart)
	raw := int(math.Round(deltaUs * float64(t.sampleRate) / 1e6))
	if raw < 0 {
		raw = 0
	}
	if raw >= t.blockSize {
		raw = t.blockSize - 1
	}
	return true, raw
}

// RealTimeFromSampleOffset maps a position within the block the engine just
// finished emitting back to a wall-clock Time, for converting outgoing
// RtEvents into non-RT Events (spec §4.5 step 3).
func (t *Timer) RealTimeFromSampleOffset(offset int) Time {
	deltaUs := math.Round(float64(offset) * 1e6 / float64(t.sampleRate))
	return t.outgoingBlockStart + Time(deltaUs)
}
