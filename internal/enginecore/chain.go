package enginecore

// Chain is an ordered sequence of Processor references forming one signal
// path, addressed by name and by id (spec §3). A Chain holds only
// ObjectIDs, never Processor values directly: the audio thread resolves
// each id against the Engine's processor registry once per block, so that
// removing a processor never requires the audio thread to release (let
// alone destroy) a reference — it only drops an integer from the slice.
type Chain struct {
	id             ObjectID
	name           string
	inputChannels  int
	outputChannels int
	order          []ObjectID
}

// NewChain creates an empty chain with the given fixed channel counts.
func NewChain(id ObjectID, name string, inputChannels, outputChannels int) *Chain {
	return &Chain{id: id, name: name, inputChannels: inputChannels, outputChannels: outputChannels}
}

func (c *Chain) ID() ObjectID         { return c.id }
func (c *Chain) Name() string         { return c.name }
func (c *Chain) InputChannels() int   { return c.inputChannels }
func (c *Chain) OutputChannels() int  { return c.outputChannels }

// Order returns the chain's processor ids in execution order. The returned
// slice must not be mutated by the caller.
func (c *Chain) Order() []ObjectID { return c.order }

// insertAt inserts id at position idx (clamped into range), shifting later
// entries down. Called only from the audio thread during RtEvent drain
// (spec §4.4 step 2), so no lock is needed — the chain's order slice is
// exclusively owned by that thread.
func (c *Chain) insertAt(idx int, id ObjectID) {
	if idx < 0 {
		idx = 0
	}
	if idx > len(c.order) {
		idx = len(c.order)
	}
	c.order = append(c.order, 0)
	copy(c.order[idx+1:], c.order[idx:])
	c.order[idx] = id
}

// removeID removes the first occurrence of id from the chain, returning
// whether it was found. The audio thread calls this in response to a
// KindProcessorRemove RtEvent; the removed processor itself is destroyed
// later, off the audio thread, by the worker (spec §4.6).
func (c *Chain) removeID(id ObjectID) bool {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return true
		}
	}
	return false
}

// reorder replaces the chain's order wholesale. Called only from the audio
// thread, atomically with respect to any observer because Go slice
// assignment of a pointer-sized header cannot be observed half-written by
// another goroutine that never holds a reference to this Chain concurrently
// (only the audio thread touches Chain.order).
func (c *Chain) reorder(newOrder []ObjectID) {
	c.order = newOrder
}
