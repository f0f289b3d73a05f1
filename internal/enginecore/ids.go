// Package enginecore implements the real-time processing plane: the event
// timer, the Processor contract, chains of processors, the host-control
// facade, and the engine core that drives them one audio block at a time.
package enginecore

import (
	"sync/atomic"

	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// ObjectID is the stable 32-bit identifier shared by processors, parameters,
// and chains. ObjectIDs are issued by IDGenerator and are never reused
// within a process lifetime.
type ObjectID = rtqueue.ObjectID

// IDGenerator issues process-wide monotonic ObjectIDs. The zero value is not
// usable; construct with NewIDGenerator.
type IDGenerator struct {
	next atomic.Uint32
}

// NewIDGenerator returns a generator whose first issued id is 1 (0 is
// reserved to mean "no target"/"unassigned").
func NewIDGenerator() *IDGenerator {
	g := &IDGenerator{}
	g.next.Store(1)
	return g
}

// Next returns the next unused ObjectID. Safe for concurrent use.
func (g *IDGenerator) Next() ObjectID {
	return ObjectID(g.next.Add(1) - 1)
}
