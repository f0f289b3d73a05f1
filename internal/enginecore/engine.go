package enginecore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// ChainSnapshot is an immutable, point-in-time view of one chain's topology,
// published by Engine whenever its structure changes (add/remove/reorder).
// It exists purely for introspection (telemetry, the admin API) — nothing
// on the audio thread ever reads it.
type ChainSnapshot struct {
	ID             ObjectID
	Name           string
	InputChannels  int
	OutputChannels int
	ProcessorIDs   []ObjectID
	ProcessorNames []string
}

// EngineStats is a snapshot of engine-wide counters, safe to read from any
// goroutine.
type EngineStats struct {
	BlocksProcessed    uint64
	MissedDeadlines    uint64
	UnknownTargetDrops uint64
	LastBlockNanos     int64
}

// Engine owns the named chains of Processors, drains the inbound RT queue
// to route events to their targets, calls each Processor for one block, and
// collects emitted events onto the outbound RT queue (spec §4.4). Exactly
// one audio thread ever calls ProcessChunk; exactly one non-audio thread
// (the dispatcher's drain step, or a worker emitting a mutation) ever
// pushes onto In.
type Engine struct {
	In  *rtqueue.Queue // inbound RT queue: dispatcher/frontend -> engine
	Out *rtqueue.Queue // outbound RT queue: engine -> dispatcher

	ids *IDGenerator

	sampleRate int
	blockSize  int

	// blockStartTime is the wall-clock anchor for the block about to be
	// processed; set authoritatively by UpdateTime before each ProcessChunk
	// call, and self-advanced at the end of ProcessChunk as a fallback
	// (spec §4.4 step 5) if the caller skips a call.
	blockStartTime Time

	// registry is the only place a live Processor reference exists. Chains
	// hold only ObjectIDs; removing an id from a chain's order never
	// requires releasing or destroying the Processor — that happens later,
	// off the audio thread, when the worker drains the KindProcessorRemove
	// event this Engine pushes onto Out.
	registry map[ObjectID]Processor

	chains     []*Chain
	chainByID  map[ObjectID]*Chain
	chainByNm  map[string]*Chain

	// scratch holds the per-chain intermediate buffers, sized once and
	// reused every block so ProcessChunk itself never allocates.
	scratch map[ObjectID]SampleBuffer

	stats struct {
		blocksProcessed    atomic.Uint64
		missedDeadlines    atomic.Uint64
		unknownTargetDrops atomic.Uint64
		lastBlockNanos     atomic.Int64
	}

	// snapshot is published only when topology changes (chain/processor
	// add/remove/reorder), never on the steady-state per-block path — see
	// DESIGN.md for why this allocation is acceptable here.
	snapshot atomic.Pointer[[]ChainSnapshot]

	// mu protects the bookkeeping paths that construct or remove
	// chains/processors (RegisterChain/RegisterProcessor and friends, used
	// by the worker before it emits the corresponding RtEvent). ProcessChunk
	// also takes it, through schedulePublish, on a block that applies a
	// processor insert/remove/reorder RtEvent; on such a block the audio
	// thread is not lock-free.
	mu sync.Mutex
}

// NewEngine creates an engine with the given inbound/outbound RT queues.
func NewEngine(in, out *rtqueue.Queue, ids *IDGenerator) *Engine {
	e := &Engine{
		In:        in,
		Out:       out,
		ids:       ids,
		registry:  make(map[ObjectID]Processor),
		chainByID: make(map[ObjectID]*Chain),
		chainByNm: make(map[string]*Chain),
		scratch:   make(map[ObjectID]SampleBuffer),
	}
	empty := []ChainSnapshot{}
	e.snapshot.Store(&empty)
	return e
}

// SetSampleRate configures the engine before the first block (spec §6).
func (e *Engine) SetSampleRate(sr int) {
	e.sampleRate = sr
}

// SetBlockSize configures the frames-per-block the engine expects.
func (e *Engine) SetBlockSize(n int) {
	e.blockSize = n
}

// UpdateTime is called by the audio I/O backend just before ProcessChunk
// each block (spec §6).
func (e *Engine) UpdateTime(usecSinceStart int64) {
	e.blockStartTime = Time(usecSinceStart)
}

// Stats returns a snapshot of engine-wide counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		BlocksProcessed:    e.stats.blocksProcessed.Load(),
		MissedDeadlines:    e.stats.missedDeadlines.Load(),
		UnknownTargetDrops: e.stats.unknownTargetDrops.Load(),
		LastBlockNanos:     e.stats.lastBlockNanos.Load(),
	}
}

// Chains returns the most recently published topology snapshot. Safe to
// call from any goroutine; never touched by the audio thread's hot path.
func (e *Engine) Chains() []ChainSnapshot {
	return *e.snapshot.Load()
}

// RegisterChain adds an empty chain to the engine and publishes a new
// topology snapshot. Must be called off the audio thread (the worker, in
// response to an add_chain engine-mutation event), before any processor
// insertion RtEvent referencing it is pushed.
func (e *Engine) RegisterChain(name string, inputChannels, outputChannels int) *Chain {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := NewChain(e.ids.Next(), name, inputChannels, outputChannels)
	e.chains = append(e.chains, c)
	e.chainByID[c.ID()] = c
	e.chainByNm[name] = c
	e.scratch[c.ID()] = make(SampleBuffer, outputChannels)
	for i := range e.scratch[c.ID()] {
		e.scratch[c.ID()][i] = make([]float32, e.blockSize)
	}
	e.publishSnapshotLocked()
	return c
}

// RemoveChain deletes a chain by name. Must be called off the audio thread.
func (e *Engine) RemoveChain(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.chainByNm[name]
	if !ok {
		return false
	}
	delete(e.chainByNm, name)
	delete(e.chainByID, c.ID())
	delete(e.scratch, c.ID())
	for i, cc := range e.chains {
		if cc == c {
			e.chains = append(e.chains[:i], e.chains[i+1:]...)
			break
		}
	}
	e.publishSnapshotLocked()
	return true
}

// RegisterProcessor adds a processor to the engine's registry, making it a
// valid RtEvent target. Must be called off the audio thread, before the
// KindProcessorInsert RtEvent referencing its id is pushed (spec §4.6).
func (e *Engine) RegisterProcessor(p Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[p.ID()] = p
}

// UnregisterProcessor drops a processor from the registry, making it no
// longer a valid RtEvent target and invisible to ProcessorIDByName/Processor.
// Must be called off the audio thread, after the audio thread has already
// removed the processor's id from every chain (spec §4.6 two-phase
// transfer) — this is the final step, run by the worker once it has
// destroyed the processor's resources.
func (e *Engine) UnregisterProcessor(id ObjectID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.registry, id)
}

// ChainIDByName resolves a chain's id by its name, for callers (worker-side
// engine mutations) that only know the chain by name.
func (e *Engine) ChainIDByName(name string) (ObjectID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.chainByNm[name]
	if !ok {
		return 0, false
	}
	return c.ID(), true
}

// SampleRate returns the engine's configured sample rate in Hz.
func (e *Engine) SampleRate() int { return e.sampleRate }

// BlockSize returns the engine's configured frames-per-block.
func (e *Engine) BlockSize() int { return e.blockSize }

// Processor looks up a registered processor by id.
func (e *Engine) Processor(id ObjectID) (Processor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.registry[id]
	return p, ok
}

// ProcessorIDByName resolves a registered processor's id by its globally
// unique name. Rare and off-audio-thread only (worker-side mutations), so a
// linear scan over the registry is acceptable.
func (e *Engine) ProcessorIDByName(name string) (ObjectID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.registry {
		if p.Name() == name {
			return id, true
		}
	}
	return 0, false
}

// publishSnapshotLocked rebuilds and stores the topology snapshot. Callers
// must hold e.mu (RegisterChain/RemoveChain do; schedulePublish acquires it
// itself since the audio thread never otherwise takes this lock).
func (e *Engine) publishSnapshotLocked() {
	snaps := make([]ChainSnapshot, 0, len(e.chains))
	for _, c := range e.chains {
		ids := c.Order()
		names := make([]string, len(ids))
		for i, id := range ids {
			if p, ok := e.registry[id]; ok {
				names[i] = p.Name()
			}
		}
		idsCopy := make([]ObjectID, len(ids))
		copy(idsCopy, ids)
		snaps = append(snaps, ChainSnapshot{
			ID:             c.ID(),
			Name:           c.Name(),
			InputChannels:  c.InputChannels(),
			OutputChannels: c.OutputChannels(),
			ProcessorIDs:   idsCopy,
			ProcessorNames: names,
		})
	}
	e.snapshot.Store(&snaps)
}

// hostAdapter is the Host implementation handed to processors. It closes
// over the engine so RequestOutputRtEvent can push straight onto Out.
type hostAdapter struct {
	e      *Engine
	postFn func(NonRtEvent)
}

func (h *hostAdapter) PostEvent(ev NonRtEvent)                     { h.postFn(ev) }
func (h *hostAdapter) RequestOutputRtEvent(ev rtqueue.RtEvent)     { h.e.Out.TryPush(ev) }
func (h *hostAdapter) TimeNow() Time                               { return h.e.blockStartTime }
func (h *hostAdapter) SampleRate() int                             { return h.e.sampleRate }

// NewHost returns the Host facade processors use, bound to this engine.
// postFn is supplied by whoever wires the engine to a dispatcher (it
// forwards to the dispatcher's in_queue); it is never nil in a fully wired
// system, but tests may pass a no-op.
func (e *Engine) NewHost(postFn func(NonRtEvent)) Host {
	if postFn == nil {
		postFn = func(NonRtEvent) {}
	}
	return &hostAdapter{e: e, postFn: postFn}
}

// ProcessChunk executes the per-block protocol (spec §4.4) on in/out, which
// must be sized blockSize x channels. It must be called from exactly one
// audio thread.
func (e *Engine) ProcessChunk(in, out SampleBuffer, host Host) {
	start := time.Now()

	// Step 1: time sync — announce this block's start to the dispatcher.
	e.Out.TryPush(rtqueue.RtEvent{Kind: rtqueue.KindSync, WallClockMicros: int64(e.blockStartTime)})

	// Step 2: drain incoming RT events, routing each to its target.
	for {
		ev, ok := e.In.TryPop()
		if !ok {
			break
		}
		e.routeEvent(ev, host)
	}

	// Step 3: process chains in configured order.
	for _, c := range e.chains {
		chainOut := e.scratch[c.ID()]
		for _, ch := range chainOut {
			for i := range ch {
				ch[i] = 0
			}
		}
		stageIn := in
		for _, pid := range c.Order() {
			p, ok := e.registry[pid]
			if !ok {
				continue
			}
			p.ProcessAudio(stageIn, chainOut)
			stageIn = chainOut
		}
		n := len(chainOut)
		if n > len(out) {
			n = len(out)
		}
		for i := 0; i < n; i++ {
			copy(out[i], chainOut[i])
		}
	}

	// Step 4 (emission) happens inline above via host.RequestOutputRtEvent
	// calls made from inside ProcessEvent/ProcessAudio.

	// Step 5: advance the fallback block-start anchor.
	e.blockStartTime += Time(int64(e.blockSize) * 1_000_000 / int64(e.sampleRate))

	elapsed := time.Since(start)
	e.stats.lastBlockNanos.Store(elapsed.Nanoseconds())
	if e.sampleRate > 0 {
		budget := time.Duration(e.blockSize) * time.Second / time.Duration(e.sampleRate)
		if elapsed > budget {
			e.stats.missedDeadlines.Add(1)
		}
	}
	e.stats.blocksProcessed.Add(1)
}

// routeEvent dispatches a single inbound RtEvent to its target (spec §4.4
// step 2). Graph-mutation events affect chain topology directly; all
// others are forwarded to the target processor's ProcessEvent.
func (e *Engine) routeEvent(ev rtqueue.RtEvent, host Host) {
	switch ev.Kind {
	case rtqueue.KindProcessorInsert:
		c, ok := e.chainByID[ev.ChainID]
		if !ok {
			e.stats.unknownTargetDrops.Add(1)
			return
		}
		if _, ok := e.registry[ev.ProcessorID]; !ok {
			e.stats.unknownTargetDrops.Add(1)
			return
		}
		c.insertAt(ev.Slot, ev.ProcessorID)
		e.schedulePublish()
		return
	case rtqueue.KindProcessorRemove:
		c, ok := e.chainByID[ev.ChainID]
		if !ok {
			e.stats.unknownTargetDrops.Add(1)
			return
		}
		if c.removeID(ev.ProcessorID) {
			// Two-phase transfer: hand the id back on the outbound queue so
			// the worker (never the audio thread) destroys the processor.
			e.Out.TryPush(rtqueue.RtEvent{Kind: rtqueue.KindProcessorRemove, ProcessorID: ev.ProcessorID, ChainID: ev.ChainID})
			e.schedulePublish()
		}
		return
	case rtqueue.KindProcessorReorder:
		c, ok := e.chainByID[ev.ChainID]
		if !ok {
			e.stats.unknownTargetDrops.Add(1)
			return
		}
		order := c.Order()
		for i, id := range order {
			if id == ev.ProcessorID {
				newOrder := make([]ObjectID, len(order))
				copy(newOrder, order)
				newOrder = append(newOrder[:i], newOrder[i+1:]...)
				target := ev.Slot
				if target > len(newOrder) {
					target = len(newOrder)
				}
				if target < 0 {
					target = 0
				}
				newOrder = append(newOrder, 0)
				copy(newOrder[target+1:], newOrder[target:])
				newOrder[target] = ev.ProcessorID
				c.reorder(newOrder)
				e.schedulePublish()
				return
			}
		}
		e.stats.unknownTargetDrops.Add(1)
		return
	}

	p, ok := e.registry[ev.ProcessorID]
	if !ok {
		e.stats.unknownTargetDrops.Add(1)
		return
	}
	p.ProcessEvent(ev, host)
}

// schedulePublish republishes the topology snapshot. Called only from
// routeEvent (step 2 of a block, i.e. still the audio thread) in response
// to a graph-mutation event, which are rare compared to parameter/keyboard
// events — see DESIGN.md for why this allocation and lock acquisition are
// an accepted exception to the steady-state no-allocation, lock-free rule.
func (e *Engine) schedulePublish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishSnapshotLocked()
}
