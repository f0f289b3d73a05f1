package dispatch

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// LateEventPolicy decides what happens to a timed Event whose target block
// has already passed (spec §9 open question, resolved in DESIGN.md).
type LateEventPolicy int

const (
	// DeliverASAP delivers a late event at sample_offset 0 of the next
	// block rather than dropping it. This is the default.
	DeliverASAP LateEventPolicy = iota
	// DropLate drops a late event, incrementing the overflow-style counter
	// and completing it with CompletionTimedOut.
	DropLate
)

// Dispatcher is the non-RT control-plane scheduler (spec §4.5). Exactly one
// goroutine runs its tick loop; all poster-table and listener-slice
// mutations happen only on that goroutine.
type Dispatcher struct {
	logger *slog.Logger

	tick   time.Duration
	timer  *enginecore.Timer
	outRT  *rtqueue.Queue // to the engine
	inRT   *rtqueue.Queue // from the engine (its outbound queue)
	policy LateEventPolicy

	inMu    sync.Mutex
	inQueue []*Event

	waitingList *list.List // of *Event, oldest-timed-event first

	posters [maxPosters]EventPoster

	keyboardListeners []Listener
	paramListeners    []Listener

	lateDrops    atomic.Uint64
	tickDuration atomic.Int64 // nanoseconds, last tick's wall-clock duration

	stopCh chan struct{}
	doneCh chan struct{}
	stopped atomic.Bool
}

// New creates a dispatcher bound to the engine's RT queues and timer.
// Register posters with RegisterPoster before calling Start; the dispatcher
// registers itself at PosterController.
func New(logger *slog.Logger, tick time.Duration, timer *enginecore.Timer, outRT, inRT *rtqueue.Queue, policy LateEventPolicy) *Dispatcher {
	d := &Dispatcher{
		logger:      logger.With("subsystem", "dispatcher"),
		tick:        tick,
		timer:       timer,
		outRT:       outRT,
		inRT:        inRT,
		policy:      policy,
		waitingList: list.New(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	d.posters[PosterController] = d
	return d
}

// RegisterPoster assigns a poster to its slot. Call before Start.
func (d *Dispatcher) RegisterPoster(p EventPoster) {
	d.posters[p.PosterID()] = p
}

// PosterID implements EventPoster: the dispatcher is poster CONTROLLER.
func (d *Dispatcher) PosterID() PosterID { return PosterController }

// Post enqueues ev onto the MPSC in_queue. Safe for concurrent use by any
// number of producer threads. Returns false (without enqueuing) if the
// dispatcher has been stopped; the caller must treat this as a synchronous
// failure (spec §5 cancellation).
func (d *Dispatcher) Post(ev *Event) bool {
	if d.stopped.Load() {
		return false
	}
	d.inMu.Lock()
	d.inQueue = append(d.inQueue, ev)
	d.inMu.Unlock()
	return true
}

// Subscribe registers a keyboard or parameter-change listener. It posts an
// internal control Event rather than mutating the slice directly, so the
// mutation always happens on the dispatcher's own goroutine.
func (d *Dispatcher) Subscribe(keyboard bool, l Listener) {
	ev := NewEvent(EventSubscribe, PosterController, d.timer.RealTimeFromSampleOffset(0), subscribePayload{keyboard: keyboard, listener: l})
	d.Post(ev)
}

// Unsubscribe removes a previously subscribed listener, again by posting an
// internal control Event rather than mutating the slice directly.
func (d *Dispatcher) Unsubscribe(keyboard bool, l Listener) {
	ev := NewEvent(EventUnsubscribe, PosterController, d.timer.RealTimeFromSampleOffset(0), subscribePayload{keyboard: keyboard, listener: l})
	d.Post(ev)
}

type subscribePayload struct {
	keyboard bool
	listener Listener
}

// Start launches the tick-loop goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop signals the tick loop to exit and waits for it to drain. Any Events
// remaining in in_queue or waiting_list are completed with
// CompletionCancelled (spec §5).
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			d.drainCancelled()
			return
		case <-ticker.C:
			d.runOneTick()
		}
	}
}

func (d *Dispatcher) runOneTick() {
	start := time.Now()

	d.drainWaitingList()
	d.drainInQueue()

	d.drainEngineOutbound()

	d.tickDuration.Store(time.Since(start).Nanoseconds())
}

// drainWaitingList evaluates each event on the waiting list at most once
// per tick (spec §4.5 step 2, drained "first"). scheduleRT re-queues a
// still-not-due event with waitingList.PushBack, which would otherwise put
// it right back at the front for an unbounded re-pop in the same tick — the
// timer only advances later, in drainEngineOutbound's SYNC handling, so
// that event can never become due within this tick. Snapshotting the
// length up front bounds the loop to the entries that existed at tick
// start; anything re-queued lands after them and waits for the next tick.
func (d *Dispatcher) drainWaitingList() {
	remaining := d.waitingList.Len()
	for i := 0; i < remaining; i++ {
		front := d.waitingList.Front()
		if front == nil {
			break
		}
		d.waitingList.Remove(front)
		d.dispatchAndComplete(front.Value.(*Event))
	}
}

// drainInQueue pops from in_queue until it is empty, matching spec §4.5
// step 2's tie-break (waiting_list first, already drained above).
func (d *Dispatcher) drainInQueue() {
	for {
		ev := d.popInQueue()
		if ev == nil {
			return
		}
		d.dispatchAndComplete(ev)
	}
}

func (d *Dispatcher) popInQueue() *Event {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	if len(d.inQueue) == 0 {
		return nil
	}
	ev := d.inQueue[0]
	d.inQueue = d.inQueue[1:]
	return ev
}

func (d *Dispatcher) dispatchAndComplete(ev *Event) {
	status := d.dispatchToPoster(ev)
	if status != QueuedHandling {
		cs := CompletionOK
		if status == UnrecognizedReceiver || status == UnrecognizedEvent || status == ErrorStatus {
			cs = CompletionError
		}
		ev.complete(cs)
	}
}

func (d *Dispatcher) dispatchToPoster(ev *Event) Status {
	if ev.Kind == EventSubscribe || ev.Kind == EventUnsubscribe {
		return d.applySubscription(ev)
	}
	if ev.Receiver < 0 || int(ev.Receiver) >= maxPosters || d.posters[ev.Receiver] == nil {
		return UnrecognizedReceiver
	}
	return d.posters[ev.Receiver].Process(ev)
}

func (d *Dispatcher) applySubscription(ev *Event) Status {
	p, ok := ev.Payload.(subscribePayload)
	if !ok {
		return ErrorStatus
	}
	if p.keyboard {
		if ev.Kind == EventSubscribe {
			d.keyboardListeners = append(d.keyboardListeners, p.listener)
		} else {
			d.keyboardListeners = removeListener(d.keyboardListeners, p.listener)
		}
	} else {
		if ev.Kind == EventSubscribe {
			d.paramListeners = append(d.paramListeners, p.listener)
		} else {
			d.paramListeners = removeListener(d.paramListeners, p.listener)
		}
	}
	return HandledOK
}

func removeListener(ls []Listener, target Listener) []Listener {
	for i, l := range ls {
		if l == target {
			return append(ls[:i], ls[i+1:]...)
		}
	}
	return ls
}

// Process implements EventPoster for the dispatcher's own CONTROLLER slot
// (spec §4.5 "the dispatcher itself is poster id CONTROLLER").
func (d *Dispatcher) Process(ev *Event) Status {
	if ev.ProcessAsynchronously {
		worker := d.posters[PosterWorker]
		if worker == nil {
			return UnrecognizedReceiver
		}
		ev.Receiver = PosterWorker
		return worker.Process(ev)
	}

	switch ev.Kind {
	case EventParameterChangeNotification:
		d.broadcast(d.paramListeners, ev)
		return HandledOK
	case EventKeyboard, EventParameterChange:
		return d.scheduleRT(ev)
	default:
		return UnrecognizedEvent
	}
}

func (d *Dispatcher) scheduleRT(ev *Event) Status {
	// Checked before SampleOffsetFromRealTime: that call clamps any
	// already-past time into the current block (sendNow=true), so a
	// severely late event must be caught here or it would always be
	// force-delivered instead of dropped under DropLate.
	if d.policy == DropLate && isLate(ev, d.timer, d.tick) {
		d.lateDrops.Add(1)
		ev.complete(CompletionTimedOut)
		return QueuedHandling
	}

	sendNow, offset := d.timer.SampleOffsetFromRealTime(ev.Time)
	if sendNow {
		rtEv, ok := ev.ToRtEvent(offset)
		if !ok {
			return UnrecognizedEvent
		}
		if d.outRT.TryPush(rtEv) {
			return HandledOK
		}
		return ErrorStatus
	}
	d.waitingList.PushBack(ev)
	return QueuedHandling
}

// isLate reports whether ev's target time is more than one tick in the past
// relative to the timer's current block anchor (spec §5: "dropped if t is
// in the past by more than one tick").
func isLate(ev *Event, timer *enginecore.Timer, tick time.Duration) bool {
	return timer.Lateness(ev.Time) > enginecore.Since(tick)
}

func (d *Dispatcher) broadcast(listeners []Listener, ev *Event) {
	for _, l := range listeners {
		l.Notify(ev)
	}
}

// drainEngineOutbound implements spec §4.5 step 3: pop every RtEvent the
// engine has emitted, convert it to a non-RT Event, and route it.
func (d *Dispatcher) drainEngineOutbound() {
	for {
		rtEv, ok := d.inRT.TryPop()
		if !ok {
			return
		}
		d.routeFromEngine(rtEv)
	}
}

func (d *Dispatcher) routeFromEngine(rtEv rtqueue.RtEvent) {
	switch rtEv.Kind {
	case rtqueue.KindSync:
		t := enginecore.Time(rtEv.WallClockMicros)
		d.timer.SetIncomingTime(t)
		d.timer.SetOutgoingTime(t)
	case rtqueue.KindKeyboard:
		ev := NewEvent(EventKeyboard, PosterController, d.timer.RealTimeFromSampleOffset(rtEv.SampleOffset), KeyboardPayload{
			ProcessorID: rtEv.ProcessorID, Type: rtEv.KeyboardType, Note: rtEv.Note, Value: rtEv.Value,
		})
		d.broadcast(d.keyboardListeners, ev)
	case rtqueue.KindParameterChange:
		ev := NewEvent(EventParameterChangeNotification, PosterController, d.timer.RealTimeFromSampleOffset(rtEv.SampleOffset), ParameterChangePayload{
			ProcessorID: rtEv.ProcessorID, ParameterID: rtEv.ParameterID, FloatValue: rtEv.FloatValue,
		})
		d.broadcast(d.paramListeners, ev)
	case rtqueue.KindAsyncWorkRequest, rtqueue.KindAsyncWorkCompletion, rtqueue.KindProcessorRemove:
		if worker := d.posters[PosterWorker]; worker != nil {
			ev := NewEvent(EventAsyncWorkCompletion, PosterWorker, d.timer.RealTimeFromSampleOffset(rtEv.SampleOffset), rtEv)
			worker.Process(ev)
		}
	}
}

// drainCancelled completes every Event still queued with CompletionCancelled
// (spec §5 cancellation).
func (d *Dispatcher) drainCancelled() {
	d.inMu.Lock()
	pending := d.inQueue
	d.inQueue = nil
	d.inMu.Unlock()

	for _, ev := range pending {
		ev.complete(CompletionCancelled)
	}
	for e := d.waitingList.Front(); e != nil; e = e.Next() {
		e.Value.(*Event).complete(CompletionCancelled)
	}
	d.waitingList.Init()
}

// TickDuration returns the wall-clock duration of the most recently
// completed tick, for telemetry.
func (d *Dispatcher) TickDuration() time.Duration {
	return time.Duration(d.tickDuration.Load())
}

// LateDrops returns the number of timed events dropped under DropLate.
func (d *Dispatcher) LateDrops() uint64 {
	return d.lateDrops.Load()
}
