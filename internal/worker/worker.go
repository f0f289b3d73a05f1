// Package worker implements the non-RT executor for engine-mutation and
// asynchronous-work Events (spec §4.6). It never touches the audio thread
// directly: engine mutations that affect the graph are carried out by
// posting RtEvents onto the engine's inbound queue, and processor
// destruction happens here only after the audio thread has handed back
// ownership on the outbound queue.
package worker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxaudio/corehost/internal/dispatch"
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// TimingReporter receives periodic telemetry snapshots (spec §4.6
// "every PRINT_TIMING_INTERVAL ask the engine to emit timing telemetry").
type TimingReporter interface {
	ReportTiming(stats enginecore.EngineStats, workerTick time.Duration)
}

// Worker is the second non-RT thread: its own MPSC queue, periodic tick,
// and a dedicated dispatcher.Post channel for re-posting follow-up Events.
type Worker struct {
	logger *slog.Logger
	engine *enginecore.Engine
	post   func(*dispatch.Event) bool // dispatcher.Post, injected to avoid an import cycle back to *dispatch.Dispatcher

	tick           time.Duration
	reportInterval time.Duration
	reporter       TimingReporter

	mu    sync.Mutex
	queue []*dispatch.Event

	tickDuration atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a worker bound to the engine it mutates and the dispatcher it
// re-posts completion/follow-up Events to.
func New(logger *slog.Logger, engine *enginecore.Engine, post func(*dispatch.Event) bool, tick, reportInterval time.Duration, reporter TimingReporter) *Worker {
	return &Worker{
		logger:         logger.With("subsystem", "worker"),
		engine:         engine,
		post:           post,
		tick:           tick,
		reportInterval: reportInterval,
		reporter:       reporter,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// PosterID implements dispatch.EventPoster.
func (w *Worker) PosterID() dispatch.PosterID { return dispatch.PosterWorker }

// Process enqueues ev for execution on the worker's own tick and returns
// QueuedHandling immediately — engine mutations and async work never run on
// the caller's goroutine (spec §4.6).
func (w *Worker) Process(ev *dispatch.Event) dispatch.Status {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	return dispatch.QueuedHandling
}

// TickDuration returns the wall-clock duration of the most recently
// completed worker tick.
func (w *Worker) TickDuration() time.Duration {
	return time.Duration(w.tickDuration.Load())
}

// Start launches the worker's tick-loop goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals the tick loop to exit and waits for it to drain. Any Events
// still queued are completed with CompletionCancelled (spec §5).
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)
	tickTicker := time.NewTicker(w.tick)
	defer tickTicker.Stop()
	reportTicker := time.NewTicker(w.reportInterval)
	defer reportTicker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.drainCancelled()
			return
		case <-tickTicker.C:
			w.runOneTick()
		case <-reportTicker.C:
			if w.reporter != nil {
				w.reporter.ReportTiming(w.engine.Stats(), time.Duration(w.tickDuration.Load()))
			}
		}
	}
}

func (w *Worker) runOneTick() {
	start := time.Now()

	w.mu.Lock()
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	for _, ev := range batch {
		w.execute(ev)
	}

	w.tickDuration.Store(time.Since(start).Nanoseconds())
}

func (w *Worker) execute(ev *dispatch.Event) {
	switch p := ev.Payload.(type) {
	case dispatch.EngineMutation:
		if err := p.Execute(w.engine); err != nil {
			w.logger.Error("engine mutation failed", "error", err, "correlation_id", ev.ID)
			completeEvent(ev, dispatch.CompletionError)
			return
		}
		completeEvent(ev, dispatch.CompletionOK)
	case dispatch.AsyncWork:
		followUp, err := p.Execute()
		if err != nil {
			w.logger.Error("async work failed", "error", err, "correlation_id", ev.ID)
			completeEvent(ev, dispatch.CompletionError)
			return
		}
		completeEvent(ev, dispatch.CompletionOK)
		if followUp != nil && w.post != nil {
			w.post(followUp)
		}
	default:
		// RtEvent bridging for the two-phase processor-destroy handoff
		// (spec §4.6): the payload is the raw rtqueue.RtEvent the engine
		// handed back on its outbound queue after removing a slot.
		if rtEv, ok := ev.Payload.(rtqueue.RtEvent); ok && rtEv.Kind == rtqueue.KindProcessorRemove {
			w.destroyProcessor(rtEv.ProcessorID)
		}
		completeEvent(ev, dispatch.CompletionOK)
	}
}

// destroyProcessor releases a processor's resources off the audio thread,
// the second half of the two-phase transfer begun when the engine removed
// the processor's id from its chain (spec §4.6, §9).
func (w *Worker) destroyProcessor(id enginecore.ObjectID) {
	p, ok := w.engine.Processor(id)
	if !ok {
		return
	}
	if d, ok := p.(enginecore.Destroyer); ok {
		d.Destroy()
	}
	// Final step of the two-phase transfer: drop the registry entry so a
	// destroyed processor can no longer be resolved as an RtEvent target or
	// found by name.
	w.engine.UnregisterProcessor(id)
}

func completeEvent(ev *dispatch.Event, status dispatch.CompletionStatus) {
	if ev.Completion != nil {
		ev.Completion(ev.CompletionArg, ev, status)
	}
}

func (w *Worker) drainCancelled() {
	w.mu.Lock()
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()
	for _, ev := range pending {
		completeEvent(ev, dispatch.CompletionCancelled)
	}
}
