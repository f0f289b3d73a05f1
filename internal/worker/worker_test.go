package worker

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fluxaudio/corehost/internal/dispatch"
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine() *enginecore.Engine {
	e := enginecore.NewEngine(rtqueue.New(16), rtqueue.New(16), enginecore.NewIDGenerator())
	e.SetSampleRate(48000)
	e.SetBlockSize(64)
	return e
}

func newTestWorker() *Worker {
	return New(testLogger(), newTestEngine(), func(*dispatch.Event) bool { return true }, time.Millisecond, time.Hour, nil)
}

type fakeMutation struct {
	called bool
	err    error
}

func (m *fakeMutation) Execute(e *enginecore.Engine) error {
	m.called = true
	return m.err
}

type fakeAsyncWork struct {
	followUp *dispatch.Event
	err      error
}

func (a *fakeAsyncWork) Execute() (*dispatch.Event, error) {
	return a.followUp, a.err
}

type destroyableProcessor struct {
	enginecore.BaseProcessor
	destroyed bool
}

func newDestroyable(id enginecore.ObjectID) *destroyableProcessor {
	p := &destroyableProcessor{}
	p.BaseProcessor = enginecore.NewBaseProcessor(id, "destroyable", "destroyable", 1, 1, nil)
	return p
}

func (p *destroyableProcessor) Init(int) error                              { return nil }
func (p *destroyableProcessor) ProcessAudio(in, out enginecore.SampleBuffer) {}
func (p *destroyableProcessor) Destroy()                                    { p.destroyed = true }

func TestProcessEnqueuesWithoutExecuting(t *testing.T) {
	w := newTestWorker()
	m := &fakeMutation{}
	ev := dispatch.NewEvent(dispatch.EventEngineMutation, dispatch.PosterWorker, 0, m)

	status := w.Process(ev)
	if status != dispatch.QueuedHandling {
		t.Fatalf("Process() = %v, want QueuedHandling", status)
	}
	if m.called {
		t.Fatal("mutation executed before a tick ran")
	}
}

func TestRunOneTickExecutesEngineMutationAndCompletesOK(t *testing.T) {
	w := newTestWorker()
	m := &fakeMutation{}

	var gotStatus dispatch.CompletionStatus
	done := make(chan struct{})
	ev := dispatch.NewEvent(dispatch.EventEngineMutation, dispatch.PosterWorker, 0, m)
	ev.Completion = func(arg any, e *dispatch.Event, status dispatch.CompletionStatus) {
		gotStatus = status
		close(done)
	}

	w.Process(ev)
	w.runOneTick()

	select {
	case <-done:
	default:
		t.Fatal("completion callback not invoked synchronously by runOneTick")
	}
	if !m.called {
		t.Error("mutation Execute was never called")
	}
	if gotStatus != dispatch.CompletionOK {
		t.Errorf("completion status = %v, want CompletionOK", gotStatus)
	}
}

func TestRunOneTickCompletesErrorOnFailedMutation(t *testing.T) {
	w := newTestWorker()
	m := &fakeMutation{err: errors.New("boom")}

	var gotStatus dispatch.CompletionStatus
	ev := dispatch.NewEvent(dispatch.EventEngineMutation, dispatch.PosterWorker, 0, m)
	ev.Completion = func(arg any, e *dispatch.Event, status dispatch.CompletionStatus) { gotStatus = status }

	w.Process(ev)
	w.runOneTick()

	if gotStatus != dispatch.CompletionError {
		t.Errorf("completion status = %v, want CompletionError", gotStatus)
	}
}

func TestRunOneTickRepostsAsyncWorkFollowUp(t *testing.T) {
	var posted *dispatch.Event
	w := New(testLogger(), newTestEngine(), func(ev *dispatch.Event) bool { posted = ev; return true }, time.Millisecond, time.Hour, nil)

	followUp := dispatch.NewEvent(dispatch.EventAsyncWorkCompletion, dispatch.PosterController, 0, nil)
	a := &fakeAsyncWork{followUp: followUp}

	var gotStatus dispatch.CompletionStatus
	ev := dispatch.NewEvent(dispatch.EventAsyncWork, dispatch.PosterWorker, 0, a)
	ev.Completion = func(arg any, e *dispatch.Event, status dispatch.CompletionStatus) { gotStatus = status }

	w.Process(ev)
	w.runOneTick()

	if gotStatus != dispatch.CompletionOK {
		t.Errorf("completion status = %v, want CompletionOK", gotStatus)
	}
	if posted != followUp {
		t.Error("the AsyncWork follow-up event was never re-posted")
	}
}

func TestDestroyProcessorCallsDestroyWhenImplemented(t *testing.T) {
	e := newTestEngine()
	w := New(testLogger(), e, func(*dispatch.Event) bool { return true }, time.Millisecond, time.Hour, nil)

	p := newDestroyable(7)
	e.RegisterProcessor(p)

	rtEv := rtqueue.RtEvent{Kind: rtqueue.KindProcessorRemove, ProcessorID: 7}
	ev := dispatch.NewEvent(dispatch.EventAsyncWorkCompletion, dispatch.PosterWorker, 0, rtEv)

	w.Process(ev)
	w.runOneTick()

	if !p.destroyed {
		t.Error("Destroy() was never called for a Destroyer processor")
	}
	if _, ok := e.Processor(7); ok {
		t.Error("destroyed processor is still resolvable via Engine.Processor after destroyProcessor")
	}
}

func TestDestroyProcessorUnregistersFromEngineByName(t *testing.T) {
	e := newTestEngine()
	w := New(testLogger(), e, func(*dispatch.Event) bool { return true }, time.Millisecond, time.Hour, nil)

	p := newDestroyable(7)
	p.BaseProcessor = enginecore.NewBaseProcessor(7, "doomed", "", 1, 1, nil)
	e.RegisterProcessor(p)

	rtEv := rtqueue.RtEvent{Kind: rtqueue.KindProcessorRemove, ProcessorID: 7}
	ev := dispatch.NewEvent(dispatch.EventAsyncWorkCompletion, dispatch.PosterWorker, 0, rtEv)
	w.Process(ev)
	w.runOneTick()

	if _, ok := e.ProcessorIDByName("doomed"); ok {
		t.Error("ProcessorIDByName still resolves a processor removed by the worker")
	}
}

func TestDestroyProcessorIgnoresUnknownID(t *testing.T) {
	w := newTestWorker()
	rtEv := rtqueue.RtEvent{Kind: rtqueue.KindProcessorRemove, ProcessorID: 999}
	ev := dispatch.NewEvent(dispatch.EventAsyncWorkCompletion, dispatch.PosterWorker, 0, rtEv)

	w.Process(ev)
	w.runOneTick() // must not panic
}

func TestDrainCancelledCompletesQueuedEvents(t *testing.T) {
	w := newTestWorker()
	var gotStatus dispatch.CompletionStatus
	ev := dispatch.NewEvent(dispatch.EventEngineMutation, dispatch.PosterWorker, 0, &fakeMutation{})
	ev.Completion = func(arg any, e *dispatch.Event, status dispatch.CompletionStatus) { gotStatus = status }

	w.Process(ev)
	w.drainCancelled()

	if gotStatus != dispatch.CompletionCancelled {
		t.Errorf("completion status = %v, want CompletionCancelled", gotStatus)
	}
}

func TestReportTimingFiresOnReportTicker(t *testing.T) {
	reporter := &recordingReporter{done: make(chan struct{})}
	w := New(testLogger(), newTestEngine(), func(*dispatch.Event) bool { return true }, time.Hour, 5*time.Millisecond, reporter)

	w.Start()
	defer w.Stop()

	select {
	case <-reporter.done:
	case <-time.After(time.Second):
		t.Fatal("ReportTiming was never called")
	}
}

type recordingReporter struct {
	done chan struct{}
}

func (r *recordingReporter) ReportTiming(stats enginecore.EngineStats, workerTick time.Duration) {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}
