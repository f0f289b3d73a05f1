package dispatch

import (
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(policy LateEventPolicy) (*Dispatcher, *rtqueue.Queue, *rtqueue.Queue) {
	timer := enginecore.NewTimer(48000, 64)
	timer.SetIncomingTime(0)
	timer.SetOutgoingTime(0)
	outRT := rtqueue.New(16) // dispatcher -> engine
	inRT := rtqueue.New(16)  // engine -> dispatcher
	d := New(testLogger(), time.Millisecond, timer, outRT, inRT, policy)
	return d, outRT, inRT
}

func TestProcessParameterChangeSendsImmediatelyWithinBlock(t *testing.T) {
	d, outRT, _ := newTestDispatcher(DeliverASAP)

	ev := NewEvent(EventParameterChange, PosterController, 0, ParameterChangePayload{ProcessorID: 1, ParameterID: 2, FloatValue: 0.5})
	status := d.Process(ev)
	if status != HandledOK {
		t.Fatalf("Process() = %v, want HandledOK", status)
	}

	rtEv, ok := outRT.TryPop()
	if !ok {
		t.Fatal("expected an RtEvent pushed to the engine's inbound queue")
	}
	if rtEv.Kind != rtqueue.KindParameterChange || rtEv.FloatValue != 0.5 {
		t.Errorf("rtEv = %+v, want parameter change 0.5", rtEv)
	}
}

func TestProcessFutureEventQueuesOnWaitingList(t *testing.T) {
	d, outRT, _ := newTestDispatcher(DeliverASAP)

	farFuture := enginecore.Time(10_000_000)
	ev := NewEvent(EventKeyboard, PosterController, farFuture, KeyboardPayload{ProcessorID: 1, Note: 60})
	status := d.Process(ev)
	if status != QueuedHandling {
		t.Fatalf("Process() = %v, want QueuedHandling for a far-future event", status)
	}
	if _, ok := outRT.TryPop(); ok {
		t.Error("a far-future event should not be pushed to the RT queue yet")
	}
	if d.waitingList.Len() != 1 {
		t.Errorf("waitingList.Len() = %d, want 1", d.waitingList.Len())
	}
}

func TestDropLatePolicyCompletesTimedOut(t *testing.T) {
	d, _, _ := newTestDispatcher(DropLate)

	var gotStatus CompletionStatus
	done := make(chan struct{})
	ev := NewEvent(EventKeyboard, PosterController, enginecore.Time(-1_000_000), KeyboardPayload{ProcessorID: 1})
	ev.Completion = func(arg any, e *Event, status CompletionStatus) {
		gotStatus = status
		close(done)
	}

	status := d.Process(ev)
	if status != QueuedHandling {
		t.Fatalf("Process() = %v, want QueuedHandling", status)
	}
	select {
	case <-done:
	default:
		t.Fatal("completion callback was not invoked synchronously for a dropped late event")
	}
	if gotStatus != CompletionTimedOut {
		t.Errorf("completion status = %v, want CompletionTimedOut", gotStatus)
	}
	if d.LateDrops() != 1 {
		t.Errorf("LateDrops() = %d, want 1", d.LateDrops())
	}
}

type recordingListener struct {
	notified []*Event
}

func (r *recordingListener) Notify(ev *Event) {
	r.notified = append(r.notified, ev)
}

func TestParameterChangeNotificationFansOutInSubscriptionOrder(t *testing.T) {
	d, _, _ := newTestDispatcher(DeliverASAP)

	first := &recordingListener{}
	second := &recordingListener{}
	d.paramListeners = []Listener{first, second}

	ev := NewEvent(EventParameterChangeNotification, PosterController, 0, ParameterChangePayload{ProcessorID: 9})
	status := d.Process(ev)
	if status != HandledOK {
		t.Fatalf("Process() = %v, want HandledOK", status)
	}
	if len(first.notified) != 1 || len(second.notified) != 1 {
		t.Fatalf("expected both listeners notified once, got first=%d second=%d", len(first.notified), len(second.notified))
	}
}

func TestSubscribeAndUnsubscribeAreAppliedOnTick(t *testing.T) {
	d, _, _ := newTestDispatcher(DeliverASAP)
	l := &recordingListener{}

	d.Subscribe(true, l)
	d.runOneTick()
	if len(d.keyboardListeners) != 1 {
		t.Fatalf("keyboardListeners after Subscribe+tick = %d, want 1", len(d.keyboardListeners))
	}

	d.Unsubscribe(true, l)
	d.runOneTick()
	if len(d.keyboardListeners) != 0 {
		t.Fatalf("keyboardListeners after Unsubscribe+tick = %d, want 0", len(d.keyboardListeners))
	}
}

func TestCompletionInvokedExactlyOnceForHandledEvent(t *testing.T) {
	d, _, _ := newTestDispatcher(DeliverASAP)

	count := 0
	ev := NewEvent(EventParameterChange, PosterController, 0, ParameterChangePayload{ProcessorID: 1, ParameterID: 1})
	ev.Completion = func(arg any, e *Event, status CompletionStatus) { count++ }

	d.Post(ev)
	d.runOneTick()

	if count != 1 {
		t.Errorf("completion invoked %d times, want exactly 1", count)
	}
}

func TestStopDrainsPendingEventsAsCancelled(t *testing.T) {
	d, _, _ := newTestDispatcher(DeliverASAP)
	d.Start()

	var gotStatus CompletionStatus
	done := make(chan struct{})

	farFuture := enginecore.Time(10_000_000)
	ev := NewEvent(EventKeyboard, PosterController, farFuture, KeyboardPayload{ProcessorID: 1})
	ev.Completion = func(arg any, e *Event, status CompletionStatus) {
		gotStatus = status
		close(done)
	}
	d.Post(ev)

	// Give the tick loop a chance to move the event onto the waiting list
	// before stopping.
	time.Sleep(10 * time.Millisecond)
	d.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never invoked after Stop")
	}
	if gotStatus != CompletionCancelled {
		t.Errorf("completion status = %v, want CompletionCancelled", gotStatus)
	}
}

func TestRunOneTickDoesNotSpinOnNotYetDueWaitingEvent(t *testing.T) {
	d, _, _ := newTestDispatcher(DeliverASAP)

	farFuture := enginecore.Time(10_000_000)
	ev := NewEvent(EventKeyboard, PosterController, farFuture, KeyboardPayload{ProcessorID: 1, Note: 60})
	if status := d.Process(ev); status != QueuedHandling {
		t.Fatalf("Process() = %v, want QueuedHandling", status)
	}
	if d.waitingList.Len() != 1 {
		t.Fatalf("waitingList.Len() = %d, want 1", d.waitingList.Len())
	}

	done := make(chan struct{})
	go func() {
		d.runOneTick()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOneTick did not return: a not-yet-due waiting event is being re-evaluated forever within the same tick")
	}

	// The timer has not advanced, so the event is still not due: it must
	// have been re-queued exactly once, not dropped or duplicated.
	if d.waitingList.Len() != 1 {
		t.Errorf("waitingList.Len() after tick = %d, want 1", d.waitingList.Len())
	}
}

func TestRouteFromEngineSyncUpdatesTimer(t *testing.T) {
	d, _, inRT := newTestDispatcher(DeliverASAP)

	inRT.TryPush(rtqueue.RtEvent{Kind: rtqueue.KindSync, WallClockMicros: 42_000})
	d.drainEngineOutbound()

	if got := d.timer.RealTimeFromSampleOffset(0); got != 42_000 {
		t.Errorf("timer outgoing anchor = %d, want 42000", got)
	}
}
