// Package frontend implements the non-RT control-frontend base used by
// MIDI/OSC/gRPC/HTTP frontends to drive the engine (spec §4.7). Concrete
// frontends (this repo ships one: the admin HTTP surface in internal/api)
// embed or wrap ControlFrontend rather than talking to the RT queue or the
// dispatcher directly.
package frontend

import (
	"log/slog"

	"github.com/fluxaudio/corehost/internal/dispatch"
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// ControlFrontend is the non-RT producer base (spec §4.7). The three direct
// sends (parameter change, string parameter change, keyboard) push straight
// onto the engine's
// inbound RT queue and are rate-limited per source id; the four graph
// mutations are wrapped as asynchronous engine-mutation Events posted
// through the dispatcher instead.
type ControlFrontend struct {
	logger  *slog.Logger
	inRT    *rtqueue.Queue
	post    func(*dispatch.Event) bool
	limiter *Limiter
	ids     *enginecore.IDGenerator
	engine  *enginecore.Engine
	factory ProcessorFactory
	now     func() enginecore.Time
}

// New creates a control frontend bound to the engine's inbound RT queue and
// the dispatcher's Post function.
func New(logger *slog.Logger, engine *enginecore.Engine, inRT *rtqueue.Queue, post func(*dispatch.Event) bool, ids *enginecore.IDGenerator, factory ProcessorFactory, limiter LimiterConfig, now func() enginecore.Time) *ControlFrontend {
	return &ControlFrontend{
		logger:  logger.With("subsystem", "control_frontend"),
		inRT:    inRT,
		post:    post,
		limiter: NewLimiter(limiter),
		ids:     ids,
		engine:  engine,
		factory: factory,
		now:     now,
	}
}

// Stop releases the frontend's background rate-limiter cleanup goroutine.
func (f *ControlFrontend) Stop() {
	f.limiter.Stop()
}

// SendParameterChangeEvent pushes an RtEvent directly onto the inbound RT
// queue. Fire-and-forget: drops and logs on overflow or when the caller is
// rate-limited, per spec §4.7.
func (f *ControlFrontend) SendParameterChangeEvent(processorID, parameterID enginecore.ObjectID, value float32) bool {
	if !f.limiter.Allow(uint32(processorID)) {
		f.logger.Warn("parameter change rate limited", "processor_id", processorID, "parameter_id", parameterID)
		return false
	}
	ok := f.inRT.TryPush(rtqueue.RtEvent{
		Kind:        rtqueue.KindParameterChange,
		ProcessorID: processorID,
		ParameterID: parameterID,
		FloatValue:  value,
	})
	if !ok {
		f.logger.Warn("parameter change dropped: inbound RT queue full", "processor_id", processorID, "parameter_id", parameterID)
	}
	return ok
}

// SendStringParameterChangeEvent heap-allocates an immutable string and
// transfers its ownership through the RtEvent; the receiver (the target
// Processor's default ProcessEvent handling) takes over the pointer.
func (f *ControlFrontend) SendStringParameterChangeEvent(processorID, parameterID enginecore.ObjectID, value string) bool {
	if !f.limiter.Allow(uint32(processorID)) {
		f.logger.Warn("string parameter change rate limited", "processor_id", processorID, "parameter_id", parameterID)
		return false
	}
	s := value
	ok := f.inRT.TryPush(rtqueue.RtEvent{
		Kind:        rtqueue.KindStringParameterChange,
		ProcessorID: processorID,
		ParameterID: parameterID,
		StringValue: &s,
	})
	if !ok {
		f.logger.Warn("string parameter change dropped: inbound RT queue full", "processor_id", processorID, "parameter_id", parameterID)
	}
	return ok
}

// SendKeyboardEvent pushes a keyboard/note RtEvent directly onto the
// inbound RT queue.
func (f *ControlFrontend) SendKeyboardEvent(processorID enginecore.ObjectID, kind rtqueue.KeyboardEventType, note int, value float32) bool {
	if !f.limiter.Allow(uint32(processorID)) {
		f.logger.Warn("keyboard event rate limited", "processor_id", processorID)
		return false
	}
	ok := f.inRT.TryPush(rtqueue.RtEvent{
		Kind:         rtqueue.KindKeyboard,
		ProcessorID:  processorID,
		KeyboardType: kind,
		Note:         note,
		Value:        value,
	})
	if !ok {
		f.logger.Warn("keyboard event dropped: inbound RT queue full", "processor_id", processorID)
	}
	return ok
}

// AddChain posts an asynchronous engine-mutation Event that creates an
// empty named chain. completion is invoked exactly once with the terminal
// status (spec §4.7, §6).
func (f *ControlFrontend) AddChain(name string, inputChannels, outputChannels int, completion dispatch.CompletionFunc, arg any) bool {
	ev := f.mutationEvent(addChainMutation{name: name, inputChannels: inputChannels, outputChannels: outputChannels}, completion, arg)
	return f.post(ev)
}

// DeleteChain posts an asynchronous engine-mutation Event that removes a
// named chain.
func (f *ControlFrontend) DeleteChain(name string, completion dispatch.CompletionFunc, arg any) bool {
	ev := f.mutationEvent(deleteChainMutation{name: name}, completion, arg)
	return f.post(ev)
}

// AddProcessor posts an asynchronous engine-mutation Event that allocates a
// processor of the given kind, initialises it, and inserts it into the
// named chain at slot (a negative slot inserts at the front; a slot past
// the end appends).
func (f *ControlFrontend) AddProcessor(chainName, kind, name, label string, slot int, completion dispatch.CompletionFunc, arg any) bool {
	ev := f.mutationEvent(addProcessorMutation{
		chainName: chainName,
		kind:      kind,
		name:      name,
		label:     label,
		slot:      slot,
		ids:       f.ids,
		factory:   f.factory,
	}, completion, arg)
	return f.post(ev)
}

// DeleteProcessor posts an asynchronous engine-mutation Event that removes
// a named processor from a chain; destruction happens later, off the audio
// thread, once the engine hands the processor back (spec §4.6).
func (f *ControlFrontend) DeleteProcessor(chainName, processorName string, completion dispatch.CompletionFunc, arg any) bool {
	ev := f.mutationEvent(deleteProcessorMutation{
		chainName:     chainName,
		processorName: processorName,
		lookup:        f.engine.ProcessorIDByName,
	}, completion, arg)
	return f.post(ev)
}

func (f *ControlFrontend) mutationEvent(m dispatch.EngineMutation, completion dispatch.CompletionFunc, arg any) *dispatch.Event {
	ev := dispatch.NewEvent(dispatch.EventEngineMutation, dispatch.PosterController, f.now(), m)
	ev.ProcessAsynchronously = true
	ev.Completion = completion
	ev.CompletionArg = arg
	return ev
}
