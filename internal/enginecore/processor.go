package enginecore

import "github.com/fluxaudio/corehost/internal/rtqueue"

// SampleBuffer is a deinterleaved block of float32 audio: one slice per
// channel, each of length BlockSize.
type SampleBuffer [][]float32

// Processor is the abstract audio-processing unit (spec §4.3). Concrete
// kinds (internal effects, instruments, externally-hosted plugin wrappers)
// implement this contract; the engine never knows which.
//
// ProcessAudio and ProcessEvent run exclusively on the audio thread: they
// must not allocate, lock, or perform blocking I/O, and their duration is
// bounded by the block period.
type Processor interface {
	// ID returns the processor's unique, process-wide ObjectID.
	ID() ObjectID
	// Name returns the processor's globally-unique name within the engine.
	Name() string
	// Label returns the (not-necessarily-unique) human-readable label.
	Label() string
	// InputChannels and OutputChannels report the processor's fixed channel counts.
	InputChannels() int
	OutputChannels() int
	// Parameters returns the processor's ordered parameter list.
	Parameters() []*Parameter

	// Init prepares the processor to run at sampleRate. Called once before
	// the first ProcessAudio call, off the audio thread.
	Init(sampleRate int) error
	// ProcessAudio processes one block. in and out are sized
	// InputChannels()/OutputChannels() x block_size.
	ProcessAudio(in, out SampleBuffer)
	// ProcessEvent handles an RtEvent targeted at this processor. Called on
	// the audio thread before ProcessAudio for the same block.
	ProcessEvent(ev rtqueue.RtEvent, host Host)
}

// Destroyer is implemented by processors that hold resources needing
// release when removed from a chain. Destroy is only ever called by the
// worker thread (spec §4.6 two-phase transfer), never by the audio thread.
type Destroyer interface {
	Destroy()
}

// BaseProcessor supplies the default ProcessEvent behaviour (spec §4.3:
// "Default behaviour handles parameter changes by storing to parameter
// value slots; derived classes extend") plus the metadata accessors.
// Concrete processors embed BaseProcessor and override ProcessAudio (and
// ProcessEvent, calling BaseProcessor.ProcessEvent for the parameter-change
// default where they don't need custom handling).
type BaseProcessor struct {
	id       ObjectID
	name     string
	label    string
	inCh     int
	outCh    int
	params   []*Parameter
	paramIdx map[ObjectID]*Parameter
}

// NewBaseProcessor constructs the shared processor state. params must have
// distinct IDs.
func NewBaseProcessor(id ObjectID, name, label string, inCh, outCh int, params []*Parameter) BaseProcessor {
	idx := make(map[ObjectID]*Parameter, len(params))
	for _, p := range params {
		idx[p.ID] = p
	}
	return BaseProcessor{id: id, name: name, label: label, inCh: inCh, outCh: outCh, params: params, paramIdx: idx}
}

func (b *BaseProcessor) ID() ObjectID             { return b.id }
func (b *BaseProcessor) Name() string             { return b.name }
func (b *BaseProcessor) Label() string            { return b.label }
func (b *BaseProcessor) InputChannels() int       { return b.inCh }
func (b *BaseProcessor) OutputChannels() int      { return b.outCh }
func (b *BaseProcessor) Parameters() []*Parameter { return b.params }

// Parameter looks up a parameter by id, or nil if unknown.
func (b *BaseProcessor) Parameter(id ObjectID) *Parameter {
	return b.paramIdx[id]
}

// ProcessEvent applies the default parameter-change handling described in
// spec §4.3. Invalid parameter ids are dropped silently (spec §7).
func (b *BaseProcessor) ProcessEvent(ev rtqueue.RtEvent, _ Host) {
	switch ev.Kind {
	case rtqueue.KindParameterChange:
		if p := b.paramIdx[ev.ParameterID]; p != nil {
			p.Store(float64(ev.FloatValue))
		}
	case rtqueue.KindStringParameterChange:
		if p := b.paramIdx[ev.ParameterID]; p != nil && ev.StringValue != nil {
			p.StoreString(*ev.StringValue)
		}
	}
}
