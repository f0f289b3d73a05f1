package frontend

import (
	"errors"
	"fmt"

	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// ErrChainNotFound is returned when a mutation names a chain the engine
// does not know about.
var ErrChainNotFound = errors.New("frontend: chain not found")

// ErrUnknownProcessorKind is returned when AddProcessor names a kind the
// factory does not recognise.
var ErrUnknownProcessorKind = errors.New("frontend: unknown processor kind")

// ErrProcessorNotFound is returned when DeleteProcessor names a processor
// the engine has no registration for. The name is looked up engine-wide;
// membership of the target chain is not checked.
var ErrProcessorNotFound = errors.New("frontend: processor not found in chain")

// ProcessorFactory constructs a new Processor instance of the given kind
// with the given id, which the caller has already drawn from the engine's
// IDGenerator. It stands in for the concrete plugin-format
// wrappers the core specification leaves out of scope.
type ProcessorFactory func(kind string, id enginecore.ObjectID, name, label string) (enginecore.Processor, error)

type addChainMutation struct {
	name           string
	inputChannels  int
	outputChannels int
}

func (m addChainMutation) Execute(e *enginecore.Engine) error {
	e.RegisterChain(m.name, m.inputChannels, m.outputChannels)
	return nil
}

type deleteChainMutation struct {
	name string
}

func (m deleteChainMutation) Execute(e *enginecore.Engine) error {
	if !e.RemoveChain(m.name) {
		return fmt.Errorf("%w: %s", ErrChainNotFound, m.name)
	}
	return nil
}

// addProcessorMutation is executed on the worker thread: it allocates and
// initialises the Processor off the audio thread, registers it, and pushes
// the insertion RtEvent the audio thread will apply at the next block's
// drain step (spec §4.6).
type addProcessorMutation struct {
	chainName string
	kind      string
	name      string
	label     string
	slot      int
	ids       *enginecore.IDGenerator
	factory   ProcessorFactory
}

func (m addProcessorMutation) Execute(e *enginecore.Engine) error {
	chainID, ok := e.ChainIDByName(m.chainName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChainNotFound, m.chainName)
	}

	p, err := m.factory(m.kind, m.ids.Next(), m.name, m.label)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnknownProcessorKind, m.kind, err)
	}
	if err := p.Init(e.SampleRate()); err != nil {
		return fmt.Errorf("initialising processor %s: %w", m.name, err)
	}
	e.RegisterProcessor(p)

	e.In.TryPush(rtqueue.RtEvent{
		Kind:        rtqueue.KindProcessorInsert,
		ChainID:     chainID,
		ProcessorID: p.ID(),
		Slot:        m.slot,
	})
	return nil
}

// deleteProcessorMutation posts the removal RtEvent; the audio thread drops
// the processor from its chain and hands it back on the outbound queue for
// the worker to destroy (spec §4.6, two-phase transfer).
type deleteProcessorMutation struct {
	chainName     string
	processorName string
	lookup        func(name string) (enginecore.ObjectID, bool)
}

func (m deleteProcessorMutation) Execute(e *enginecore.Engine) error {
	chainID, ok := e.ChainIDByName(m.chainName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChainNotFound, m.chainName)
	}
	procID, ok := m.lookup(m.processorName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessorNotFound, m.processorName)
	}
	e.In.TryPush(rtqueue.RtEvent{
		Kind:        rtqueue.KindProcessorRemove,
		ChainID:     chainID,
		ProcessorID: procID,
	})
	return nil
}
