package plugins

import (
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// ParamTranspose is the ObjectID of Transposer's single parameter.
const ParamTranspose enginecore.ObjectID = 1

// Transposer passes audio through unchanged and rewrites every NOTE_ON it
// receives by the configured semitone offset, emitting the rewritten event
// on the engine's outbound queue instead of forwarding the original (spec
// §8 scenario C).
type Transposer struct {
	enginecore.BaseProcessor
	transposeParam *enginecore.Parameter
}

// NewTransposer constructs a Transposer with a "transpose" parameter
// ranging [-24, 24] semitones, default 0.
func NewTransposer(id enginecore.ObjectID, name, label string, channels int) *Transposer {
	transpose := enginecore.NewParameter(ParamTranspose, "transpose", enginecore.ParamInt, -24, 24, 0, nil)
	t := &Transposer{transposeParam: transpose}
	t.BaseProcessor = enginecore.NewBaseProcessor(id, name, label, channels, channels, []*enginecore.Parameter{transpose})
	return t
}

// Init satisfies the Processor contract; Transposer has no sample-rate-dependent state.
func (t *Transposer) Init(sampleRate int) error { return nil }

// ProcessAudio passes audio through unchanged.
func (t *Transposer) ProcessAudio(in, out enginecore.SampleBuffer) {
	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	for ch := 0; ch < n; ch++ {
		copy(out[ch], in[ch])
	}
}

// ProcessEvent rewrites NOTE_ON note numbers by the current transpose
// amount and emits the rewritten event instead of passing the original
// through; all other event kinds defer to the default handling.
func (t *Transposer) ProcessEvent(ev rtqueue.RtEvent, host enginecore.Host) {
	if ev.Kind == rtqueue.KindKeyboard && ev.KeyboardType == rtqueue.NoteOn {
		shifted := ev
		shifted.Note = ev.Note + int(t.transposeParam.Load())
		host.RequestOutputRtEvent(shifted)
		return
	}
	t.BaseProcessor.ProcessEvent(ev, host)
}
