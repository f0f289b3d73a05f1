// Package plugins supplies the internal Processor kinds corehost ships with
// out of the box: simple effects that exercise the Processor contract
// end-to-end without requiring a concrete plugin-format wrapper (those
// remain out of scope — spec §1).
package plugins

import (
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

// ParamGain is the ObjectID of Gain's single parameter, fixed at
// construction so control frontends can reference it without a lookup.
const ParamGain enginecore.ObjectID = 1

// Gain is a minimal linear-gain Processor: out[ch][i] = in[ch][i] * gain.
// It grounds the engine's parameter-change and audio-processing path for
// the end-to-end scenarios (spec §8 scenario A).
type Gain struct {
	enginecore.BaseProcessor
	gainParam *enginecore.Parameter
}

// NewGain constructs a Gain processor with a single "gain" parameter
// ranging [0, 4], default 1.0 (unity).
func NewGain(id enginecore.ObjectID, name, label string, channels int) *Gain {
	gain := enginecore.NewParameter(ParamGain, "gain", enginecore.ParamFloat, 0, 4, 1.0, nil)
	g := &Gain{gainParam: gain}
	g.BaseProcessor = enginecore.NewBaseProcessor(id, name, label, channels, channels, []*enginecore.Parameter{gain})
	return g
}

// Init satisfies the Processor contract; Gain has no sample-rate-dependent
// state.
func (g *Gain) Init(sampleRate int) error { return nil }

// ProcessAudio applies the current gain value to every channel.
func (g *Gain) ProcessAudio(in, out enginecore.SampleBuffer) {
	v := float32(g.gainParam.Load())
	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	for ch := 0; ch < n; ch++ {
		for i, s := range in[ch] {
			out[ch][i] = s * v
		}
	}
}

// ProcessEvent defers to BaseProcessor's default parameter-change handling.
func (g *Gain) ProcessEvent(ev rtqueue.RtEvent, host enginecore.Host) {
	g.BaseProcessor.ProcessEvent(ev, host)
}
