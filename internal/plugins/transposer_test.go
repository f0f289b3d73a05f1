package plugins

import (
	"testing"

	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

func TestTransposerPassesAudioThrough(t *testing.T) {
	tr := NewTransposer(1, "tr", "Transposer", 1)
	tr.Init(48000)

	in := enginecore.SampleBuffer{{1, 2, 3}}
	out := enginecore.SampleBuffer{{0, 0, 0}}
	tr.ProcessAudio(in, out)

	for i, v := range out[0] {
		if v != in[0][i] {
			t.Errorf("out[%d] = %v, want passthrough %v", i, v, in[0][i])
		}
	}
}

func TestTransposerShiftsNoteOnByTransposeAmount(t *testing.T) {
	tr := NewTransposer(1, "tr", "Transposer", 1)
	tr.Init(48000)
	host := &fakeHost{}

	tr.ProcessEvent(rtqueue.RtEvent{Kind: rtqueue.KindParameterChange, ParameterID: ParamTranspose, FloatValue: 12}, host)
	tr.ProcessEvent(rtqueue.RtEvent{Kind: rtqueue.KindKeyboard, KeyboardType: rtqueue.NoteOn, Note: 60}, host)

	if len(host.emitted) != 1 {
		t.Fatalf("expected exactly one emitted RtEvent, got %d", len(host.emitted))
	}
	if host.emitted[0].Note != 72 {
		t.Errorf("emitted note = %d, want 72 (60 + 12 semitones)", host.emitted[0].Note)
	}
}

func TestTransposerDoesNotForwardOriginalNoteOn(t *testing.T) {
	tr := NewTransposer(1, "tr", "Transposer", 1)
	tr.Init(48000)
	host := &fakeHost{}

	tr.ProcessEvent(rtqueue.RtEvent{Kind: rtqueue.KindParameterChange, ParameterID: ParamTranspose, FloatValue: 12}, host)
	tr.ProcessEvent(rtqueue.RtEvent{Kind: rtqueue.KindKeyboard, KeyboardType: rtqueue.NoteOn, Note: 40}, host)

	if len(host.emitted) != 1 || host.emitted[0].Note == 40 {
		t.Errorf("emitted = %+v, want a single rewritten event distinct from the original", host.emitted)
	}
}

func TestTransposerDefersNonNoteOnEventsToDefaultHandling(t *testing.T) {
	tr := NewTransposer(1, "tr", "Transposer", 1)
	tr.Init(48000)
	host := &fakeHost{}

	tr.ProcessEvent(rtqueue.RtEvent{Kind: rtqueue.KindKeyboard, KeyboardType: rtqueue.NoteOff, Note: 40}, host)

	if len(host.emitted) != 0 {
		t.Errorf("NOTE_OFF should not be rewritten/re-emitted, got %+v", host.emitted)
	}
}
