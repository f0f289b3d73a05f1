package enginecore

import (
	"math"
	"sync/atomic"
)

// ParameterKind is the declared type of a Parameter's value.
type ParameterKind uint8

const (
	ParamFloat ParameterKind = iota
	ParamInt
	ParamBool
	ParamString
)

// PreProcessor transforms a raw incoming float value before it is stored,
// e.g. clamping to range, scaling, or applying a response curve. Invalid or
// out-of-range values are clamped silently, never rejected (spec §7).
type PreProcessor interface {
	Apply(raw float64) float64
}

// Clamp restricts a value to [Min, Max].
type Clamp struct{ Min, Max float64 }

func (c Clamp) Apply(raw float64) float64 {
	if raw < c.Min {
		return c.Min
	}
	if raw > c.Max {
		return c.Max
	}
	return raw
}

// Scale linearly rescales a normalized [0,1] input into [Min, Max].
type Scale struct{ Min, Max float64 }

func (s Scale) Apply(raw float64) float64 {
	return s.Min + raw*(s.Max-s.Min)
}

// Curve applies an exponential response curve of the given shape before
// scaling into [Min, Max]. Shape == 1 is linear.
type Curve struct {
	Min, Max, Shape float64
}

func (c Curve) Apply(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	shaped := math.Pow(raw, c.Shape)
	return c.Min + shaped*(c.Max-c.Min)
}

// Parameter is a typed, ranged value owned by a Processor. Its current
// value is stored atomically so the audio thread can read it without a
// lock; external readers (UI, control frontends) learn about changes only
// through dispatcher notifications, never by reading this struct directly
// (spec §5).
type Parameter struct {
	ID      ObjectID
	Name    string
	Kind    ParameterKind
	Min     float64
	Max     float64
	Default float64
	Pre     PreProcessor // nil means no transform

	bits   atomic.Uint64 // float64 bits, valid for Float/Int/Bool kinds
	strPtr atomic.Pointer[string]
}

// NewParameter creates a parameter initialised to its default value.
func NewParameter(id ObjectID, name string, kind ParameterKind, min, max, def float64, pre PreProcessor) *Parameter {
	p := &Parameter{ID: id, Name: name, Kind: kind, Min: min, Max: max, Default: def, Pre: pre}
	p.Store(def)
	return p
}

// Store applies the pre-processor (if any) and atomically sets the current
// value. Safe to call from the audio thread.
func (p *Parameter) Store(raw float64) {
	v := raw
	if p.Pre != nil {
		v = p.Pre.Apply(raw)
	} else {
		v = Clamp{Min: p.Min, Max: p.Max}.Apply(raw)
	}
	p.bits.Store(math.Float64bits(v))
}

// Load atomically reads the current value. Safe to call from the audio
// thread's DSP code.
func (p *Parameter) Load() float64 {
	return math.Float64frombits(p.bits.Load())
}

// StoreString atomically replaces the string value of a ParamString
// parameter, taking ownership of s.
func (p *Parameter) StoreString(s string) {
	p.strPtr.Store(&s)
}

// LoadString atomically reads the current string value. Returns "" if never set.
func (p *Parameter) LoadString() string {
	s := p.strPtr.Load()
	if s == nil {
		return ""
	}
	return *s
}
