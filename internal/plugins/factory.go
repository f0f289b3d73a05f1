package plugins

import (
	"fmt"

	"github.com/fluxaudio/corehost/internal/enginecore"
)

// Factory builds the ProcessorFactory function frontend.ControlFrontend
// needs, recognising the processor kinds this package ships.
func Factory(channels int) func(kind string, id enginecore.ObjectID, name, label string) (enginecore.Processor, error) {
	return func(kind string, id enginecore.ObjectID, name, label string) (enginecore.Processor, error) {
		switch kind {
		case "gain":
			return NewGain(id, name, label, channels), nil
		case "transposer":
			return NewTransposer(id, name, label, channels), nil
		default:
			return nil, fmt.Errorf("plugins: unrecognised kind %q", kind)
		}
	}
}
