// Package audioio is the one concrete audio I/O backend corehost ships:
// an offline WAV file reader/writer satisfying the audio I/O contract
// (spec §6). Concrete I/O backends are explicitly out of the core's scope
// (spec §1) — this package exists only to give cmd/corehostd something to
// drive the engine with end-to-end.
package audioio

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/fluxaudio/corehost/internal/enginecore"
)

const bitDepth = 16

// Backend reads deinterleaved float32 blocks from an input WAV file and
// writes the engine's processed blocks to an output WAV file.
type Backend struct {
	inFile  *os.File
	outFile *os.File

	decoder *wav.Decoder
	encoder *wav.Encoder

	channels  int
	blockSize int

	readBuf  *audio.IntBuffer
	writeBuf *audio.IntBuffer

	framesEmitted int64
	sampleRate    int
}

// Open creates a Backend reading inPath and writing outPath, both
// deinterleaved into blocks of blockSize frames across channels channels.
func Open(inPath, outPath string, channels, blockSize, sampleRate int) (*Backend, error) {
	inFile, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("opening input wav: %w", err)
	}
	decoder := wav.NewDecoder(inFile)
	if !decoder.IsValidFile() {
		inFile.Close()
		return nil, fmt.Errorf("audioio: %s is not a valid WAV file", inPath)
	}

	outFile, err := os.Create(outPath)
	if err != nil {
		inFile.Close()
		return nil, fmt.Errorf("creating output wav: %w", err)
	}
	encoder := wav.NewEncoder(outFile, sampleRate, bitDepth, channels, 1)

	format := &audio.Format{NumChannels: channels, SampleRate: sampleRate}

	return &Backend{
		inFile:    inFile,
		outFile:   outFile,
		decoder:   decoder,
		encoder:   encoder,
		channels:  channels,
		blockSize: blockSize,
		readBuf:   &audio.IntBuffer{Data: make([]int, blockSize*channels), Format: format, SourceBitDepth: bitDepth},
		writeBuf:  &audio.IntBuffer{Data: make([]int, blockSize*channels), Format: format, SourceBitDepth: bitDepth},
		sampleRate: sampleRate,
	}, nil
}

// NextBlock reads the next block of input frames, deinterleaved into a
// reused SampleBuffer. ok is false once the input file is exhausted; the
// final block may be shorter than blockSize and is zero-padded.
func (b *Backend) NextBlock(into enginecore.SampleBuffer) (ok bool, err error) {
	n, err := b.decoder.PCMBuffer(b.readBuf)
	if err != nil {
		return false, fmt.Errorf("reading wav block: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	frames := n / b.channels
	const maxInt16 = 32768.0
	for ch := 0; ch < b.channels; ch++ {
		out := into[ch]
		for i := 0; i < b.blockSize; i++ {
			if i < frames {
				out[i] = float32(b.readBuf.Data[i*b.channels+ch]) / maxInt16
			} else {
				out[i] = 0
			}
		}
	}
	b.framesEmitted += int64(frames)
	return true, nil
}

// WriteBlock interleaves a processed SampleBuffer and appends it to the
// output WAV file.
func (b *Backend) WriteBlock(from enginecore.SampleBuffer) error {
	const maxInt16 = 32767.0
	for i := 0; i < b.blockSize; i++ {
		for ch := 0; ch < b.channels; ch++ {
			v := from[ch][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			b.writeBuf.Data[i*b.channels+ch] = int(v * maxInt16)
		}
	}
	return b.encoder.Write(b.writeBuf)
}

// UsecSinceStart returns the wall-clock offset, in microseconds, of the
// next block to be processed — the value passed to engine.update_time
// (spec §6).
func (b *Backend) UsecSinceStart() int64 {
	return b.framesEmitted * 1_000_000 / int64(b.sampleRate)
}

// Close flushes the output encoder and closes both files.
func (b *Backend) Close() error {
	encErr := b.encoder.Close()
	inErr := b.inFile.Close()
	outErr := b.outFile.Close()
	if encErr != nil {
		return encErr
	}
	if inErr != nil {
		return inErr
	}
	return outErr
}
