package audio

import (
	"errors"
	"time"
)

// Speech audio format. Synthesized chunks arrive as raw PCM in exactly this
// layout and the decode step assumes it bit for bit.
const (
	SampleRate    = 24000
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 480                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

var (
	ErrNoSamples    = errors.New("audio: no samples")
	ErrPlayerClosed = errors.New("audio: player closed")
)

// Buffer is a decoded, playable chunk of normalized samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// Output is an opened audio output: it builds buffers, plays them in the
// order given and reports when each one has finished.
type Output interface {
	NewBuffer(samples []float32) (*Buffer, error)
	// Play queues buf after anything already queued. onEnded is called once,
	// after the last sample of buf has been handed to the output.
	Play(buf *Buffer, onEnded func()) error
	Close() error
}
