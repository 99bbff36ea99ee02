package stream

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/satindergrewal/lectern/internal/audio"
)

// Sink opens audio outputs whose frames go out through the broadcaster.
// Listener encoders are fixed to the speech format, so nothing else opens.
type Sink struct {
	ctx         context.Context
	broadcaster *Broadcaster
}

// NewSink creates a sink bound to ctx; outputs stop when ctx is cancelled.
func NewSink(ctx context.Context, b *Broadcaster) *Sink {
	return &Sink{ctx: ctx, broadcaster: b}
}

// Open starts a paced player feeding the broadcaster.
func (s *Sink) Open(sampleRate, channels int) (audio.Output, error) {
	if sampleRate != audio.SampleRate || channels != audio.Channels {
		return nil, fmt.Errorf("stream: unsupported format %d Hz x %d (want %d Hz x %d)",
			sampleRate, channels, audio.SampleRate, audio.Channels)
	}
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("stream: sink stopped: %w", err)
	}

	p, err := audio.NewPlayer(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	go p.Run(s.ctx)
	go s.broadcaster.Run(s.ctx, p.Frames())

	log.Debug("Audio output opened", "listeners", s.broadcaster.ListenerCount())
	return p, nil
}
