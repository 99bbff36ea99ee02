package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type playItem struct {
	samples []int16
	onEnded func()
}

// Player turns queued buffers into PCM frames at real-time rate. Buffers are
// joined back to back inside frames, so consecutive chunks play without a gap.
type Player struct {
	sampleRate   int
	channels     int
	frameSamples int

	queue   chan playItem
	frameCh chan []int16

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.RWMutex
	playing bool
	played  time.Duration
}

// NewPlayer creates a player for the given format. The sample rate must
// divide evenly into 20ms frames.
func NewPlayer(sampleRate, channels int) (*Player, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: invalid format %d Hz x %d", sampleRate, channels)
	}
	frameSize := sampleRate * int(FrameDuration/time.Millisecond) / 1000
	if frameSize*1000 != sampleRate*int(FrameDuration/time.Millisecond) {
		return nil, fmt.Errorf("audio: %d Hz does not split into %v frames", sampleRate, FrameDuration)
	}
	return &Player{
		sampleRate:   sampleRate,
		channels:     channels,
		frameSamples: frameSize * channels,
		queue:        make(chan playItem, 8),
		frameCh:      make(chan []int16, 100),
		closed:       make(chan struct{}),
	}, nil
}

// Frames returns the channel of outgoing PCM frames (20ms each). It is closed
// when Run returns.
func (p *Player) Frames() <-chan []int16 {
	return p.frameCh
}

// NewBuffer wraps normalized samples in a buffer of the player's format.
func (p *Player) NewBuffer(samples []float32) (*Buffer, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	return &Buffer{Samples: samples, SampleRate: p.sampleRate, Channels: p.channels}, nil
}

// Play queues a buffer behind anything already queued.
func (p *Player) Play(buf *Buffer, onEnded func()) error {
	if buf == nil || len(buf.Samples) == 0 {
		return ErrNoSamples
	}
	if buf.SampleRate != p.sampleRate || buf.Channels != p.channels {
		return fmt.Errorf("audio: buffer is %d Hz x %d, player is %d Hz x %d",
			buf.SampleRate, buf.Channels, p.sampleRate, p.channels)
	}

	pcm := FloatToInt16(buf.Samples)
	FadeEdges(pcm, p.sampleRate/500*p.channels) // 2ms ramps

	select {
	case <-p.closed:
		return ErrPlayerClosed
	default:
	}
	select {
	case p.queue <- playItem{samples: pcm, onEnded: onEnded}:
		return nil
	case <-p.closed:
		return ErrPlayerClosed
	}
}

// QueueSize returns the number of buffers waiting to play.
func (p *Player) QueueSize() int {
	return len(p.queue)
}

// Status reports whether a buffer is being framed and how much audio has
// been emitted so far.
func (p *Player) Status() (playing bool, played time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playing, p.played
}

// Close stops the player. Buffers still queued are dropped and their
// callbacks never fire. Safe to call more than once.
func (p *Player) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Run frames queued audio until ctx is cancelled or the player is closed.
func (p *Player) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	var cur *playItem
	var pos int
	frame := make([]int16, 0, p.frameSamples)

	// fill copies queued samples into frame without blocking. Callbacks fire
	// as soon as a buffer's last sample is framed so the next chunk can be
	// queued before this frame goes out.
	fill := func() {
		for len(frame) < p.frameSamples {
			if cur == nil {
				select {
				case it := <-p.queue:
					cur, pos = &it, 0
					p.setPlaying(true)
				default:
					return
				}
			}
			take := min(p.frameSamples-len(frame), len(cur.samples)-pos)
			frame = append(frame, cur.samples[pos:pos+take]...)
			pos += take
			if pos >= len(cur.samples) {
				done := cur.onEnded
				cur = nil
				p.setPlaying(false)
				if done != nil {
					done()
				}
			}
		}
	}

	for {
		fill()

		if len(frame) == 0 {
			// Idle: wait for the next buffer.
			select {
			case <-ctx.Done():
				return
			case <-p.closed:
				return
			case it := <-p.queue:
				cur, pos = &it, 0
				p.setPlaying(true)
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.closed:
			return
		case <-ticker.C:
		}

		// Last chance to join the next chunk into a partial frame.
		fill()
		for len(frame) < p.frameSamples {
			frame = append(frame, 0)
		}

		select {
		case p.frameCh <- frame:
			p.mu.Lock()
			p.played += FrameDuration
			p.mu.Unlock()
		case <-ctx.Done():
			return
		case <-p.closed:
			return
		}
		frame = make([]int16, 0, p.frameSamples)
	}
}

func (p *Player) setPlaying(v bool) {
	p.mu.Lock()
	p.playing = v
	p.mu.Unlock()
}
