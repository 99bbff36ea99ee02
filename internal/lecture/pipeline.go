package lecture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/satindergrewal/lectern/internal/audio"
)

// DefaultLookahead is how many chunks past the current one are synthesized
// while it plays.
const DefaultLookahead = 2

// Config holds pipeline tuning.
type Config struct {
	Lookahead     int           // chunks to synthesize ahead; <= 0 means DefaultLookahead
	SpeechTimeout time.Duration // per-chunk synthesis limit; 0 disables
}

// EventKind names a pipeline notification.
type EventKind string

const (
	EventState   EventKind = "state"   // State changed
	EventChunk   EventKind = "chunk"   // Index started playing, Text is its transcript
	EventTalking EventKind = "talking" // Talking changed
	EventSkipped EventKind = "skipped" // Index had no audio and was passed over
)

// Event is delivered to the EventFunc as the lecture progresses.
type Event struct {
	Session string    `json:"session"`
	Kind    EventKind `json:"kind"`
	State   State     `json:"state"`
	Index   int       `json:"index"`
	Text    string    `json:"text,omitempty"`
	Talking bool      `json:"talking"`
}

// EventFunc receives pipeline events. It is called from pipeline goroutines,
// one event at a time, and must not block or call back into the pipeline.
type EventFunc func(Event)

// Status is a point-in-time view of a pipeline.
type Status struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Topic    string `json:"topic"`
	Duration string `json:"duration"`
	State    State  `json:"state"`
	Cursor   int    `json:"cursor"`
	Total    int    `json:"total"`
	Talking  bool   `json:"talking"`
	Text     string `json:"text"`
	Cached   int    `json:"cached"`
	InFlight int    `json:"in_flight"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

// Pipeline plays one lecture session. It is created per session; once ended
// it never changes state again.
type Pipeline struct {
	id    string
	gen   ScriptGenerator
	synth SpeechSynthesizer
	sink  AudioSink
	cfg   Config
	log   *log.Logger

	ctx      context.Context // cancelled by End
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	emitMu sync.Mutex // delivers events one at a time, in state order

	mu       sync.Mutex
	eventFn  EventFunc
	state    State
	err      error
	subject  string
	topic    string
	tier     DurationTier
	script   []string
	cache    map[int]*audio.Buffer // write-once per index
	inflight map[int]chan struct{} // closed when the fetch settles
	cursor   int                   // -1 before start, len(script) when finished
	shown    int                   // last index that began playing
	talking  bool
	skipped  int
	output   audio.Output
}

// NewPipeline creates an idle pipeline.
func NewPipeline(gen ScriptGenerator, synth SpeechSynthesizer, sink AudioSink, cfg Config) *Pipeline {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		id:       id,
		gen:      gen,
		synth:    synth,
		sink:     sink,
		cfg:      cfg,
		log:      log.With("session", id[:8]),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		cache:    make(map[int]*audio.Buffer),
		inflight: make(map[int]chan struct{}),
		cursor:   -1,
		shown:    -1,
	}
}

// ID returns the session identifier.
func (p *Pipeline) ID() string { return p.id }

// SetEventFunc installs the event callback. Pass nil to stop notifications.
func (p *Pipeline) SetEventFunc(fn EventFunc) {
	p.mu.Lock()
	p.eventFn = fn
	p.mu.Unlock()
}

// Done is closed once the pipeline is finished, ended or failed.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns the fatal error that put the pipeline in StateError.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Script returns a copy of the loaded script.
func (p *Pipeline) Script() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.script...)
}

// Status returns current session info.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		ID:       p.id,
		Subject:  p.subject,
		Topic:    p.topic,
		Duration: p.tier.String(),
		State:    p.state,
		Cursor:   p.cursor,
		Total:    len(p.script),
		Talking:  p.talking,
		Cached:   len(p.cache),
		InFlight: len(p.inflight),
		Skipped:  p.skipped,
	}
	if p.shown >= 0 && p.shown < len(p.script) {
		st.Text = p.script[p.shown]
	}
	if p.err != nil {
		st.Error = p.err.Error()
	}
	return st
}

// LoadScript asks the generator for the lecture script. It is valid only
// while idle. On failure the pipeline moves to StateError and the returned
// error is a *ScriptGenerationError.
func (p *Pipeline) LoadScript(ctx context.Context, subject, topic string, tier DurationTier) error {
	p.mu.Lock()
	switch p.state {
	case StateIdle:
	case StateEnded:
		p.mu.Unlock()
		return ErrEnded
	default:
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("lecture: script already loaded (state %s)", st)
	}
	p.subject, p.topic, p.tier = subject, topic, tier
	p.mu.Unlock()

	p.log.Info("Generating lecture script", "subject", subject, "topic", topic, "duration", tier)
	chunks, err := p.gen.Generate(ctx, subject, topic, tier)

	var script []string
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			script = append(script, c)
		}
	}
	if err == nil && len(script) == 0 {
		err = errEmptyScript
	}

	p.mu.Lock()
	if p.state != StateIdle {
		// Ended while the generator was running.
		p.mu.Unlock()
		return ErrEnded
	}
	if err != nil {
		sgErr := &ScriptGenerationError{Subject: subject, Topic: topic, Err: err}
		p.state = StateError
		p.err = sgErr
		p.mu.Unlock()
		p.log.Error("Script generation failed", "err", err)
		p.emit(Event{Kind: EventState, State: StateError, Index: -1})
		p.finish()
		return sgErr
	}
	p.script = script
	p.state = StateReady
	p.mu.Unlock()

	p.log.Info("Lecture script ready", "chunks", len(script))
	p.emit(Event{Kind: EventState, State: StateReady, Index: -1})
	return nil
}

// Start acquires the audio output and begins playback from chunk 0. It must
// follow an explicit user action; it never happens on its own.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	switch p.state {
	case StateReady:
	case StateEnded:
		p.mu.Unlock()
		return ErrEnded
	default:
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotReady, st)
	}

	out, err := p.sink.Open(audio.SampleRate, audio.Channels)
	if err != nil {
		p.state = StateError
		p.err = fmt.Errorf("%w: %w", ErrAudioUnavailable, err)
		err = p.err
		p.mu.Unlock()
		p.log.Error("Audio output unavailable", "err", err)
		p.emit(Event{Kind: EventState, State: StateError, Index: -1})
		p.finish()
		return err
	}
	p.output = out
	p.cursor = 0
	p.state = StatePlaying
	p.mu.Unlock()

	p.log.Info("Lecture started")
	p.emit(Event{Kind: EventState, State: StatePlaying, Index: 0})
	go p.run()
	return nil
}

// End terminates the session: the audio output is released at once and
// fetches still in flight are left to finish with their results discarded.
// Safe to call in any state and more than once.
func (p *Pipeline) End() {
	p.mu.Lock()
	if p.state == StateEnded {
		p.mu.Unlock()
		return
	}
	wasTalking := p.talking
	p.state = StateEnded
	p.talking = false
	out := p.output
	p.output = nil
	p.mu.Unlock()

	p.cancel()
	if out != nil {
		if err := out.Close(); err != nil {
			p.log.Warn("Closing audio output", "err", err)
		}
	}

	p.log.Info("Lecture ended")
	if wasTalking {
		p.emit(Event{Kind: EventTalking, State: StateEnded, Index: -1})
	}
	p.emit(Event{Kind: EventState, State: StateEnded, Index: -1})
	p.finish()
}

// run walks the cursor through the script, one chunk at a time.
func (p *Pipeline) run() {
	for {
		i, ok := p.due()
		if !ok {
			return
		}

		ready := p.fetch(i)
		p.prefetch(i)

		buf, ok := p.await(i, ready)
		if !ok {
			return
		}
		if buf == nil {
			p.log.Warn("No audio for chunk, skipping", "index", i)
			if !p.advance(i, true) {
				return
			}
			continue
		}
		if !p.play(i, buf) {
			return
		}
	}
}

// due returns the index that should play next, or false once the lecture
// has finished or been ended.
func (p *Pipeline) due() (int, bool) {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return 0, false
	}
	if p.cursor < len(p.script) {
		i := p.cursor
		p.mu.Unlock()
		return i, true
	}
	p.state = StateFinished
	skipped := p.skipped
	p.mu.Unlock()

	p.log.Info("Lecture finished", "skipped", skipped)
	p.emit(Event{Kind: EventState, State: StateFinished, Index: len(p.script)})
	p.finish()
	return 0, false
}

// prefetch requests the chunks in the lookahead window after i.
func (p *Pipeline) prefetch(i int) {
	for j := i + 1; j <= i+p.cfg.Lookahead; j++ {
		p.fetch(j)
	}
}

// fetch starts synthesis for chunk i unless it is out of range, cached or
// already being fetched. The returned channel closes when the fetch for i
// settles; it is nil when there is nothing to wait for.
func (p *Pipeline) fetch(i int) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying || i < 0 || i >= len(p.script) {
		return nil
	}
	if _, ok := p.cache[i]; ok {
		return nil
	}
	if ch, ok := p.inflight[i]; ok {
		return ch
	}

	ch := make(chan struct{})
	p.inflight[i] = ch
	go p.synthesize(i, p.script[i], p.output, ch)
	return ch
}

func (p *Pipeline) synthesize(i int, text string, out audio.Output, done chan struct{}) {
	defer close(done)

	ctx := p.ctx
	if p.cfg.SpeechTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.SpeechTimeout)
		defer cancel()
	}
	buf, err := decodeChunk(ctx, p.synth, out, text)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateEnded {
		return
	}
	delete(p.inflight, i)
	if err != nil {
		p.log.Warn("Chunk synthesis failed", "index", i, "err", err)
		return
	}
	p.cache[i] = buf
	p.log.Debug("Chunk ready", "index", i, "duration", buf.Duration())
}

func decodeChunk(ctx context.Context, synth SpeechSynthesizer, out audio.Output, text string) (*audio.Buffer, error) {
	data, err := synth.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	samples, err := audio.DecodeBase64PCM(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	buf, err := out.NewBuffer(samples)
	if err != nil {
		return nil, fmt.Errorf("buffer: %w", err)
	}
	return buf, nil
}

// await waits for the fetch of i to settle and returns its buffer, nil if
// the fetch failed. It returns false if the session ended meanwhile.
func (p *Pipeline) await(i int, ready <-chan struct{}) (*audio.Buffer, bool) {
	if ready != nil {
		select {
		case <-ready:
		case <-p.ctx.Done():
			return nil, false
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return nil, false
	}
	return p.cache[i], true
}

// play plays chunk i and advances the cursor when it completes.
func (p *Pipeline) play(i int, buf *audio.Buffer) bool {
	ended := make(chan struct{})
	var once sync.Once
	onEnded := func() { once.Do(func() { close(ended) }) }

	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return false
	}
	out := p.output
	p.talking = true
	p.shown = i
	text := p.script[i]
	p.mu.Unlock()

	p.emit(Event{Kind: EventTalking, State: StatePlaying, Index: i, Talking: true})
	p.emit(Event{Kind: EventChunk, State: StatePlaying, Index: i, Text: text, Talking: true})

	if err := out.Play(buf, onEnded); err != nil {
		p.log.Warn("Playback failed, skipping chunk", "index", i, "err", err)
		return p.advance(i, true)
	}

	select {
	case <-ended:
	case <-p.ctx.Done():
		return false
	}
	return p.advance(i, false)
}

// advance moves the cursor past i. It is a no-op once the session has left
// StatePlaying.
func (p *Pipeline) advance(i int, skipped bool) bool {
	p.mu.Lock()
	if p.state != StatePlaying || p.cursor != i {
		p.mu.Unlock()
		return false
	}
	wasTalking := p.talking
	p.talking = false
	p.cursor++
	if skipped {
		p.skipped++
	}
	p.mu.Unlock()

	if wasTalking {
		p.emit(Event{Kind: EventTalking, State: StatePlaying, Index: i})
	}
	if skipped {
		p.emit(Event{Kind: EventSkipped, State: StatePlaying, Index: i})
	}
	return true
}

func (p *Pipeline) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

// emit delivers ev unless it describes playback the session has already
// left, so a late talking or chunk event never follows the ended event.
func (p *Pipeline) emit(ev Event) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	fn := p.eventFn
	stale := ev.State == StatePlaying && p.state != StatePlaying
	p.mu.Unlock()
	if fn == nil || stale {
		return
	}
	ev.Session = p.id
	fn(ev)
}
