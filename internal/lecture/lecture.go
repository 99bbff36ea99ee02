// Package lecture turns a generated lecture script into continuous spoken
// playback, synthesizing chunks ahead of the play cursor.
package lecture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/satindergrewal/lectern/internal/audio"
)

// DurationTier selects how long a lecture is. The chunk count per tier is
// enforced by the script generator, not by the pipeline.
type DurationTier int

const (
	Short DurationTier = iota
	Medium
	Long
)

// Chunks returns the number of script chunks a tier calls for.
func (t DurationTier) Chunks() int {
	switch t {
	case Medium:
		return 8
	case Long:
		return 12
	default:
		return 5
	}
}

func (t DurationTier) String() string {
	switch t {
	case Short:
		return "short"
	case Medium:
		return "medium"
	case Long:
		return "long"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseDurationTier accepts the tier names returned by String.
func ParseDurationTier(s string) (DurationTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short", "":
		return Short, nil
	case "medium":
		return Medium, nil
	case "long":
		return Long, nil
	}
	return Short, fmt.Errorf("unknown duration %q", s)
}

// ScriptGenerator writes the ordered text chunks of a lecture.
type ScriptGenerator interface {
	Generate(ctx context.Context, subject, topic string, tier DurationTier) ([]string, error)
}

// SpeechSynthesizer returns base64-encoded 16-bit little-endian mono PCM at
// 24kHz for a chunk of text.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// AudioSink acquires an audio output. Opening may fail when the platform has
// no audio available, which ends the session.
type AudioSink interface {
	Open(sampleRate, channels int) (audio.Output, error)
}

// State is the lifecycle stage of a Pipeline.
type State int

const (
	StateIdle State = iota
	StateReady
	StatePlaying
	StateFinished
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateEnded || s == StateError
}

var (
	ErrNotReady         = errors.New("lecture: not ready to start")
	ErrAudioUnavailable = errors.New("lecture: audio output unavailable")
	ErrEnded            = errors.New("lecture: session ended")
)

// ScriptGenerationError reports that no usable script could be produced.
// The session cannot continue; callers send the user back to setup.
type ScriptGenerationError struct {
	Subject string
	Topic   string
	Err     error
}

func (e *ScriptGenerationError) Error() string {
	return fmt.Sprintf("generate lecture script for %s / %s: %v", e.Subject, e.Topic, e.Err)
}

func (e *ScriptGenerationError) Unwrap() error { return e.Err }

// errEmptyScript is wrapped in a ScriptGenerationError when the generator
// returns nothing usable.
var errEmptyScript = errors.New("script has no chunks")
