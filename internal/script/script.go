// Package script writes lecture scripts with a text LLM and splits the reply
// into narration chunks.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/satindergrewal/lectern/internal/lecture"
)

// TextGenerator is any LLM that answers a prompt under a system message.
// The Ollama, Gemini and OpenAI clients all satisfy it.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// ErrNoChunks means the LLM reply held no usable paragraphs.
var ErrNoChunks = errors.New("script: reply has no chunks")

// Writer implements lecture.ScriptGenerator on top of a TextGenerator.
type Writer struct {
	llm     TextGenerator
	timeout time.Duration
}

// NewWriter creates a script writer. A positive timeout bounds each call.
func NewWriter(llm TextGenerator, timeout time.Duration) *Writer {
	return &Writer{llm: llm, timeout: timeout}
}

// Generate writes a lecture of tier.Chunks() chunks. Extra chunks are
// dropped; a shorter script is kept as long as it has at least one chunk.
func (w *Writer) Generate(ctx context.Context, subject, topic string, tier lecture.DurationTier) ([]string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := w.llm.Generate(ctx, systemPrompt, userPrompt(subject, topic, tier))
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}

	chunks := ParseChunks(raw)
	want := tier.Chunks()
	switch {
	case len(chunks) == 0:
		log.Warn("LLM returned unusable script", "subject", subject, "topic", topic, "raw", truncate(raw, 120))
		return nil, ErrNoChunks
	case len(chunks) > want:
		chunks = chunks[:want]
	case len(chunks) < want:
		log.Warn("Script shorter than requested", "want", want, "got", len(chunks))
	}

	log.Info("Script written", "subject", subject, "topic", topic, "tier", tier,
		"chunks", len(chunks), "took", time.Since(start).Round(time.Millisecond))
	return chunks, nil
}

// ParseChunks extracts narration paragraphs from an LLM reply. It accepts a
// JSON array of strings, an object with a "chunks" array, either one wrapped
// in a code fence, and falls back to blank-line separated paragraphs.
func ParseChunks(raw string) []string {
	s := stripFence(stripThinking(raw))
	if s == "" {
		return nil
	}

	if chunks, ok := parseJSON(s); ok {
		return clean(chunks)
	}
	// JSON embedded in surrounding chatter.
	if i := strings.IndexAny(s, "[{"); i >= 0 {
		if j := strings.LastIndexAny(s, "]}"); j > i {
			if chunks, ok := parseJSON(s[i : j+1]); ok {
				return clean(chunks)
			}
		}
	}

	return clean(paragraphs.Split(s, -1))
}

var (
	paragraphs = regexp.MustCompile(`\n\s*\n`)
	listMarker = regexp.MustCompile(`^(\d+[.)]|[-*•])\s+`)
)

func parseJSON(s string) ([]string, bool) {
	var arr []string
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return arr, true
	}
	var obj struct {
		Chunks     []string `json:"chunks"`
		Paragraphs []string `json:"paragraphs"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		if len(obj.Chunks) > 0 {
			return obj.Chunks, true
		}
		if len(obj.Paragraphs) > 0 {
			return obj.Paragraphs, true
		}
	}
	return nil, false
}

// clean trims each chunk, strips list markers and drops empties.
func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		c = strings.TrimSpace(listMarker.ReplaceAllString(c, ""))
		c = strings.Join(strings.Fields(c), " ")
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// stripThinking removes reasoning blocks some local models leak.
func stripThinking(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		s = s[idx+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// stripFence unwraps a ```json ... ``` block.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
