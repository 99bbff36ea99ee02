package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/satindergrewal/lectern/internal/lecture"
)

type fakeLLM struct {
	reply  string
	err    error
	system string
	prompt string
	ctx    context.Context
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.ctx, f.system, f.prompt = ctx, system, prompt
	return f.reply, f.err
}

func TestParseChunks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["One.", "Two."]`, []string{"One.", "Two."}},
		{"chunks object", `{"chunks": ["One.", "Two.", "Three."]}`, []string{"One.", "Two.", "Three."}},
		{"paragraphs object", `{"paragraphs": ["One."]}`, []string{"One."}},
		{"code fence", "```json\n[\"One.\", \"Two.\"]\n```", []string{"One.", "Two."}},
		{"thinking leak", "<think>plan the talk</think>\n[\"One.\"]", []string{"One."}},
		{"chatter around json", "Here is your lecture:\n[\"One.\", \"Two.\"]\nEnjoy!", []string{"One.", "Two."}},
		{"blank line fallback", "First paragraph\nwraps here.\n\n2. Second one.\n\n   \n\nThird.", []string{"First paragraph wraps here.", "Second one.", "Third."}},
		{"empty entries dropped", `["One.", "  ", ""]`, []string{"One."}},
		{"empty", "   ", nil},
		{"only thinking", "<think>hmm</think>", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChunks(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseChunks() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func jsonArray(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%q", fmt.Sprintf("Paragraph %d.", i+1))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestWriterTruncatesToTier(t *testing.T) {
	llm := &fakeLLM{reply: jsonArray(9)}
	w := NewWriter(llm, 0)

	chunks, err := w.Generate(context.Background(), "Physics", "Entropy", lecture.Short)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	if chunks[4] != "Paragraph 5." {
		t.Errorf("last chunk = %q", chunks[4])
	}
	if !strings.Contains(llm.prompt, "Physics") || !strings.Contains(llm.prompt, "Entropy") || !strings.Contains(llm.prompt, "5") {
		t.Errorf("prompt missing subject, topic or count: %q", llm.prompt)
	}
	if llm.system != systemPrompt {
		t.Error("system prompt not sent")
	}
}

func TestWriterAcceptsShortScript(t *testing.T) {
	w := NewWriter(&fakeLLM{reply: jsonArray(6)}, 0)
	chunks, err := w.Generate(context.Background(), "History", "Rome", lecture.Long)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(chunks) != 6 {
		t.Errorf("got %d chunks, want the 6 returned", len(chunks))
	}
}

func TestWriterEmptyReply(t *testing.T) {
	w := NewWriter(&fakeLLM{reply: "```\n```"}, 0)
	if _, err := w.Generate(context.Background(), "a", "b", lecture.Medium); !errors.Is(err, ErrNoChunks) {
		t.Errorf("err = %v, want ErrNoChunks", err)
	}
}

func TestWriterLLMError(t *testing.T) {
	boom := errors.New("connection refused")
	w := NewWriter(&fakeLLM{err: boom}, 0)
	if _, err := w.Generate(context.Background(), "a", "b", lecture.Short); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped LLM error", err)
	}
}

func TestWriterAppliesTimeout(t *testing.T) {
	llm := &fakeLLM{reply: jsonArray(5)}
	w := NewWriter(llm, time.Minute)
	if _, err := w.Generate(context.Background(), "a", "b", lecture.Short); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	deadline, ok := llm.ctx.Deadline()
	if !ok {
		t.Fatal("LLM call had no deadline")
	}
	if time.Until(deadline) > time.Minute {
		t.Errorf("deadline %v too far out", deadline)
	}
}

// Writer must satisfy the pipeline's collaborator interface.
var _ lecture.ScriptGenerator = (*Writer)(nil)

func TestTruncateKeepsCharactersWhole(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := truncate(s, 3)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate(%q, 3) = %q, not valid UTF-8", s, got)
	}
	if got != "ééé..." {
		t.Errorf("truncate = %q, want ééé...", got)
	}
	if got := truncate("héllo", 5); got != "héllo" {
		t.Errorf("short input changed: %q", got)
	}
}
