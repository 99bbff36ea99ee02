package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeAPI answers generateContent calls with reply and records the last request.
type fakeAPI struct {
	t     *testing.T
	reply string
	path  string
	key   string
	req   generateRequest
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.path = r.URL.Path
	f.key = r.Header.Get("x-goog-api-key")
	if err := json.NewDecoder(r.Body).Decode(&f.req); err != nil {
		f.t.Errorf("decode request: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(f.reply))
}

func newTestClient(t *testing.T, reply string) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t, reply: reply}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret", "text-model", "tts-model", "Kore"), api
}

func TestGenerate(t *testing.T) {
	c, api := newTestClient(t, `{"candidates":[{"content":{"role":"model","parts":[{"text":"[\"A\","},{"text":" \"B\"]\n"}]}}]}`)

	out, err := c.Generate(context.Background(), "be a lecturer", "Subject: Math")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `["A", "B"]` {
		t.Errorf("Generate = %q, want joined parts", out)
	}
	if api.path != "/v1beta/models/text-model:generateContent" {
		t.Errorf("path = %q", api.path)
	}
	if api.key != "secret" {
		t.Errorf("api key header = %q", api.key)
	}
	if api.req.SystemInstruction == nil || api.req.SystemInstruction.Parts[0].Text != "be a lecturer" {
		t.Errorf("system instruction = %+v", api.req.SystemInstruction)
	}
	if api.req.Contents[0].Parts[0].Text != "Subject: Math" {
		t.Errorf("prompt = %+v", api.req.Contents)
	}
	if len(api.req.GenerationConfig.ResponseModalities) != 0 {
		t.Error("text request must not ask for audio")
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	c, _ := newTestClient(t, `{"candidates":[]}`)
	if _, err := c.Generate(context.Background(), "", "hi"); !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}
}

func TestSynthesize(t *testing.T) {
	c, api := newTestClient(t, `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/L16;codec=pcm;rate=24000","data":"AAABAA=="}}]}}]}`)

	data, err := c.Synthesize(context.Background(), "Hello class.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if data != "AAABAA==" {
		t.Errorf("data = %q", data)
	}
	if api.path != "/v1beta/models/tts-model:generateContent" {
		t.Errorf("path = %q", api.path)
	}
	gc := api.req.GenerationConfig
	if len(gc.ResponseModalities) != 1 || gc.ResponseModalities[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", gc.ResponseModalities)
	}
	if gc.SpeechConfig == nil || gc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Errorf("speechConfig = %+v", gc.SpeechConfig)
	}
}

func TestSynthesizeWrongRate(t *testing.T) {
	c, _ := newTestClient(t, `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/L16;codec=pcm;rate=16000","data":"AAAA"}}]}}]}`)
	_, err := c.Synthesize(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "16000") {
		t.Errorf("err = %v, want rate mismatch", err)
	}
}

func TestSynthesizeNoAudio(t *testing.T) {
	c, _ := newTestClient(t, `{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`)
	if _, err := c.Synthesize(context.Background(), "x"); !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}
}

func TestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "t", "s", "Kore")
	_, err := c.Synthesize(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status 429", err)
	}
}

func TestMimeRate(t *testing.T) {
	tests := []struct {
		mime string
		rate int
		ok   bool
	}{
		{"audio/L16;codec=pcm;rate=24000", 24000, true},
		{"audio/L16; rate=16000", 16000, true},
		{"audio/L16", 0, false},
		{"audio/L16;rate=fast", 0, false},
	}
	for _, tt := range tests {
		rate, ok := mimeRate(tt.mime)
		if rate != tt.rate || ok != tt.ok {
			t.Errorf("mimeRate(%q) = %d, %v; want %d, %v", tt.mime, rate, ok, tt.rate, tt.ok)
		}
	}
}
