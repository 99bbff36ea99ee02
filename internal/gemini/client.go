// Package gemini is a REST client for the Gemini generateContent API, used
// both for lecture scripts and for speech.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/satindergrewal/lectern/internal/audio"
)

// ErrNoContent means the API answered without the requested part.
var ErrNoContent = errors.New("gemini: response has no content")

// Client talks to the Gemini API.
type Client struct {
	baseURL     string
	apiKey      string
	textModel   string
	speechModel string
	voice       string
	httpClient  *http.Client
}

// NewClient creates a Gemini client. Speech is requested with the named
// prebuilt voice.
func NewClient(baseURL, apiKey, textModel, speechModel, voice string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		textModel:   textModel,
		speechModel: speechModel,
		voice:       voice,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Voice returns the configured voice name.
func (c *Client) Voice() string {
	return c.voice
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type generationConfig struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

// generateRequest is the generateContent request body.
type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

// generateResponse is the generateContent response.
type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// Generate sends a prompt with a system instruction to the text model.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	temp := 0.7
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: &temp},
	}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	resp, err := c.generate(ctx, c.textModel, req)
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", ErrNoContent
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrNoContent
	}
	return strings.TrimSpace(sb.String()), nil
}

// Synthesize speaks text with the speech model and returns base64-encoded
// 16-bit little-endian mono PCM at 24kHz, as delivered by the API.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	sc := &speechConfig{}
	sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = c.voice
	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: text}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig:       sc,
		},
	}

	start := time.Now()
	resp, err := c.generate(ctx, c.speechModel, req)
	if err != nil {
		return "", err
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			if rate, ok := mimeRate(p.InlineData.MimeType); ok && rate != audio.SampleRate {
				return "", fmt.Errorf("gemini: speech at %d Hz, want %d", rate, audio.SampleRate)
			}
			log.Debug("Speech synthesized", "chars", len(text), "took", time.Since(start).Round(time.Millisecond))
			return p.InlineData.Data, nil
		}
	}
	return "", ErrNoContent
}

func (c *Client) generate(ctx context.Context, model string, body generateRequest) (*generateResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &result, nil
}

// mimeRate reads the rate parameter of "audio/L16;codec=pcm;rate=24000".
func mimeRate(mime string) (int, bool) {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
