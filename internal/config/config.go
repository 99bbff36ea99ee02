package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration, loaded from environment variables
// and optionally overlaid with a YAML file named by LECTERN_CONFIG.
type Config struct {
	// Server
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Lecture behavior
	Lookahead     int           `yaml:"lookahead"`      // chunks synthesized ahead of playback
	ScriptTimeout time.Duration `yaml:"script_timeout"` // whole-script generation budget
	SpeechTimeout time.Duration `yaml:"speech_timeout"` // per-chunk synthesis budget

	// Gemini connection
	GeminiAPIURL      string `yaml:"gemini_api_url"`
	GeminiAPIKey      string `yaml:"gemini_api_key"`
	GeminiTextModel   string `yaml:"gemini_text_model"`
	GeminiSpeechModel string `yaml:"gemini_speech_model"`
	Voice             string `yaml:"voice"`

	// Ollama writes scripts locally when set
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`

	// Any OpenAI-compatible endpoint writes scripts when a key is set
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	// Speech cache directory, empty disables it
	SpeechCacheDir string `yaml:"speech_cache"`
}

// Load reads configuration from environment variables with sane defaults,
// then applies the YAML overlay if LECTERN_CONFIG is set.
func Load() (Config, error) {
	cfg := Config{
		Port:     envInt("LECTERN_PORT", 8080),
		LogLevel: envStr("LECTERN_LOG_LEVEL", "info"),

		Lookahead:     envInt("LECTERN_LOOKAHEAD", 2),
		ScriptTimeout: envDuration("LECTERN_SCRIPT_TIMEOUT", 90*time.Second),
		SpeechTimeout: envDuration("LECTERN_SPEECH_TIMEOUT", 60*time.Second),

		GeminiAPIURL:      envStr("GEMINI_API_URL", "https://generativelanguage.googleapis.com"),
		GeminiAPIKey:      envStr("GEMINI_API_KEY", ""),
		GeminiTextModel:   envStr("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiSpeechModel: envStr("GEMINI_SPEECH_MODEL", "gemini-2.5-flash-preview-tts"),
		Voice:             envStr("GEMINI_VOICE", "Kore"),

		OllamaURL:   envStr("OLLAMA_URL", ""),
		OllamaModel: envStr("OLLAMA_MODEL", "qwen3:8b"),

		OpenAIAPIKey:  envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL: envStr("OPENAI_BASE_URL", ""),
		OpenAIModel:   envStr("OPENAI_MODEL", "gpt-4o-mini"),

		SpeechCacheDir: envStr("LECTERN_SPEECH_CACHE", ""),
	}

	if path := os.Getenv("LECTERN_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// overlay decodes a YAML file over cfg. Keys absent from the file, or set to
// their zero value, leave the current value alone.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if file.Port != 0 {
		c.Port = file.Port
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	if file.Lookahead != 0 {
		c.Lookahead = file.Lookahead
	}
	if file.ScriptTimeout != 0 {
		c.ScriptTimeout = file.ScriptTimeout
	}
	if file.SpeechTimeout != 0 {
		c.SpeechTimeout = file.SpeechTimeout
	}
	if file.GeminiAPIURL != "" {
		c.GeminiAPIURL = file.GeminiAPIURL
	}
	if file.GeminiAPIKey != "" {
		c.GeminiAPIKey = file.GeminiAPIKey
	}
	if file.GeminiTextModel != "" {
		c.GeminiTextModel = file.GeminiTextModel
	}
	if file.GeminiSpeechModel != "" {
		c.GeminiSpeechModel = file.GeminiSpeechModel
	}
	if file.Voice != "" {
		c.Voice = file.Voice
	}
	if file.OllamaURL != "" {
		c.OllamaURL = file.OllamaURL
	}
	if file.OllamaModel != "" {
		c.OllamaModel = file.OllamaModel
	}
	if file.OpenAIAPIKey != "" {
		c.OpenAIAPIKey = file.OpenAIAPIKey
	}
	if file.OpenAIBaseURL != "" {
		c.OpenAIBaseURL = file.OpenAIBaseURL
	}
	if file.OpenAIModel != "" {
		c.OpenAIModel = file.OpenAIModel
	}
	if file.SpeechCacheDir != "" {
		c.SpeechCacheDir = file.SpeechCacheDir
	}
	return nil
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("lookahead %d is negative", c.Lookahead))
	}
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required for speech"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("45s") or bare seconds ("45").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
