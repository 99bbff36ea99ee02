package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/lectern/internal/config"
	"github.com/satindergrewal/lectern/internal/gemini"
	"github.com/satindergrewal/lectern/internal/lecture"
	"github.com/satindergrewal/lectern/internal/ollama"
	"github.com/satindergrewal/lectern/internal/openai"
	"github.com/satindergrewal/lectern/internal/script"
	"github.com/satindergrewal/lectern/internal/stream"
	"github.com/satindergrewal/lectern/internal/ttscache"
	"github.com/satindergrewal/lectern/internal/web"
)

func main() {
	log.SetReportTimestamp(true)

	if err := godotenv.Load(); err == nil {
		log.Info("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Config load failed", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "err", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("lectern starting up...")

	// Gemini speaks every lecture and writes scripts unless a local LLM does
	gem := gemini.NewClient(cfg.GeminiAPIURL, cfg.GeminiAPIKey, cfg.GeminiTextModel, cfg.GeminiSpeechModel, cfg.Voice)

	var synth lecture.SpeechSynthesizer = gem
	if cfg.SpeechCacheDir != "" {
		cache, err := ttscache.New(cfg.SpeechCacheDir, cfg.Voice, gem)
		if err != nil {
			log.Fatal("Speech cache unavailable", "err", err)
		}
		synth = cache
		log.Info("Speech cache enabled", "dir", cfg.SpeechCacheDir)
	}

	writer := script.NewWriter(scriptLLM(ctx, cfg, gem), cfg.ScriptTimeout)

	// Broadcaster: fan-out PCM frames to all listeners
	broadcaster := stream.NewBroadcaster()
	sink := stream.NewSink(ctx, broadcaster)
	webrtcHandler := stream.NewWebRTCHandler(broadcaster)

	pipelineCfg := lecture.Config{Lookahead: cfg.Lookahead, SpeechTimeout: cfg.SpeechTimeout}
	srv := web.NewServer(func() *lecture.Pipeline {
		return lecture.NewPipeline(writer, synth, sink, pipelineCfg)
	}, web.NewHub())
	srv.SetListenerCountFunc(func() int {
		return broadcaster.ListenerCount() + webrtcHandler.PeerCount()
	})

	// HTTP routes
	mux := http.NewServeMux()
	srv.Register(mux)
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster))
	mux.Handle("/offer", webrtcHandler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("lectern live", "addr", addr, "lookahead", pipelineCfg.Lookahead, "voice", cfg.Voice)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down...")
		srv.Shutdown()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped", "err", err)
		os.Exit(1)
	}
}

// scriptLLM picks the script writer backend: a reachable Ollama first, then an
// OpenAI-compatible endpoint, then Gemini itself.
func scriptLLM(ctx context.Context, cfg config.Config, gem *gemini.Client) script.TextGenerator {
	if cfg.OllamaURL != "" {
		client := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
		readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
		defer readyCancel()
		if client.WaitForReady(readyCtx, 2*time.Second) {
			log.Info("Ollama connected, writing scripts locally", "model", client.Model())
			return client
		}
		log.Warn("Ollama not available, falling back", "url", cfg.OllamaURL)
	}

	if cfg.OpenAIAPIKey != "" {
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err == nil {
			log.Info("Writing scripts with OpenAI-compatible model", "model", client.Model())
			return client
		}
		log.Warn("OpenAI client unavailable", "err", err)
	}

	log.Info("Writing scripts with Gemini", "model", cfg.GeminiTextModel)
	return gem
}
