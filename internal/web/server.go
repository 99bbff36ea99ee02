// Package web serves the lecture control page, its JSON API and the live
// event feed.
package web

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/satindergrewal/lectern/internal/lecture"
)

//go:embed index.html
var indexHTML []byte

// PipelineFunc creates a fresh idle pipeline for a new session.
type PipelineFunc func() *lecture.Pipeline

// Server runs one lecture at a time. Requesting a new lecture ends the
// previous one.
type Server struct {
	newPipeline PipelineFunc
	hub         *Hub
	listeners   func() int

	mu      sync.Mutex
	current *lecture.Pipeline
}

// NewServer creates a server that builds sessions with newPipeline and
// publishes their events through hub.
func NewServer(newPipeline PipelineFunc, hub *Hub) *Server {
	return &Server{newPipeline: newPipeline, hub: hub}
}

// SetListenerCountFunc reports audio listeners in status responses.
func (s *Server) SetListenerCountFunc(fn func() int) {
	s.listeners = fn
}

// Register adds the page, API and event routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/lecture", s.handleLecture)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/end", s.handleEnd)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
}

// Current returns the active session, or nil.
func (s *Server) Current() *lecture.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Shutdown ends the active session and disconnects event clients.
func (s *Server) Shutdown() {
	if p := s.Current(); p != nil {
		p.End()
	}
	s.hub.Close()
}

// replace installs p as the active session and ends the one it displaces.
func (s *Server) replace(p *lecture.Pipeline) {
	s.mu.Lock()
	old := s.current
	s.current = p
	s.mu.Unlock()
	if old != nil {
		old.End()
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

type lectureRequest struct {
	Subject  string `json:"subject"`
	Topic    string `json:"topic"`
	Duration string `json:"duration"`
}

func (s *Server) handleLecture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req lectureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Subject == "" || req.Topic == "" {
		http.Error(w, "subject and topic required", http.StatusBadRequest)
		return
	}
	tier, err := lecture.ParseDurationTier(req.Duration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := s.newPipeline()
	p.SetEventFunc(func(ev lecture.Event) { s.hub.Publish(ev) })
	s.replace(p)

	err = p.LoadScript(r.Context(), req.Subject, req.Topic, tier)
	var sge *lecture.ScriptGenerationError
	switch {
	case errors.As(err, &sge):
		log.Warn("Lecture setup failed", "subject", req.Subject, "topic", req.Topic, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"ok":       false,
			"error":    err.Error(),
			"redirect": "/",
		})
		return
	case errors.Is(err, lecture.ErrEnded):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "replaced by a newer lecture"})
		return
	case err != nil:
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"status": p.Status(),
		"script": p.Script(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	p := s.Current()
	if p == nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": lecture.ErrNotReady.Error()})
		return
	}
	err := p.Start()
	switch {
	case errors.Is(err, lecture.ErrAudioUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": p.Status()})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	p := s.Current()
	if p == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	p.End()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": p.Status()})
}

// statusBody is the /api/status response and the first event-feed message.
type statusBody struct {
	Kind      string          `json:"kind"`
	Lecture   *lecture.Status `json:"lecture"`
	Listeners int             `json:"listeners"`
	Pages     int             `json:"pages"`
}

func (s *Server) status() statusBody {
	body := statusBody{Kind: "status", Pages: s.hub.ClientCount()}
	if p := s.Current(); p != nil {
		st := p.Status()
		body.Lecture = &st
	}
	if s.listeners != nil {
		body.Listeners = s.listeners()
	}
	return body
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	hello, err := json.Marshal(s.status())
	if err != nil {
		hello = nil
	}
	s.hub.serve(w, r, hello)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
