// Package server exposes the clone pipeline over HTTP and serves the
// generated bundles.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/html"

	"tersicore/internal/bundle"
	"tersicore/internal/pipeline"
)

// maxBody bounds JSON request bodies; edited documents can be large.
const maxBody = 32 << 20

// Runner executes one clone job.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Layout(slug string) *bundle.Layout
}

// Config describes server wiring.
type Config struct {
	Runner    Runner
	StaticDir string
	Logger    *log.Logger
}

// Server routes API calls to the pipeline.
type Server struct {
	runner    Runner
	staticDir string
	logger    *log.Logger
	router    chi.Router
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = bundle.URLPrefix
	}
	s := &Server{runner: cfg.Runner, staticDir: cfg.StaticDir, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return withLogging(s.logger, next) })

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("pong"))
	})
	r.Post("/generate_site", s.handleGenerate)
	r.Put("/edit_template", s.handleEditTemplate)
	prefix := "/" + bundle.URLPrefix + "/"
	r.Handle(prefix+"*", http.StripPrefix(prefix, http.FileServer(http.Dir(s.staticDir))))

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decode(w, r, &req); err != nil || req.URL == "" || req.Slug == "" || req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing parameters"})
		return
	}
	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if pipeline.KindOf(err) == pipeline.KindInvalidRequest {
			status = http.StatusBadRequest
		}
		s.logger.Printf("GENERATE slug=%s failed: %v", req.Slug, err)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.serveIndex(w, r, res.Layout)
}

type editRequest struct {
	Slug string `json:"slug"`
	HTML string `json:"html"`
}

// handleEditTemplate replaces an existing bundle's index.html with a
// client-edited document.
func (s *Server) handleEditTemplate(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decode(w, r, &req); err != nil || req.Slug == "" || strings.TrimSpace(req.HTML) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing parameters"})
		return
	}
	if err := pipeline.ValidateSlug(req.Slug); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	layout := s.runner.Layout(req.Slug)
	if _, err := os.Stat(layout.IndexPath()); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no site for slug %q", req.Slug)})
		return
	}
	doc, err := html.Parse(strings.NewReader(req.HTML))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := layout.Write(doc); err != nil {
		s.logger.Printf("EDIT slug=%s failed: %v", req.Slug, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.serveIndex(w, r, layout)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request, l *bundle.Layout) {
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, l.IndexPath())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
