package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"doctriage/internal/classify"
	"doctriage/internal/domain"
	"doctriage/internal/service"
)

// Agent is the subset of service.Agent served over HTTP.
type Agent interface {
	domain.Searcher
	AddPaper(ctx context.Context, path string, topics []string) (service.PaperOutcome, error)
	AddImage(ctx context.Context, path string) (service.ImageOutcome, error)
}

type hit struct {
	Rank     int     `json:"rank"`
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	File     string  `json:"file"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet,omitempty"`
}

type searchResp struct {
	Collection domain.Collection `json:"collection"`
	Query      string            `json:"query"`
	Results    []hit             `json:"results"`
}

type addReq struct {
	Path   string `json:"path"`
	Topics string `json:"topics,omitempty"`
}

// Config restricts what the ingestion endpoints may touch.
type Config struct {
	// InboxRoot is the directory request paths must resolve inside. Empty means the working directory.
	InboxRoot string
}

// ErrOutsideInbox rejects request paths that resolve outside the inbox root.
var ErrOutsideInbox = errors.New("path is outside the inbox root")

// NewRouter builds the HTTP API around agent.
func NewRouter(agent Agent, cfg Config, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InboxRoot == "" {
		cfg.InboxRoot = "."
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "doctriage"})
	})

	r.Get("/papers/search", searchHandler(agent, domain.Papers))
	r.Get("/images/search", searchHandler(agent, domain.Images))

	r.Post("/papers", func(w http.ResponseWriter, r *http.Request) {
		var req addReq
		if !decode(w, r, &req) || !confine(w, cfg.InboxRoot, &req) {
			return
		}
		out, err := agent.AddPaper(r.Context(), req.Path, classify.ParseTopics(req.Topics))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/images", func(w http.ResponseWriter, r *http.Request) {
		var req addReq
		if !decode(w, r, &req) || !confine(w, cfg.InboxRoot, &req) {
			return
		}
		out, err := agent.AddImage(r.Context(), req.Path)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
	return r
}

func searchHandler(agent Agent, collection domain.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, errors.New("query parameter q is required"))
			return
		}
		res, err := agent.Search(r.Context(), collection, q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out := searchResp{Collection: collection, Query: q, Results: make([]hit, 0, len(res))}
		for i, h := range res {
			out.Results = append(out.Results, hit{
				Rank:     i + 1,
				ID:       h.Record.ID,
				Source:   h.Record.Source(),
				File:     filepath.Base(h.Record.Source()),
				Category: h.Record.Category(),
				Score:    h.Score,
				Snippet:  classify.Truncate(h.Record.Document, 280),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v *addReq) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if strings.TrimSpace(v.Path) == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return false
	}
	return true
}

// confine rewrites req.Path to its resolved absolute form, or answers 403
// when it lies outside root.
func confine(w http.ResponseWriter, root string, req *addReq) bool {
	resolved, err := Resolve(root, req.Path)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return false
	}
	req.Path = resolved
	return true
}

// Resolve returns the absolute, symlink-free form of path and checks that it
// lies under root. Relative paths are taken relative to root.
func Resolve(root, path string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = real
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootAbs, path)
	}
	p := filepath.Clean(path)
	// a missing file cannot be moved; resolve what exists so the agent reports 404
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}
	rel, err := filepath.Rel(rootAbs, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideInbox)
	}
	return p, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotRegularFile):
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http.request",
				"req_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
