// CLAUDE:SUMMARY Read API over HTTP: chi routes for updates, search, topics, health and metrics behind the shield stack.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docwatch/kit"
	"github.com/hazyhaar/docwatch/shield"
)

// Handler returns the read API with the shield middleware stack. The rate
// limiter's GC stops when ctx is done.
func (s *Service) Handler(ctx context.Context) http.Handler {
	limit := shield.RateLimitConfig{MaxRequests: s.cfg.HTTP.RateLimit, Window: time.Minute}
	if limit.MaxRequests < 0 {
		limit.MaxRequests = 0
	}

	r := chi.NewRouter()
	for _, mw := range shield.APIStack(ctx, limit, "/health", "/metrics") {
		r.Use(mw)
	}
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the read routes on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	ep := s.endpoints()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Get("/api/updates", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := &UpdatesQuery{
			Topic:    q.Get("topic"),
			Language: q.Get("language"),
			Type:     q.Get("type"),
			Page:     queryInt(r, "page", 1),
			Limit:    queryInt(r, "limit", 20),
		}
		serve(w, r, ep.updates, req)
	})
	r.Get("/api/updates/{id}", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, ep.get, chi.URLParam(r, "id"))
	})
	r.Get("/api/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := &SearchQuery{
			Keyword:  q.Get("q"),
			Topic:    q.Get("topic"),
			Language: q.Get("language"),
			Limit:    queryInt(r, "limit", 20),
		}
		serve(w, r, ep.search, req)
	})
	r.Get("/api/topics", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, ep.topics, nil)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"history": s.store != nil,
		"topics":  len(s.topics),
	})
}

func serve(w http.ResponseWriter, r *http.Request, e kit.Endpoint, req any) {
	resp, err := e(kit.WithTransport(r.Context(), "http"), req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownTopic), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoHistory):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
