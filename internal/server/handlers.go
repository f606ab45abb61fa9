package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/unifee/internal/page"
)

// pageFor returns the first page matching requestPath. The root path is
// served as /index.html.
func (s *Server) pageFor(requestPath string) Page {
	if requestPath == "" || requestPath == "/" {
		requestPath = "/index.html"
	}
	for _, p := range s.pages {
		if p.Match(requestPath) {
			return p
		}
	}
	return nil
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	p := s.pageFor(r.URL.Path)
	if p == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Not Found"))
		return
	}

	result := p.Result()
	if result == nil {
		w.Header().Set("Retry-After", "1")
		http.Error(w, p.Name()+" has not been built yet", http.StatusServiceUnavailable)
		return
	}

	writePage(w, r, result)
}

func writePage(w http.ResponseWriter, r *http.Request, result *page.Result) {
	etag := result.ETag()
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Cache-Control", "no-store")

	if match := r.Header.Get("If-None-Match"); match != "" && (match == etag || match == "*") {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.HTML)
}

// healthResponse is the body of the health endpoint.
type healthResponse struct {
	Status  string       `json:"status"`
	Clients int          `json:"clients"`
	Pages   []pageHealth `json:"pages"`
}

type pageHealth struct {
	Name    string     `json:"name"`
	Built   bool       `json:"built"`
	Failed  bool       `json:"failed,omitempty"`
	BuiltAt *time.Time `json:"built_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "healthy",
		Clients: s.ClientCount(),
		Pages:   make([]pageHealth, 0, len(s.pages)),
	}
	for _, p := range s.pages {
		ph := pageHealth{Name: p.Name()}
		if result := p.Result(); result != nil {
			builtAt := result.BuiltAt
			ph.Built = true
			ph.Failed = result.Failed
			ph.BuiltAt = &builtAt
			if result.Failed {
				resp.Status = "degraded"
			}
		}
		resp.Pages = append(resp.Pages, ph)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

// requestLogger logs each request at debug level once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
