package api

import (
	"net/http"
	"time"
)

// RouterOptions tunes the middleware applied around the route set
type RouterOptions struct {
	RateLimit       int
	RateLimitWindow time.Duration
}

// NewRouter builds the HTTP route set with logging, CORS and rate limiting
// applied around it
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.HandleHealth)

	mux.HandleFunc("POST /api/generate", h.HandleGenerate)
	mux.HandleFunc("GET /api/jobs", h.HandleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.HandleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.HandleDeleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/pause", h.HandlePause)
	mux.HandleFunc("POST /api/jobs/{id}/resume", h.HandleResume)

	mux.HandleFunc("GET /api/jobs/{id}/chunks/{index}", h.HandleGetChunk)
	mux.HandleFunc("GET /api/jobs/{id}/verify", h.HandleVerify)
	mux.HandleFunc("POST /api/jobs/{id}/reconstruct", h.HandleReconstruct)
	mux.HandleFunc("GET /api/jobs/{id}/archive", h.HandleDownloadArchive)

	mux.HandleFunc("GET /api/events/{id}", h.HandleEvents)

	var handler http.Handler = mux
	if opts.RateLimit > 0 {
		window := opts.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		handler = RateLimitMiddleware(opts.RateLimit, window)(handler)
	}
	handler = CORSMiddleware(handler)
	handler = LoggingMiddleware(handler)
	return handler
}
