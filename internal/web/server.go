package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/hpungsan/scribbly/internal/config"
	"github.com/hpungsan/scribbly/internal/coordinator"
	"github.com/hpungsan/scribbly/internal/errors"
	"github.com/hpungsan/scribbly/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// defaultOrigins is used when no allowed origins are configured.
var defaultOrigins = []string{"chrome-extension://*"}

// NewServer creates the HTTP server for the coordinator: the message API, the
// event stream and the side panel page.
func NewServer(coord *coordinator.Coordinator, cfg *config.Config, log logger.Logger, version string) (*http.Server, error) {
	if log == nil {
		log = logger.NewNop()
	}

	// Strip "templates/" and "static/" prefixes.
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	h := NewHandlers(coord, cfg, NewRenderer(templateSub, version, log), log)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           NewRouter(h, staticSub, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams never finish on their own.
	srv.RegisterOnShutdown(h.StopStreams)
	return srv, nil
}

// NewRouter wires routes, security headers and CORS around h.
func NewRouter(h *Handlers, static fs.FS, origins []string) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/panel", http.StatusFound)
	}).Methods(http.MethodGet)
	router.HandleFunc("/panel", h.HandlePanel).Methods(http.MethodGet)
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServerFS(static))).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/messages", h.HandleMessage).Methods(http.MethodPost)
	api.HandleFunc("/events", h.HandleEvents).Methods(http.MethodGet)
	api.HandleFunc("/summaries", h.HandleListSummaries).Methods(http.MethodGet)
	api.HandleFunc("/summaries/combined", h.HandleCombinedSummary).Methods(http.MethodGet)
	api.HandleFunc("/summaries", h.HandleRequestSummary).Methods(http.MethodPost)
	api.HandleFunc("/drawings", h.HandleFetchDrawings).Methods(http.MethodGet)
	api.HandleFunc("/drawings", h.HandleSaveDrawing).Methods(http.MethodPut)
	api.HandleFunc("/availability", h.HandleAvailability).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.HandleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.HandleUpdateSettings).Methods(http.MethodPatch)

	if len(origins) == 0 {
		origins = defaultOrigins
	}
	router.Use(securityHeaders, requestGuard(origins))

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			tabHeader,
		},
		MaxAge: 300,
	})

	return c.Handler(router)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// requestGuard rejects cross-site writes that CORS alone cannot stop: a page
// can send a text/plain POST without a preflight, and only the response is
// hidden from it. Requests carrying a foreign Origin are refused outright;
// mutating requests must be JSON.
func requestGuard(origins []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && !originAllowed(origin, r.Host, origins) {
				renderGuardError(w, http.StatusForbidden, "origin not allowed: "+origin)
				return
			}
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mt != "application/json" {
					renderGuardError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed matches origin against the allowed list. Entries may hold one
// "*" wildcard; the server's own origin is always allowed.
func originAllowed(origin, host string, allowed []string) bool {
	if origin == "http://"+host || origin == "https://"+host {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		if prefix, suffix, ok := strings.Cut(a, "*"); ok &&
			len(origin) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}

func renderGuardError(w http.ResponseWriter, status int, msg string) {
	renderJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(errors.ErrInvalidRequest),
			"message": msg,
			"status":  status,
		},
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("scribbly coordinator listening", "addr", "http://"+srv.Addr)
	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
