// Package api is the REST and chart-WebSocket surface: filter CRUD,
// trigger history and stats, runtime settings, aggregated chart candles
// and the /ws/charts upgrade.
package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"crypto-screenerv1/internal/cache"
	"crypto-screenerv1/internal/chart"
	"crypto-screenerv1/internal/notification"
	"crypto-screenerv1/internal/settings"
	"crypto-screenerv1/internal/store/sqlite"
)

// Deps are the collaborators the handlers run on top of.
type Deps struct {
	Store    *sqlite.Store
	Cache    *cache.Cache
	Hub      *chart.Hub
	Notifier notification.Notifier
	Settings *settings.Manager

	// TelegramConfigured is echoed in the settings readback so the UI
	// knows whether notifications are live.
	TelegramConfigured bool
}

type handlers struct {
	d Deps
}

// NewRouter builds the gorilla/mux router with all routes registered.
func NewRouter(d Deps) *mux.Router {
	h := &handlers{d: d}

	r := mux.NewRouter()
	r.Use(corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/filters", h.listFilters).Methods(http.MethodGet)
	api.HandleFunc("/filters", h.createFilter).Methods(http.MethodPost)
	api.HandleFunc("/filters/{id:[0-9]+}", h.getFilter).Methods(http.MethodGet)
	api.HandleFunc("/filters/{id:[0-9]+}", h.updateFilter).Methods(http.MethodPut)
	api.HandleFunc("/filters/{id:[0-9]+}", h.deleteFilter).Methods(http.MethodDelete)
	api.HandleFunc("/filters/{id:[0-9]+}/toggle", h.toggleFilter).Methods(http.MethodPatch)
	api.HandleFunc("/filters/{id:[0-9]+}/clone", h.cloneFilter).Methods(http.MethodPost)

	api.HandleFunc("/triggers", h.listTriggers).Methods(http.MethodGet)
	api.HandleFunc("/triggers/stats", h.triggerStats).Methods(http.MethodGet)

	api.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.updateSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings/test-notification", h.testNotification).Methods(http.MethodPost)

	api.HandleFunc("/candles", h.getCandles).Methods(http.MethodGet)
	api.HandleFunc("/symbols", h.getSymbols).Methods(http.MethodGet)

	r.HandleFunc("/ws/charts", d.Hub.HandleWS)
	r.HandleFunc("/ws/triggers", d.Hub.HandleTriggerWS)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Preflight for every API path.
	r.PathPrefix("/api").Methods(http.MethodOptions).HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	return r
}

// corsMiddleware allows the UI, which is served from another origin in
// development, to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

// Server runs the API on its own listener.
type Server struct {
	srv *http.Server
}

// NewServer creates the API server.
func NewServer(addr string, d Deps) *Server {
	return &Server{srv: &http.Server{Addr: addr, Handler: NewRouter(d)}}
}

// Start launches the listener in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
