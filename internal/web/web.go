// Package web serves operational HTTP endpoints: health, Prometheus
// metrics, live session counts and the current feed holidays.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskcal/internal/config"
	applog "taskcal/internal/log"
	"taskcal/internal/model"
)

// SessionStats is the read side of the session store.
type SessionStats interface {
	Len() int
	Summary() map[string]int
}

// HolidayFeeds is the read side of the configured holiday feeds.
type HolidayFeeds interface {
	Holidays() model.HolidaySet
	Refreshed() time.Time
}

// Server provides the HTTP endpoints.
type Server struct {
	auth     *config.BasicAuthConfig
	sessions SessionStats
	feeds    HolidayFeeds
	gatherer prometheus.Gatherer
	now      func() time.Time
	mux      *http.ServeMux
}

// Options wires the server. Nil Sessions or Feeds disable their endpoint
// data but keep the routes.
type Options struct {
	BasicAuth *config.BasicAuthConfig
	Sessions  SessionStats
	Feeds     HolidayFeeds
	Gatherer  prometheus.Gatherer
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		auth:     opts.BasicAuth,
		sessions: opts.Sessions,
		feeds:    opts.Feeds,
		gatherer: opts.Gatherer,
		now:      time.Now,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		applog.Info("starting HTTP server", "listen", "http://"+addr, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		applog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	return s.auth != nil && s.auth.Username != "" && s.auth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.auth.Username
	password := s.auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="taskcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/holidays", s.handleHolidays)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type sessionsResponse struct {
	Live    int            `json:"live"`
	ByState map[string]int `json:"by_state"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	resp := sessionsResponse{ByState: map[string]int{}}
	if s.sessions != nil {
		resp.Live = s.sessions.Len()
		resp.ByState = s.sessions.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}

type holidayItem struct {
	Date string `json:"date"`
	Name string `json:"name,omitempty"`
}

type holidaysResponse struct {
	RefreshedAt *time.Time    `json:"refreshed_at,omitempty"`
	Holidays    []holidayItem `json:"holidays"`
}

// handleHolidays lists feed holidays from today for ?days= days (default 90).
func (s *Server) handleHolidays(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 90)
	if days <= 0 || days > 1000 {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 1000")
		return
	}
	resp := holidaysResponse{Holidays: []holidayItem{}}
	if s.feeds == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if at := s.feeds.Refreshed(); !at.IsZero() {
		at = at.UTC()
		resp.RefreshedAt = &at
	}

	from := model.DateOf(s.now())
	to := from.AddDays(days - 1)
	set := s.feeds.Holidays()
	for _, d := range set.Dates() {
		if d.Before(from) || d.After(to) {
			continue
		}
		resp.Holidays = append(resp.Holidays, holidayItem{Date: d.String(), Name: set.Name(d)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
