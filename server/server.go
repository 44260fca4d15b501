// Package server serves a project directory over HTTP with a live reload
// channel: browsers that load a page keep a server-sent events stream open
// and reload (or swap stylesheets) when told to.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AltoxaM/devrun/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes served alongside the project's files.
const (
	EventsPath       = "/__devrun/events"
	ClientScriptPath = "/__devrun/client.js"
	MetricsPath      = "/__devrun/metrics"
)

//go:embed client.js
var clientScript []byte

// ShutdownTimeout bounds how long in-flight requests get to finish once the
// server is told to stop.
var ShutdownTimeout = 5 * time.Second

type Config struct {
	// Root is the directory served at "/".
	Root string

	// Host and Port are the address ListenAndServe binds.
	Host string
	Port int

	// NoInject disables adding the reload client to HTML pages, for pages
	// that include ClientScriptPath themselves.
	NoInject bool
}

// Addr returns the listen address for the config.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Server is the live server. Create one with New.
type Server struct {
	config   Config
	logger   *slog.Logger
	recorder metrics.Recorder
	hub      *hub
	gate     *Gate
	handler  http.Handler
}

// New creates a Server. A nil recorder records nothing; a recorder with a
// Handler method (like [metrics.PrometheusRecorder]) is also served at
// MetricsPath.
func New(config Config, logger *slog.Logger, recorder metrics.Recorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	s := &Server{
		config:   config,
		logger:   logger,
		recorder: recorder,
		hub:      newHub(logger, recorder),
		gate:     &Gate{},
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get(EventsPath, s.hub.ServeHTTP)
	r.Get(ClientScriptPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(clientScript); err != nil {
			s.logger.Debug("write client script", "error", err)
		}
	})
	if h, ok := s.recorder.(interface{ Handler() http.Handler }); ok {
		r.Method(http.MethodGet, MetricsPath, h.Handler())
	}

	var static http.Handler = http.FileServer(http.Dir(s.config.Root))
	if !s.config.NoInject {
		static = injectScript(static)
	}
	r.Handle("/*", s.holdStylesheets(static))
	return r
}

// holdStylesheets makes stylesheet requests wait for the gate.
func (s *Server) holdStylesheets(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".css") {
			if err := s.gate.Wait(r.Context()); err != nil {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == EventsPath {
			return
		}
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

// Handler returns the server's router, for use with httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Gate returns the gate that stylesheet requests wait behind.
func (s *Server) Gate() *Gate { return s.gate }

// ListenAndServe listens on the configured address and serves until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then closes every reload client
// and shuts the listener down. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("serving", "root", s.config.Root, "url", "http://"+displayAddr(ln.Addr()))

	errs := make(chan error, 1)
	go func() { errs <- srv.Serve(ln) }()

	select {
	case err := <-errs:
		s.hub.shutdown()
		return err
	case <-ctx.Done():
	}

	s.hub.shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errs; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	s.logger.Info("stopped")
	return err
}

// OnConnect registers fn to be called for every new reload client.
func (s *Server) OnConnect(fn func(*Client)) { s.hub.connected(fn) }

// BroadcastReload tells every connected client to reload the page, and
// returns how many clients were sent the message.
func (s *Server) BroadcastReload() int {
	return s.hub.broadcast(message{event: metrics.BroadcastReload, data: struct{}{}})
}

// BroadcastInject tells every connected client to refetch the given
// stylesheets, which are paths relative to Root, without reloading the page.
func (s *Server) BroadcastInject(paths ...string) int {
	if paths == nil {
		paths = []string{}
	}
	return s.hub.broadcast(message{event: metrics.BroadcastInject, data: struct {
		Paths []string `json:"paths"`
	}{paths}})
}

// Clients returns the number of connected reload clients.
func (s *Server) Clients() int { return s.hub.count() }

// Shutdown closes every reload client. Serve does this itself when its
// context ends.
func (s *Server) Shutdown() { s.hub.shutdown() }

func displayAddr(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	if tcp.IP.IsUnspecified() {
		return fmt.Sprintf("localhost:%d", tcp.Port)
	}
	return tcp.String()
}
