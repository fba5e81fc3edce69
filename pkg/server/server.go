// Package server serves an output root over HTTP on a loopback address so a
// browser viewer can read the display documents and panel files. It also
// exposes a small JSON API for computing views and managing saved views.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/observability"
)

// DefaultAddr binds the loopback interface on a free port
const DefaultAddr = "127.0.0.1:0"

// Config describes what to serve and where
type Config struct {
	// Root is the output root holding index.json and displays/
	Root string
	// Addr is a loopback host:port; port 0 picks a free port
	Addr string
	// Logger receives request logs; nil discards them
	Logger *zap.Logger
	// Metrics exposes the Prometheus collectors on /metrics
	Metrics bool
}

// Handle is a running server
type Handle struct {
	srv    *http.Server
	ln     net.Listener
	url    string
	done   chan struct{}
	err    error
	once   sync.Once
	logger *zap.Logger
}

// Start binds the listener and serves cfg.Root until Stop is called or ctx
// is cancelled. The process working directory is never changed.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	if err := checkLoopback(addr); err != nil {
		return nil, err
	}
	st, err := os.Stat(cfg.Root)
	if err != nil || !st.IsDir() {
		return nil, errors.Newf(errors.ErrorTypeConfig, "output root %q is not a directory", cfg.Root).
			WithDetail("path", cfg.Root)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to listen on "+addr).
			WithDetail("addr", addr)
	}

	h := &Handle{
		srv: &http.Server{
			Handler:           newRouter(cfg, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     ln,
		url:    "http://" + ln.Addr().String() + "/",
		done:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		defer close(h.done)
		if err := h.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.err = err
			logger.Error("file server stopped", zap.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = h.Stop(shutdownCtx)
		case <-h.done:
		}
	}()

	logger.Info("serving displays", zap.String("root", cfg.Root), zap.String("url", h.url))
	return h, nil
}

// URL returns the base URL, ending in a slash
func (h *Handle) URL() string { return h.url }

// Addr returns the bound address
func (h *Handle) Addr() net.Addr { return h.ln.Addr() }

// Done is closed when the server has stopped
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop shuts the server down, waiting for in-flight requests until ctx
// expires. Calling Stop more than once is safe.
func (h *Handle) Stop(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		err = h.srv.Shutdown(ctx)
		<-h.done
		h.logger.Info("file server stopped", zap.String("url", h.url))
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to stop file server")
	}
	return h.err
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "malformed server address "+addr).
			WithDetail("addr", addr)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return errors.Newf(errors.ErrorTypeConfig, "server address %q is not a loopback address", addr).
		WithDetail("addr", addr)
}

func newRouter(cfg Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(observability.TracingMiddleware("trellis-server"))

	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	api := &api{root: cfg.Root, logger: logger}
	r.Route("/api", func(r chi.Router) {
		r.Get("/displays", api.listDisplays)
		r.Get("/displays/{name}", api.getDisplay)
		r.Post("/displays/{name}/view", api.computeView)
		r.Get("/displays/{name}/views", api.listViews)
		r.Get("/displays/{name}/views/{view}", api.getView)
		r.Put("/displays/{name}/views/{view}", api.putView)
		r.Delete("/displays/{name}/views/{view}", api.deleteView)
	})

	files := http.FileServer(hiddenFS{http.Dir(cfg.Root)})
	r.Handle("/*", files)
	return r
}

// hiddenFS keeps lock files and staging directories, whose names start with
// a dot, out of reach of the file server
type hiddenFS struct {
	http.FileSystem
}

func isHidden(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

func (fsys hiddenFS) Open(name string) (http.File, error) {
	if isHidden(name) {
		return nil, os.ErrNotExist
	}
	f, err := fsys.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	return hiddenFile{f}, nil
}

// hiddenFile drops dot entries from directory listings
type hiddenFile struct {
	http.File
}

func (f hiddenFile) Readdir(n int) ([]os.FileInfo, error) {
	entries, err := f.File.Readdir(n)
	kept := entries[:0]
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			kept = append(kept, e)
		}
	}
	return kept, err
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
