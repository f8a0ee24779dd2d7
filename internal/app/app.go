// Package app owns the HTTP server lifecycle around a Platform.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentplatform"
	"github.com/hupe1980/agentplatform/internal/httpapi"
	"github.com/hupe1980/agentplatform/logging"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

// App serves the API for one Platform.
type App struct {
	platform *agentplatform.Platform
	logger   logging.Logger
	server   *http.Server
	ready    atomic.Bool
}

// New builds the HTTP server for platform.
func New(platform *agentplatform.Platform, logger logging.Logger) (*App, error) {
	if platform == nil {
		return nil, errors.New("new app: nil platform")
	}
	cfg := platform.Config()
	if cfg.HTTPAddr == "" {
		return nil, errors.New("new app: empty HTTPAddr")
	}
	logger = logging.OrNoOp(logger)

	a := &App{
		platform: platform,
		logger:   logger.With("component", "app"),
	}

	apiRouter := httpapi.NewRouter(platform, func(o *httpapi.Options) {
		o.Version = Version
		o.Logger = logger
	})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("/", apiRouter)

	a.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLoggingMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Handler returns the root handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Start listens on the configured address and serves until Shutdown.
func (a *App) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (a *App) Serve(ln net.Listener) error {
	a.ready.Store(true)
	a.logger.Info("app.listening", "addr", ln.Addr().String())

	err := a.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	a.ready.Store(false)
	return err
}

// Run serves until ctx ends, then shuts down within shutdownTimeout.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown stops accepting requests, waits for in-flight requests and then
// drains the platform so queued runs still persist.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown: nil context")
	}
	a.ready.Store(false)
	a.logger.Info("app.shutdown.start")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("app.shutdown.forced")
			if closeErr := a.server.Close(); closeErr != nil {
				errs = append(errs, closeErr)
			}
		} else {
			errs = append(errs, err)
		}
	}
	if err := a.platform.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("app.shutdown.done")
	return errors.Join(errs...)
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		writePlain(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	if err := a.platform.Ping(r.Context()); err != nil {
		writePlain(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writePlain(w, http.StatusOK, "ready")
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
