package prometheus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Handler serves the text exposition of gatherer for net/http.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// FastHTTPHandler is Handler adapted to fasthttp.
func FastHTTPHandler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(Handler(gatherer))
}

// Server exposes a registry on a single path over fasthttp.
type Server struct {
	path   string
	server *fasthttp.Server
}

// NewServer serves gatherer at path; every other path is a 404.
func NewServer(path string, gatherer prometheus.Gatherer) *Server {
	if path == "" {
		path = "/metrics"
	}
	metrics := FastHTTPHandler(gatherer)

	return &Server{
		path: path,
		server: &fasthttp.Server{
			Name:         "parallel-metrics",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler: func(ctx *fasthttp.RequestCtx) {
				if string(ctx.Path()) != path {
					ctx.Error("not found", fasthttp.StatusNotFound)
					return
				}
				metrics(ctx)
			},
		},
	}
}

// Serve accepts connections on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.ShutdownWithContext(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Path is the path metrics are served on.
func (s *Server) Path() string {
	return s.path
}
