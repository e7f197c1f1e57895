package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"table-bidding/utils"

	"github.com/rs/cors"
)

// Options tune the HTTP server
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	ShutdownGrace  time.Duration
	AllowedOrigins []string
}

type Server struct {
	httpServer *http.Server
	grace      time.Duration
}

// NewServer wraps handler with credentialed CORS for the listed origins
func NewServer(opts Options, handler http.Handler) *Server {
	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           c.Handler(handler),
			MaxHeaderBytes:    1 << 20,
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
			ReadHeaderTimeout: 3 * time.Second,
		},
		grace: grace,
	}
}

// Handler returns the CORS-wrapped handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then drains
// in-flight requests for up to the shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		utils.Info("HTTP server listening", map[string]any{"addr": s.httpServer.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	utils.Info("HTTP server shutting down", map[string]any{"grace": s.grace.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Shutdown stops the server without waiting for a signal
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
