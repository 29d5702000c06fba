package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server exposes /metrics, plus any probe handlers, while a run is going.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Serve binds port (0 picks a free one) and serves in the background. Bind
// errors are returned immediately rather than logged from the goroutine.
func Serve(port int, extra map[string]http.Handler) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding metrics port %d: %w", port, err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		ln:     ln,
		logger: slog.Default().With("component", "metrics-server"),
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	s.logger.Info("metrics server listening", "addr", s.Addr())
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops accepting scrapes and waits up to 5s for in-flight ones.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
