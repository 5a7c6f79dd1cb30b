package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

type Server struct{ *http.Server }

// New builds a server without a write timeout: the KDS event stream keeps
// responses open for as long as a display is connected.
func New(addr string, h http.Handler) *Server {
	return &Server{Server: &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}
}

// Run listens on Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.RunOn(ctx, ln)
}

// RunOn serves on ln until ctx is cancelled, then shuts down with a 5s grace
// period. Request contexts derive from ctx, so open event streams end as soon
// as shutdown starts.
func (s *Server) RunOn(ctx context.Context, ln net.Listener) error {
	s.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() { errCh <- s.Server.Serve(ln) }()
	select {
	case <-ctx.Done():
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx2)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
