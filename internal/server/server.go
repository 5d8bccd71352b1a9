package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Server exposes a relay hub over gRPC and HTTP/WebSocket.
type Server struct {
	cfg      Config
	hub      *relay.Hub
	log      *slog.Logger
	origins  *originPolicy
	upgrader websocket.Upgrader

	httpServer *http.Server
	grpcServer *grpc.Server

	closed    chan struct{}
	closeOnce sync.Once
}

// New builds a Server for hub. The hub's Run loop must be started separately.
func New(cfg Config, hub *relay.Hub, log *slog.Logger) *Server {
	cfg = cfg.Sanitize()
	log = log.With(logger.Component("server"))

	s := &Server{
		cfg:    cfg,
		hub:    hub,
		log:    log,
		closed: make(chan struct{}),
	}
	s.origins = newOriginPolicy(cfg.AllowedOrigins, log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.httpServer = CreateServer(cfg.HTTPAddr, s.Routes())
	s.grpcServer = newGRPCServer(hub, log)
	return s
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Run listens on the configured addresses and serves until Shutdown is
// called, ctx ends, or either listener fails.
func (s *Server) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}
	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve serves HTTP on httpLis and gRPC on grpcLis.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", logger.Addr(httpLis.Addr().String()))
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.log.Info("gRPC server listening", logger.Addr(grpcLis.Addr().String()))
		if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-s.closed:
			return nil
		case <-gctx.Done():
		}
		// One listener failed or ctx ended: stop the other one too.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight HTTP requests
// and gRPC streams until ctx ends, after which gRPC streams are cut.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.log.Info("shutting down servers")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
		errs = append(errs, fmt.Errorf("grpc shutdown: %w", ctx.Err()))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Info("servers stopped")
	return nil
}
