// Package api runs the network front of the dashboard: the REST handler,
// the websocket signal feed and the gRPC stage service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ShutdownTimeout bounds graceful shutdown once the serve context ends.
const ShutdownTimeout = 10 * time.Second

// Options configures the listeners. An empty GRPCAddr disables gRPC.
type Options struct {
	HTTPAddr string
	GRPCAddr string
}

// Server hosts the HTTP API and the gRPC services.
type Server struct {
	opts   Options
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	hub    *Hub
	log    *slog.Logger
}

// NewServer creates a Server serving handler over HTTP and stage over gRPC.
// hub may be nil.
func NewServer(handler http.Handler, stage *StageService, hub *Hub, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if stage != nil {
		stage.RegisterGRPC(gs)
		hs.SetServingStatus(StageServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	return &Server{
		opts: opts,
		http: &http.Server{
			Addr:              opts.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc:   gs,
		health: hs,
		hub:    hub,
		log:    log,
	}
}

// GRPC returns the underlying gRPC server for registering extra services.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe opens the configured listeners and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.HTTPAddr, err)
	}
	var grpcLn net.Listener
	if s.opts.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", s.opts.GRPCAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", s.opts.GRPCAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves on the given listeners until ctx is cancelled. grpcLn may be
// nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server listening", "addr", httpLn.Addr().String())
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcLn != nil {
		g.Go(func() error {
			s.log.Info("grpc server listening", "addr", grpcLn.Addr().String())
			if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires, then forces the gRPC server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down api server")
	s.health.Shutdown()
	if s.hub != nil {
		s.hub.Close()
	}
	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
