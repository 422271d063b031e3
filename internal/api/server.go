// Package api provides the HTTP and gRPC servers for brokerhub, exposing the
// broker registry, configured accounts and fee comparison.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"brokerhub/internal/config"
)

// shutdownTimeout bounds graceful shutdown of both listeners.
const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	svc      *Service
	logger   *slog.Logger
	httpAddr string
	grpcAddr string

	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// NewServer creates a new Server configured from the given listener config.
// A zero GRPCPort disables the gRPC listener.
func NewServer(cfg config.Server, svc *Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:      svc,
		logger:   logger,
		httpAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.GRPCPort != 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
	}
	s.httpSrv = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.grpcSrv = NewGRPCServer(svc, logger)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/brokers", s.handleBrokers)
		r.Get("/brokers/{key}", s.handleBroker)
		r.Get("/stats", s.handleStats)
		r.Get("/accounts", s.handleAccounts)
		r.Post("/compare", s.handleCompare)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http listening", "addr", s.httpAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen on %s: %w", s.grpcAddr, err)
		}
		g.Go(func() error {
			s.logger.Info("grpc listening", "addr", s.grpcAddr)
			if err := s.grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	err := s.httpSrv.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
	s.logger.Info("servers stopped")
	return err
}
