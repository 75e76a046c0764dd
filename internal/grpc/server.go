package grpc

import (
	"context"
	"net"

	"github.com/yungtweek/mock-openai/internal/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// Server wraps a gRPC server and its listen address.
type Server struct {
	addr       string
	grpcServer *grpc.Server
}

// NewGRPCServer creates a new gRPC server for the Completions service at the given address.
// Example addr: ":50051".
func NewGRPCServer(addr string, svc CompletionsServer, opts ...grpc.ServerOption) *Server {
	s := &Server{
		addr:       addr,
		grpcServer: grpc.NewServer(opts...),
	}

	RegisterCompletionsServer(s.grpcServer, svc)
	reflection.Register(s.grpcServer)

	return s
}

// Run starts listening on the configured address and serves the gRPC server.
// This call blocks until the server stops or returns an error.
func (s *Server) Run() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		logger.Log.Errorw("[grpc] failed to listen", "addr", s.addr, "err", err)
		return err
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	logger.Log.Infow("[grpc] starting server", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		logger.Log.Errorw("[grpc] server stopped with error", "err", err)
		return err
	}

	logger.Log.Info("[grpc] server stopped gracefully")
	return nil
}

// GracefulStop gracefully stops the underlying gRPC server.
func (s *Server) GracefulStop() {
	logger.Log.Infow("[grpc] graceful stop", "addr", s.addr)
	s.grpcServer.GracefulStop()
}

// Shutdown stops gracefully and falls back to Stop once ctx is done.
func (s *Server) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Log.Warnw("[grpc] graceful stop timed out, forcing stop", "addr", s.addr, "err", ctx.Err())
		s.Stop()
		<-done
	}
}

// Stop immediately stops the underlying gRPC server.
func (s *Server) Stop() {
	logger.Log.Infow("[grpc] stop", "addr", s.addr)
	s.grpcServer.Stop()
}
