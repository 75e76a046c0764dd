package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/yungtweek/mock-openai/internal/logger"
)

// TLSConfig returns a TLS 1.2+ configuration restricted to AEAD cipher suites.
func TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
		NextProtos: []string{"h2", "http/1.1"},
	}
}

// Server wraps an http.Server and its listen address.
type Server struct {
	addr     string
	certFile string
	keyFile  string
	srv      *http.Server
}

// NewServer creates an HTTP server for handler. TLS is used when both files are set.
// Example addr: ":3000".
func NewServer(addr string, handler http.Handler, certFile, keyFile string) *Server {
	s := &Server{
		addr:     addr,
		certFile: certFile,
		keyFile:  keyFile,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	if s.tls() {
		s.srv.TLSConfig = TLSConfig()
	}
	return s
}

func (s *Server) tls() bool { return s.certFile != "" && s.keyFile != "" }

// Run listens and serves until Shutdown is called or the listener fails.
// Request contexts derive from ctx, so canceling it ends paced streams.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		logger.Log.Errorw("[http] failed to listen", "addr", s.addr, "err", err)
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	logger.Log.Infow("[http] starting server", "addr", lis.Addr().String(), "tls", s.tls())
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	var err error
	if s.tls() {
		err = s.srv.ServeTLS(lis, s.certFile, s.keyFile)
	} else {
		err = s.srv.Serve(lis)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Errorw("[http] server stopped with error", "err", err)
		return err
	}

	logger.Log.Info("[http] server stopped gracefully")
	return nil
}

// Shutdown drains in-flight requests until ctx is done, then closes every
// connection still open. Running out of time is not an error.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Infow("[http] graceful stop", "addr", s.addr)
	err := s.srv.Shutdown(ctx)
	if err == nil || ctx.Err() == nil {
		return err
	}

	logger.Log.Warnw("[http] graceful stop timed out, closing connections", "addr", s.addr, "err", err)
	if cerr := s.srv.Close(); cerr != nil {
		logger.Log.Debugw("[http] close", "err", cerr)
	}
	return nil
}
