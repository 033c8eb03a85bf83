package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
)

type Config struct {
	EnableHTTP       bool          `envconfig:"ENABLE_HTTP" yaml:"enable_http"`
	EnableGRPC       bool          `envconfig:"ENABLE_GRPC" yaml:"enable_grpc"`
	HTTPPort         string        `envconfig:"HTTP_PORT" yaml:"http_port" validate:"required_if=EnableHTTP true"`
	GRPCPort         string        `envconfig:"GRPC_PORT" yaml:"grpc_port" validate:"required_if=EnableGRPC true"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" yaml:"http_write_timeout"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	// IdempotencyTTL is how long a callable response is replayed for a
	// repeated Idempotency-Key. Zero disables replay.
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" yaml:"idempotency_ttl"`

	// mTLS Configuration
	MTLSEnabled    bool   `envconfig:"MTLS_ENABLED" yaml:"mtls_enabled"`
	MTLSCACert     string `envconfig:"MTLS_CA_CERT" yaml:"mtls_ca_cert" validate:"required_if=MTLSEnabled true"`
	MTLSServerCert string `envconfig:"MTLS_SERVER_CERT" yaml:"mtls_server_cert" validate:"required_if=MTLSEnabled true"`
	MTLSServerKey  string `envconfig:"MTLS_SERVER_KEY" yaml:"mtls_server_key" validate:"required_if=MTLSEnabled true"`
}

// Server runs the HTTP and gRPC callable front ends until the context ends.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler
	grpcSrv *grpc.Server
	httpSrv *http.Server
}

func New(cfg Config, logger *slog.Logger, handler http.Handler, grpcSrv *grpc.Server) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		handler: handler,
		grpcSrv: grpcSrv,
	}
}

func (s *Server) Name() string { return "server" }

// Start blocks until ctx is cancelled or a listener fails, then shuts both
// servers down.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 2)

	if s.cfg.EnableHTTP {
		s.httpSrv = &http.Server{
			Addr:              ":" + s.cfg.HTTPPort,
			Handler:           s.handler,
			ReadTimeout:       s.cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      s.cfg.HTTPWriteTimeout,
			IdleTimeout:       120 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		}

		if s.cfg.MTLSEnabled {
			tlsConfig, err := loadMTLSConfig(s.cfg.MTLSCACert)
			if err != nil {
				return fmt.Errorf("server: load mTLS config: %w", err)
			}
			s.httpSrv.TLSConfig = tlsConfig
		}

		go func() {
			s.logger.Info("HTTP server starting", "port", s.cfg.HTTPPort, "mtls", s.cfg.MTLSEnabled)
			var err error
			if s.cfg.MTLSEnabled {
				err = s.httpSrv.ListenAndServeTLS(s.cfg.MTLSServerCert, s.cfg.MTLSServerKey)
			} else {
				err = s.httpSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("server: http: %w", err)
			}
		}()
	}

	if s.cfg.EnableGRPC && s.grpcSrv != nil {
		lis, err := SystemSocket(s.cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("server: listen grpc: %w", err)
		}
		go func() {
			s.logger.Info("gRPC server starting", "port", s.cfg.GRPCPort)
			if err := s.grpcSrv.Serve(lis); err != nil {
				errChan <- fmt.Errorf("server: grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down servers")
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return err
	}
}

// Close is a no-op: Start owns the shutdown.
func (s *Server) Close() error { return nil }

func (s *Server) shutdown() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	if s.grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			s.grpcSrv.Stop()
		}
	}

	return errors.Join(errs...)
}

func loadMTLSConfig(caPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("could not read CA cert: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA cert")
	}

	return &tls.Config{
		ClientCAs:  caCertPool,
		ClientAuth: tls.RequireAndVerifyClientCert,
		MinVersion: tls.VersionTLS12,
	}, nil
}

func SystemSocket(port string) (net.Listener, error) {
	return net.Listen("tcp", ":"+port)
}
