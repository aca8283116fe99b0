// Package grpcserver wraps the listening *grpc.Server the AccessService
// contract is registered against: interceptor chaining plus a
// listen/serve/stop lifecycle. The interceptor chain is structured
// logging and panic recovery only — authentication is delegated to
// dbproxy in this system, not checked at the transport layer.
package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"

	// registers the JSON content-subtype codec used by every service
	// this node serves or calls (see internal/rpc/codec).
	_ "github.com/tinyim/access-node/internal/rpc/codec"
)

// Server wraps a grpc.Server bound to a TCP listener.
type Server struct {
	*grpc.Server
	address string
	log     *slog.Logger
}

func New(address string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	recoveryOpts := []recovery.Option{
		recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
			log.Error("grpc: recovered panic", "panic", p)
			return fmt.Errorf("internal error")
		}),
	}

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcmiddleware.ChainUnaryServer(
				logging.UnaryServerInterceptor(slogLogger(log)),
				recovery.UnaryServerInterceptor(recoveryOpts...),
			),
		),
		grpc.ChainStreamInterceptor(
			grpcmiddleware.ChainStreamServer(
				logging.StreamServerInterceptor(slogLogger(log)),
				recovery.StreamServerInterceptor(recoveryOpts...),
			),
		),
	)

	return &Server{Server: s, address: address, log: log}
}

// Serve listens and blocks until the server stops; run it on its own
// goroutine from process wiring.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("grpcserver: listen %s: %w", s.address, err)
	}
	s.log.Info("grpc server listening", "address", s.address)
	return s.Server.Serve(lis)
}

// Stop gracefully drains in-flight RPCs, falling back to a hard stop if
// it takes longer than the given deadline.
func (s *Server) Stop(deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		s.Server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		s.Server.Stop()
	}
}

func slogLogger(log *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		switch lvl {
		case logging.LevelDebug:
			log.Debug(msg, fields...)
		case logging.LevelInfo:
			log.Info(msg, fields...)
		case logging.LevelWarn:
			log.Warn(msg, fields...)
		case logging.LevelError:
			log.Error(msg, fields...)
		}
	})
}
