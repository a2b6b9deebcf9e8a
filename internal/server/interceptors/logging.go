// Package interceptors holds gRPC server interceptors.
package interceptors

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"authsessions/backend/internal/server/middleware"
)

// LoggingUnary returns a unary server interceptor that puts a request logger and the client IP
// on the context and logs each RPC's code and duration. Methods in quiet are logged at debug.
func LoggingUnary(quiet map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		ip := ClientIP(ctx)
		logger := log.With().Str("method", info.FullMethod).Str("client_ip", ip).Logger()
		ctx = logger.WithContext(middleware.WithClientIP(ctx, ip))

		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := zerolog.InfoLevel
		switch {
		case quiet[info.FullMethod] && code == codes.OK:
			level = zerolog.DebugLevel
		case code == codes.Internal || code == codes.Unknown || code == codes.Unavailable:
			level = zerolog.ErrorLevel
		}
		logger.WithLevel(level).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or the peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s, _, _ := strings.Cut(vals[0], ","); strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
