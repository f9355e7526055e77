package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/cellular-simulator/internal/logging"
)

const requestIDMetadataKey = "x-request-id"

// requestLogUnaryServerInterceptor tags the context with a request id,
// taken from inbound metadata when present, and logs every unary call at
// debug level with its method and status code.
func requestLogUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRunID(ctx, incoming)
			}
		}
		ctx, id := logging.EnsureRunID(ctx)

		resp, err := handler(ctx, req)
		base.Debug(ctx, "rpc handled",
			logging.String("method", info.FullMethod),
			logging.String("request_id", id),
			logging.String("code", status.Code(err).String()),
		)
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
