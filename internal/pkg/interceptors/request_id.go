package interceptors

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/jcmexdev/ecommerce-orders/internal/pkg/interceptors/constants"
)

// UnaryServerInterceptor copies x-request-id and x-idempotency-key from the
// incoming metadata into the context. A missing request id is generated and
// echoed back in the response header.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		requestID := metadataValue(ctx, constants.HeaderXRequestId)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		idempotencyKey := metadataValue(ctx, constants.HeaderXIdempotencyKey)

		newCtx := context.WithValue(ctx, constants.ContextKeyRequestID, requestID)
		newCtx = context.WithValue(newCtx, constants.ContextKeyIdempotencyKey, idempotencyKey)

		if err := grpc.SetHeader(ctx, metadata.Pairs(constants.HeaderXRequestId, requestID)); err != nil {
			slog.DebugContext(ctx, "could not set request id header", "method", info.FullMethod, "error", err)
		}
		return handler(newCtx, req)
	}
}

// RequestIDFromContext returns the request id stored by the HTTP middleware
// or the gRPC interceptor, or "" when there is none.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
		return id
	}
	return metadataValue(ctx, constants.HeaderXRequestId)
}

func metadataValue(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}
