// Package identity carries the authenticated caller id through a request.
//
// Authentication itself happens upstream (API gateway); this service
// trusts the x-user-id metadata it forwards.
package identity

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	apperrors "github.com/oggyb/cowatch/internal/errors"
)

// MetadataKey is the gRPC metadata header holding the caller id.
const MetadataKey = "x-user-id"

// TrustedKey carries the shared secret of internal callers such as the
// billing backend. Only they may grant purchases.
const TrustedKey = "x-internal-token"

type ctxKey struct{}

type trustedKey struct{}

// WithUserID returns a context carrying id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserID returns the caller id, or ErrUnauthenticated when absent.
func UserID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(ctxKey{}).(string)
	if id == "" {
		return "", apperrors.ErrUnauthenticated
	}
	return id, nil
}

// Trusted reports whether the call came from an internal caller.
func Trusted(ctx context.Context) bool {
	ok, _ := ctx.Value(trustedKey{}).(bool)
	return ok
}

// Outgoing attaches id to an outgoing client context.
func Outgoing(ctx context.Context, id string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKey, id)
}

// OutgoingTrusted attaches the internal token to an outgoing client context.
func OutgoingTrusted(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, TrustedKey, token)
}

func fromMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// resolve builds the handler context. An empty token trusts nobody.
func resolve(ctx context.Context, token string) (context.Context, error) {
	id := fromMetadata(ctx, MetadataKey)
	if id == "" {
		return nil, apperrors.Map(apperrors.ErrUnauthenticated)
	}
	ctx = WithUserID(ctx, id)
	if got := fromMetadata(ctx, TrustedKey); token != "" && got != "" &&
		subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
		ctx = context.WithValue(ctx, trustedKey{}, true)
	}
	return ctx, nil
}

// public methods answer without a caller id.
func public(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.") ||
		strings.HasPrefix(fullMethod, "/grpc.reflection.")
}

// UnaryServerInterceptor copies the caller id from metadata into the
// context and rejects calls that have none. Calls presenting token are
// marked trusted.
func UnaryServerInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if public(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
func StreamServerInterceptor(token string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if public(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := resolve(ss.Context(), token)
		if err != nil {
			return err
		}
		return handler(srv, &identifiedStream{ServerStream: ss, ctx: ctx})
	}
}

type identifiedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identifiedStream) Context() context.Context { return s.ctx }
