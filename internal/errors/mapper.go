// Package errors holds the domain error taxonomy and its gRPC mapping.
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

var (
	// ErrNotFound marks an absent user, profile, session or quota record on a write path.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied marks the store refusing access.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidArgument marks malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSelfAction rejects a user acting on themselves.
	ErrSelfAction = errors.New("cannot act on yourself")
	// ErrTransient marks network/store unavailability worth retrying.
	ErrTransient = errors.New("temporarily unavailable")
	// ErrInvariantViolation marks asymmetric relationship state.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrUnauthenticated marks a call without a caller identity.
	ErrUnauthenticated = errors.New("missing caller identity")
)

// Map converts repo/infra/domain errors into gRPC-friendly status errors.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, "record not found")

	case errors.Is(err, ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())

	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrSelfAction):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())

	case errors.Is(err, ErrTransient):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// IsReadDegradable reports errors that read paths swallow into empty results.
func IsReadDegradable(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}

// InvalidArgument creates a gRPC InvalidArgument error.
func InvalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}
