package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

func TestMap(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"gorm not found", gorm.ErrRecordNotFound, codes.NotFound},
		{"wrapped not found", fmt.Errorf("load user: %w", ErrNotFound), codes.NotFound},
		{"permission", ErrPermissionDenied, codes.PermissionDenied},
		{"self", ErrSelfAction, codes.InvalidArgument},
		{"transient", fmt.Errorf("store: %w", ErrTransient), codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"unauthenticated", ErrUnauthenticated, codes.Unauthenticated},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, status.Code(Map(tc.err)))
		})
	}
}

func TestMap_PassesThroughStatus(t *testing.T) {
	in := InvalidArgument("bad id")
	assert.Equal(t, in, Map(in))
	assert.Nil(t, Map(nil))
}

func TestIsReadDegradable(t *testing.T) {
	assert.True(t, IsReadDegradable(fmt.Errorf("x: %w", ErrPermissionDenied)))
	assert.True(t, IsReadDegradable(gorm.ErrRecordNotFound))
	assert.False(t, IsReadDegradable(ErrTransient))
}
