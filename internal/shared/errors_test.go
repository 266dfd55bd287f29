package shared_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userstore/internal/shared"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		context  string
		expected string
		isNil    bool
	}{
		{
			name:    "nil error",
			err:     nil,
			context: "some context",
			isNil:   true,
		},
		{
			name:     "simple error",
			err:      errors.New("original"),
			context:  "wrapper",
			expected: "wrapper: original",
		},
		{
			name:     "empty context",
			err:      errors.New("original"),
			context:  "",
			expected: "original",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shared.Wrap(tt.err, tt.context)
			if tt.isNil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.True(t, errors.Is(result, tt.err))
		})
	}
}

func TestWrapf(t *testing.T) {
	base := errors.New("disk full")

	assert.Nil(t, shared.Wrapf(nil, "op %d", 1))
	assert.Equal(t, base, shared.Wrapf(base, "%s", ""))

	err := shared.Wrapf(base, "write %s", "users")
	require.Error(t, err)
	assert.Equal(t, "write users: disk full", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want shared.Kind
	}{
		{"nil", nil, shared.KindUnknown},
		{"plain", errors.New("x"), shared.KindUnknown},
		{"invalid argument", shared.ErrInvalidArgument, shared.KindInvalidArgument},
		{"no match", shared.ErrNoMatch, shared.KindNoMatch},
		{"out of memory", shared.ErrOutOfMemory, shared.KindOutOfMemory},
		{"internal", shared.ErrInternal, shared.KindInternal},
		{"access denied", shared.ErrAccessDenied, shared.KindAccessDenied},
		{"already exists", shared.ErrAlreadyExists, shared.KindAlreadyExists},
		{"wrapped", fmt.Errorf("add user: %w", shared.ErrAlreadyExists), shared.KindAlreadyExists},
		{"canceled", fmt.Errorf("step: %w", context.Canceled), shared.KindCanceled},
		{"priority", errors.Join(shared.ErrInternal, shared.ErrAlreadyExists), shared.KindAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shared.KindOf(tt.err))
			assert.True(t, shared.HasKind(tt.err, tt.want))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "AlreadyExists", shared.KindAlreadyExists.String())
	assert.Equal(t, "InvalidArgument", shared.KindInvalidArgument.String())
	assert.Equal(t, "Internal", shared.KindInternal.String())
	assert.Equal(t, "Unknown", shared.Kind(99).String())
}

func TestMarkKind(t *testing.T) {
	engineErr := errors.New("UNIQUE constraint failed: users.user")

	marked := shared.MarkKind(engineErr, shared.KindAlreadyExists)
	assert.Equal(t, shared.KindAlreadyExists, shared.KindOf(marked))
	assert.ErrorIs(t, marked, engineErr)
	assert.Equal(t, "already exists: UNIQUE constraint failed: users.user", marked.Error())

	// idempotent
	assert.Same(t, marked, shared.MarkKind(marked, shared.KindAlreadyExists))

	assert.Equal(t, shared.ErrInternal, shared.MarkKind(nil, shared.KindInternal))
	assert.Nil(t, shared.MarkKind(nil, shared.KindUnknown))
	assert.Equal(t, engineErr, shared.MarkKind(engineErr, shared.KindCanceled))
}

func TestPredicates(t *testing.T) {
	err := shared.InvalidArgumentf("path is %s", "empty")
	assert.True(t, shared.IsInvalidArgument(err))
	assert.Equal(t, "invalid argument: path is empty", err.Error())

	assert.True(t, shared.IsAlreadyExists(shared.MarkKind(errors.New("x"), shared.KindAlreadyExists)))
	assert.True(t, shared.IsInternal(shared.MarkKind(errors.New("x"), shared.KindInternal)))
	assert.True(t, shared.IsNoMatch(shared.ErrNoMatch))
	assert.True(t, shared.IsOutOfMemory(shared.ErrOutOfMemory))
	assert.True(t, shared.IsAccessDenied(shared.ErrAccessDenied))
	assert.True(t, shared.IsCanceled(context.Canceled))
	assert.False(t, shared.IsCanceled(nil))
}
