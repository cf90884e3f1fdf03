package store_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestNewPersistenceError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := store.NewPersistenceError("claim", cause)

	var pe *store.PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "claim", pe.Op)
	assert.ErrorIs(t, err, cause)
	assert.True(t, store.IsPersistenceError(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "claim")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewPersistenceError_PassesSentinelsThrough(t *testing.T) {
	t.Parallel()

	for _, sentinel := range []error{store.ErrJobNotFound, store.ErrDuplicate, store.ErrClaimLost} {
		err := store.NewPersistenceError("op", sentinel)
		assert.Same(t, sentinel, err)
		assert.False(t, store.IsPersistenceError(err))
	}

	assert.NoError(t, store.NewPersistenceError("op", nil))

	inner := store.NewPersistenceError("inner", errors.New("x"))
	assert.Same(t, inner, store.NewPersistenceError("outer", inner))
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.True(t, store.IsNotFoundError(store.ErrJobNotFound))
	assert.True(t, store.IsNotFoundError(store.ErrArtifactNotFound))
	assert.True(t, store.IsNotFoundError(fmt.Errorf("get: %w", store.ErrNotFound)))
	assert.False(t, store.IsNotFoundError(store.ErrClaimLost))
}
