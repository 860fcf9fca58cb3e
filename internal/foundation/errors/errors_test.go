package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "config.yaml").
			Build()

		assert.Equal(t, CategoryConfig, err.Category())
		assert.Equal(t, SeverityFatal, err.Severity())
		assert.Equal(t, "invalid configuration", err.Message())

		file, exists := err.Context().GetString("file")
		require.True(t, exists)
		assert.Equal(t, "config.yaml", file)
	})

	t.Run("Configuration errors are fatal and not retryable", func(t *testing.T) {
		err := ConfigurationError("tracker.deleteRemovedBranchesAfter is required").Build()
		assert.True(t, IsClassified(err))
		assert.True(t, HasCategory(err, CategoryConfig))
		assert.True(t, err.IsFatal())
		assert.False(t, err.CanRetry())
	})

	t.Run("Transient IO errors are retryable", func(t *testing.T) {
		err := TransientIOError("fetch failed").Build()
		assert.True(t, err.CanRetry())
		assert.True(t, err.IsTransient())
		assert.False(t, err.IsFatal())
	})

	t.Run("Ancestry errors are warnings", func(t *testing.T) {
		err := AncestryCheckError("object missing").Build()
		assert.Equal(t, SeverityWarning, err.Severity())
		assert.False(t, IsFatal(err))
	})
}

func TestErrorBuilder(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(cause, CategoryGit, "fetch failed").
		WithCategory(CategoryTransientIO).
		Warning().
		Retryable().
		WithContext("repository", "acme/widgets").
		Build()

	assert.Equal(t, CategoryTransientIO, err.Category())
	assert.Equal(t, SeverityWarning, err.Severity())
	assert.Equal(t, RetryBackoff, err.RetryStrategy())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")

	with := err.WithContext("attempt", 2)
	_, had := err.Context().Get("attempt")
	assert.False(t, had, "WithContext must not mutate the original")
	v, ok := with.Context().Get("attempt")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestAsClassifiedWalksChain(t *testing.T) {
	inner := StoreConflictError("run lock held").Build()
	wrapped := fmt.Errorf("acquire: %w", inner)

	got, ok := AsClassified(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.Equal(t, CategoryStoreConflict, GetCategory(wrapped))
	assert.True(t, IsFatal(wrapped))
	assert.Equal(t, CategoryInternal, GetCategory(errors.New("plain")))
}

func TestSentinelMatching(t *testing.T) {
	sentinel := StoreError("entity not found").Build()
	built := StoreError("entity not found").WithContext("key", "acme").Build()
	assert.ErrorIs(t, built, sentinel)
	assert.NotErrorIs(t, StoreError("other").Build(), sentinel)
}
