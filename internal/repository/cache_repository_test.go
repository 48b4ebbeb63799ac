package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/memoire-api/pkg/errors"
)

func TestCacheRepositoryWithoutRedis(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var dest map[string]string
	require.ErrorIs(t, repo.Get(ctx, "archive:2023-2024", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(ctx, "archive:2023-2024", map[string]string{"id": "a1"}, time.Minute, "year:2023-2024"))
	require.NoError(t, repo.Delete(ctx, "archive:2023-2024"))

	evicted, err := repo.InvalidateTag(ctx, "year:2023-2024")
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestNamespacedKeys(t *testing.T) {
	assert.Equal(t, []string{"memoire:cache:a", "memoire:cache:b"}, namespaced([]string{"a", "b"}))
}
