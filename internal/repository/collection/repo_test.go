package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/memex/internal/db/sqldb"
)

func TestEnsure_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := New(sqldb.OpenTest(t))

	require.NoError(t, repo.Ensure(ctx, "notes"))
	require.NoError(t, repo.Ensure(ctx, "notes"))

	cols, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "notes", cols[0].Name())
	assert.False(t, cols[0].CreatedAt().IsZero())
}

func TestExists_CaseSensitive(t *testing.T) {
	ctx := context.Background()
	repo := New(sqldb.OpenTest(t))

	require.NoError(t, repo.Ensure(ctx, "Notes"))

	ok, err := repo.Exists(ctx, "Notes")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList_Ordered(t *testing.T) {
	ctx := context.Background()
	repo := New(sqldb.OpenTest(t))

	for _, name := range []string{"b", "c", "a"} {
		require.NoError(t, repo.Ensure(ctx, name))
	}

	cols, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "a", cols[0].Name())
	assert.Equal(t, "c", cols[2].Name())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := New(sqldb.OpenTest(t))

	require.NoError(t, repo.Ensure(ctx, "notes"))

	deleted, err := repo.Delete(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, deleted)
}
