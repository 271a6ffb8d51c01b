package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreInsertAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	conn, err := store.Insert(ctx, Connection{Subdomain: "a", UpstreamPort: "9000"})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)
	assert.False(t, conn.Active())

	got, err := store.GetBySubdomain(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, conn.ID, got.ID)

	got, err = store.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Subdomain)
}

func TestMemStoreInsertDuplicateSubdomain(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.Insert(ctx, Connection{Subdomain: "dup"})
	require.NoError(t, err)

	_, err = store.Insert(ctx, Connection{Subdomain: "dup"})
	assert.ErrorIs(t, err, ErrDuplicateSubdomain)
}

func TestMemStoreGetNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetBySubdomain(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreSaveAndClearProxyPort(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	conn, err := store.Insert(ctx, Connection{Subdomain: "a"})
	require.NoError(t, err)

	port := "4000"
	conn.ProxyPort = &port
	require.NoError(t, store.Save(ctx, conn))

	got, err := store.GetBySubdomain(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Active())
	assert.Equal(t, "4000", *got.ProxyPort)

	got.ProxyPort = nil
	require.NoError(t, store.Save(ctx, got))

	got, err = store.GetBySubdomain(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Active())
}

func TestMemStoreDeleteAndGetAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	a, err := store.Insert(ctx, Connection{Subdomain: "a"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, Connection{Subdomain: "b"})
	require.NoError(t, err)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, a.ID))

	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = store.Delete(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
