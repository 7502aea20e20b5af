package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

func setupStore(t *testing.T) *SlotStore {
	t.Helper()
	s, err := NewSlotStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSlotStore_MissingSlot(t *testing.T) {
	s := setupStore(t)

	v, ok, err := s.Get(context.Background(), domain.IdentitySlot)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestSlotStore_PutOverwrites(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, domain.IdentitySlot, "a@x.com"))
	require.NoError(t, s.Put(ctx, domain.IdentitySlot, "b@x.com"))

	v, ok, err := s.Get(ctx, domain.IdentitySlot)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b@x.com", v)
}

func TestSlotStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	s, err := NewSlotStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, domain.IdentitySlot, "a@x.com"))
	require.NoError(t, s.Close())

	reopened, err := NewSlotStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, domain.IdentitySlot)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a@x.com", v)
	assert.NoError(t, reopened.CheckReadiness(ctx))
}
