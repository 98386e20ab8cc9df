package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Remove(ctx, "missing"), ErrNotFound)

			require.NoError(t, s.Set(ctx, "plan_2026-03-10", []byte(`{"a":1}`)))
			require.NoError(t, s.Set(ctx, "plan_2026-03-10", []byte(`{"a":2}`)))
			got, err := s.Get(ctx, "plan_2026-03-10")
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(got))

			require.NoError(t, s.Set(ctx, "plan_2026-03-09", []byte(`{}`)))
			require.NoError(t, s.Set(ctx, "user_profile", []byte(`{}`)))
			keys, err := s.Keys(ctx, "plan_")
			require.NoError(t, err)
			assert.Equal(t, []string{"plan_2026-03-09", "plan_2026-03-10"}, keys)

			require.NoError(t, s.Remove(ctx, "plan_2026-03-09"))
			_, err = s.Get(ctx, "plan_2026-03-09")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreConditionalWrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, "lock", []byte("one")))
			assert.ErrorIs(t, s.Create(ctx, "lock", []byte("two")), ErrExists)

			assert.ErrorIs(t, s.CompareAndSwap(ctx, "lock", []byte("stale"), []byte("two")), ErrConflict)
			require.NoError(t, s.CompareAndSwap(ctx, "lock", []byte("one"), []byte("two")))

			got, err := s.Get(ctx, "lock")
			require.NoError(t, err)
			assert.Equal(t, "two", string(got))

			assert.ErrorIs(t, s.CompareAndSwap(ctx, "nope", []byte("a"), []byte("b")), ErrNotFound)
		})
	}
}

func TestSQLiteKeysEscapesWildcards(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "plan_x", []byte("1")))
	require.NoError(t, s.Set(ctx, "planAx", []byte("1")))

	keys, err := s.Keys(ctx, "plan_")
	require.NoError(t, err)
	assert.Equal(t, []string{"plan_x"}, keys)
}

func TestRemoveIfExists(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, RemoveIfExists(context.Background(), s, "missing"))
}
