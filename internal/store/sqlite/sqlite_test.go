package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomasB/geocache/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "geocache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "geocache.db")

	s, err := Open(path)
	require.NoError(t, err)
	rec := storetest.FakeRecord()
	_, err = s.Records().Upsert(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Records().FindByIP(ctx, rec.IP)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.NoError(t, s.Ping(ctx))
}

func TestUpsertClause(t *testing.T) {
	got := upsertClause([]string{"ip", "a", "b"})
	assert.Equal(t, "ON CONFLICT (ip) DO UPDATE SET a = excluded.a, b = excluded.b", got)
}
