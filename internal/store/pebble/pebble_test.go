package pebble

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}

func TestStore_KeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := storetest.FakeRecord()

	_, err := s.Records().Upsert(ctx, rec)
	require.NoError(t, err)

	_, err = s.Denies().FindByIP(ctx, rec.IP)
	assert.ErrorIs(t, err, data.ErrNotExist)
}

func TestStore_PingAfterClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)

	assert.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
