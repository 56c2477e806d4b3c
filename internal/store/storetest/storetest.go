// Package storetest holds the behaviour every store backend must satisfy.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomasB/geocache/internal/data"
)

// Store is the part of a backend exercised by Run.
type Store interface {
	Records() data.RecordStore
	Denies() data.DenyStore
}

// Run executes the shared suite. newStore must return an empty store for
// every call; the caller is responsible for cleaning it up.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	if newStore == nil {
		t.Fatal("store constructor is nil")
	}

	ctx := context.Background()

	t.Run("record missing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Records().FindByIP(ctx, gofakeit.IPv4Address())
		assert.ErrorIs(t, err, data.ErrNotExist)
	})

	t.Run("record upsert and find", func(t *testing.T) {
		s := newStore(t)
		rec := FakeRecord()

		saved, err := s.Records().Upsert(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, rec, saved)

		got, err := s.Records().FindByIP(ctx, rec.IP)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("record upsert overwrites every field", func(t *testing.T) {
		s := newStore(t)
		rec := FakeRecord()

		_, err := s.Records().Upsert(ctx, rec)
		require.NoError(t, err)

		rec.Apply(data.Attributes{Type: data.TypeIPv4, CountryCode: "SE"}, rec.FetchedAt.Add(time.Hour))
		_, err = s.Records().Upsert(ctx, rec)
		require.NoError(t, err)

		got, err := s.Records().FindByIP(ctx, rec.IP)
		require.NoError(t, err)
		assert.Equal(t, "SE", got.CountryCode)
		assert.Empty(t, got.City)
		assert.Nil(t, got.Latitude)
		assert.Nil(t, got.Longitude)
		assert.Equal(t, rec.FetchedAt, got.FetchedAt)
	})

	t.Run("record delete", func(t *testing.T) {
		s := newStore(t)
		rec := FakeRecord()

		_, err := s.Records().Upsert(ctx, rec)
		require.NoError(t, err)

		require.NoError(t, s.Records().Delete(ctx, rec))

		_, err = s.Records().FindByIP(ctx, rec.IP)
		assert.ErrorIs(t, err, data.ErrNotExist)

		err = s.Records().Delete(ctx, rec)
		assert.ErrorIs(t, err, data.ErrNotExist)
	})

	t.Run("ipv6 key", func(t *testing.T) {
		s := newStore(t)
		rec := FakeRecord()
		rec.IP = "2001:db8::1"
		rec.Type = data.TypeIPv6

		_, err := s.Records().Upsert(ctx, rec)
		require.NoError(t, err)

		got, err := s.Records().FindByIP(ctx, "2001:db8::1")
		require.NoError(t, err)
		assert.Equal(t, data.TypeIPv6, got.Type)
	})

	t.Run("concurrent upserts", func(t *testing.T) {
		s := newStore(t)

		recs := make([]data.GeoRecord, 16)
		for i := range recs {
			recs[i] = FakeRecord()
		}

		var wg sync.WaitGroup
		for _, rec := range recs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Records().Upsert(ctx, rec)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		for _, rec := range recs {
			_, err := s.Records().FindByIP(ctx, rec.IP)
			assert.NoError(t, err, rec.IP)
		}
	})

	t.Run("deny missing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Denies().FindByIP(ctx, gofakeit.IPv4Address())
		assert.ErrorIs(t, err, data.ErrNotExist)
	})

	t.Run("deny upsert and delete now", func(t *testing.T) {
		s := newStore(t)
		entry := FakeDeny()

		_, err := s.Denies().Upsert(ctx, entry)
		require.NoError(t, err)

		got, err := s.Denies().FindByIP(ctx, entry.IP)
		require.NoError(t, err)
		assert.Equal(t, entry, got)

		require.NoError(t, s.Denies().Delete(ctx, entry, true))

		_, err = s.Denies().FindByIP(ctx, entry.IP)
		assert.ErrorIs(t, err, data.ErrNotExist)
	})

	t.Run("deferred deny delete is visible until commit", func(t *testing.T) {
		s := newStore(t)
		first, second := FakeDeny(), FakeDeny()

		for _, e := range []data.DenyEntry{first, second} {
			_, err := s.Denies().Upsert(ctx, e)
			require.NoError(t, err)
			require.NoError(t, s.Denies().Delete(ctx, e, false))
		}

		_, err := s.Denies().FindByIP(ctx, first.IP)
		assert.NoError(t, err)

		require.NoError(t, s.Denies().Commit(ctx))

		for _, e := range []data.DenyEntry{first, second} {
			_, err := s.Denies().FindByIP(ctx, e.IP)
			assert.ErrorIs(t, err, data.ErrNotExist)
		}
	})

	t.Run("commit applies only the named removals", func(t *testing.T) {
		s := newStore(t)
		first, second := FakeDeny(), FakeDeny()

		for _, e := range []data.DenyEntry{first, second} {
			_, err := s.Denies().Upsert(ctx, e)
			require.NoError(t, err)
			require.NoError(t, s.Denies().Delete(ctx, e, false))
		}

		require.NoError(t, s.Denies().Commit(ctx, first.IP))

		_, err := s.Denies().FindByIP(ctx, first.IP)
		assert.ErrorIs(t, err, data.ErrNotExist)
		_, err = s.Denies().FindByIP(ctx, second.IP)
		assert.NoError(t, err)

		require.NoError(t, s.Denies().Commit(ctx))

		_, err = s.Denies().FindByIP(ctx, second.IP)
		assert.ErrorIs(t, err, data.ErrNotExist)
	})

	t.Run("deny upsert cancels a queued removal", func(t *testing.T) {
		s := newStore(t)
		entry := FakeDeny()

		_, err := s.Denies().Upsert(ctx, entry)
		require.NoError(t, err)
		require.NoError(t, s.Denies().Delete(ctx, entry, false))
		_, err = s.Denies().Upsert(ctx, entry)
		require.NoError(t, err)

		require.NoError(t, s.Denies().Commit(ctx, entry.IP))

		_, err = s.Denies().FindByIP(ctx, entry.IP)
		assert.NoError(t, err)
	})

	t.Run("commit without pending removals", func(t *testing.T) {
		s := newStore(t)

		assert.NoError(t, s.Denies().Commit(ctx))
	})
}

// FakeRecord returns a random record with a second-precision UTC FetchedAt,
// which every backend round-trips exactly.
func FakeRecord() data.GeoRecord {
	return data.GeoRecord{
		IP: gofakeit.IPv4Address(),
		Attributes: data.Attributes{
			Type:          data.TypeIPv4,
			ContinentCode: "EU",
			ContinentName: "Europe",
			CountryCode:   gofakeit.CountryAbr(),
			CountryName:   gofakeit.Country(),
			RegionCode:    gofakeit.StateAbr(),
			RegionName:    gofakeit.State(),
			City:          gofakeit.City(),
			PostalCode:    gofakeit.Zip(),
			Latitude:      data.Float(gofakeit.Latitude()),
			Longitude:     data.Float(gofakeit.Longitude()),
		},
		FetchedAt: gofakeit.PastDate().UTC().Truncate(time.Second),
	}
}

// FakeDeny returns a random deny-list entry.
func FakeDeny() data.DenyEntry {
	return data.DenyEntry{
		IP:       gofakeit.IPv4Address(),
		DeniedAt: gofakeit.PastDate().UTC().Truncate(time.Second),
	}
}
