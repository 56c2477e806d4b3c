// Package memory implements the record and deny-list stores in process memory.
// Use it for tests and single-instance deployments that can afford to lose
// the cache on restart.
package memory

import (
	"context"
	"sync"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/store/pending"
)

// Store keeps records and deny-list entries in maps guarded by one mutex.
// The pending queue locks before mu and is never touched with mu held.
type Store struct {
	mu      sync.Mutex
	records map[string]data.GeoRecord
	denies  map[string]data.DenyEntry
	pending *pending.Queue
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]data.GeoRecord),
		denies:  make(map[string]data.DenyEntry),
		pending: pending.New(),
	}
}

// Records returns the record store view.
func (s *Store) Records() data.RecordStore { return recordStore{s} }

// Denies returns the deny-list store view.
func (s *Store) Denies() data.DenyStore { return denyStore{s} }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

type recordStore struct{ *Store }

func (s recordStore) FindByIP(_ context.Context, ip string) (data.GeoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[ip]
	if !ok {
		return data.GeoRecord{}, data.ErrNotExist
	}
	return rec, nil
}

func (s recordStore) Upsert(_ context.Context, rec data.GeoRecord) (data.GeoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.IP] = rec
	return rec, nil
}

func (s recordStore) Delete(_ context.Context, rec data.GeoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.IP]; !ok {
		return data.ErrNotExist
	}
	delete(s.records, rec.IP)
	return nil
}

type denyStore struct{ *Store }

func (s denyStore) FindByIP(_ context.Context, ip string) (data.DenyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.denies[ip]
	if !ok {
		return data.DenyEntry{}, data.ErrNotExist
	}
	return entry, nil
}

func (s denyStore) Upsert(_ context.Context, entry data.DenyEntry) (data.DenyEntry, error) {
	s.pending.Forget(entry.IP)

	s.mu.Lock()
	s.denies[entry.IP] = entry
	s.mu.Unlock()
	return entry, nil
}

func (s denyStore) Delete(_ context.Context, entry data.DenyEntry, commitNow bool) error {
	s.mu.Lock()
	_, ok := s.denies[entry.IP]
	if ok && commitNow {
		delete(s.denies, entry.IP)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		return data.ErrNotExist
	case commitNow:
		s.pending.Forget(entry.IP)
	default:
		s.pending.Add(entry.IP)
	}
	return nil
}

func (s denyStore) Commit(_ context.Context, ips ...string) error {
	return s.pending.Commit(ips, func(keys []string) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, ip := range keys {
			delete(s.denies, ip)
		}
		return nil
	})
}
