// Package pebble implements the record and deny-list stores on an embedded
// Pebble key-value database.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	jsoniter "github.com/json-iterator/go"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/store/pending"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	recordPrefix = "r|"
	denyPrefix   = "d|"
)

// Store keeps records under "r|<ip>" and deny-list entries under "d|<ip>",
// each encoded as JSON.
type Store struct {
	db *pebble.DB

	// mu serialises read-modify-write sequences; pebble itself is safe for
	// concurrent use.
	mu      sync.Mutex
	pending *pending.Queue
}

// Open opens (or creates) the database directory at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("pebble path is empty")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &Store{db: db, pending: pending.New()}, nil
}

// Records returns the record store view.
func (s *Store) Records() data.RecordStore { return recordStore{s} }

// Denies returns the deny-list store view.
func (s *Store) Denies() data.DenyStore { return denyStore{s} }

// Ping reports whether the database is open.
func (s *Store) Ping(context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("pebble: closed")
	}
	return nil
}

// Close releases Pebble resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) get(key string, v any) error {
	raw, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return data.ErrNotExist
	}
	if err != nil {
		return fmt.Errorf("pebble get %q: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("pebble decode %q: %w", key, err)
	}
	return nil
}

func (s *Store) put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pebble encode %q: %w", key, err)
	}
	if err := s.db.Set([]byte(key), raw, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %q: %w", key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	_, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return data.ErrNotExist
	}
	if err != nil {
		return fmt.Errorf("pebble get %q: %w", key, err)
	}
	closer.Close()

	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %q: %w", key, err)
	}
	return nil
}

type storedRecord struct {
	IP            string   `json:"ip"`
	Type          string   `json:"type"`
	ContinentCode string   `json:"continent_code"`
	ContinentName string   `json:"continent_name"`
	CountryCode   string   `json:"country_code"`
	CountryName   string   `json:"country_name"`
	RegionCode    string   `json:"region_code"`
	RegionName    string   `json:"region_name"`
	City          string   `json:"city"`
	Zip           string   `json:"zip"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	FetchedAt     int64    `json:"fetched_at"`
}

type recordStore struct{ *Store }

func (s recordStore) FindByIP(_ context.Context, ip string) (data.GeoRecord, error) {
	var v storedRecord
	if err := s.get(recordPrefix+ip, &v); err != nil {
		return data.GeoRecord{}, err
	}
	return data.GeoRecord{
		IP: v.IP,
		Attributes: data.Attributes{
			Type:          v.Type,
			ContinentCode: v.ContinentCode,
			ContinentName: v.ContinentName,
			CountryCode:   v.CountryCode,
			CountryName:   v.CountryName,
			RegionCode:    v.RegionCode,
			RegionName:    v.RegionName,
			City:          v.City,
			PostalCode:    v.Zip,
			Latitude:      v.Latitude,
			Longitude:     v.Longitude,
		},
		FetchedAt: unixNano(v.FetchedAt),
	}, nil
}

func (s recordStore) Upsert(_ context.Context, rec data.GeoRecord) (data.GeoRecord, error) {
	err := s.put(recordPrefix+rec.IP, storedRecord{
		IP:            rec.IP,
		Type:          rec.Type,
		ContinentCode: rec.ContinentCode,
		ContinentName: rec.ContinentName,
		CountryCode:   rec.CountryCode,
		CountryName:   rec.CountryName,
		RegionCode:    rec.RegionCode,
		RegionName:    rec.RegionName,
		City:          rec.City,
		Zip:           rec.PostalCode,
		Latitude:      rec.Latitude,
		Longitude:     rec.Longitude,
		FetchedAt:     rec.FetchedAt.UnixNano(),
	})
	if err != nil {
		return data.GeoRecord{}, err
	}
	return rec, nil
}

func (s recordStore) Delete(_ context.Context, rec data.GeoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(recordPrefix + rec.IP)
}

type storedDeny struct {
	IP       string `json:"ip"`
	DeniedAt int64  `json:"denied_at"`
}

type denyStore struct{ *Store }

func (s denyStore) FindByIP(_ context.Context, ip string) (data.DenyEntry, error) {
	var v storedDeny
	if err := s.get(denyPrefix+ip, &v); err != nil {
		return data.DenyEntry{}, err
	}
	return data.DenyEntry{IP: v.IP, DeniedAt: unixNano(v.DeniedAt)}, nil
}

func (s denyStore) Upsert(_ context.Context, entry data.DenyEntry) (data.DenyEntry, error) {
	s.pending.Forget(entry.IP)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(denyPrefix+entry.IP, storedDeny{IP: entry.IP, DeniedAt: entry.DeniedAt.UnixNano()}); err != nil {
		return data.DenyEntry{}, err
	}
	return entry, nil
}

func (s denyStore) Delete(_ context.Context, entry data.DenyEntry, commitNow bool) error {
	if !commitNow {
		var v storedDeny
		if err := s.get(denyPrefix+entry.IP, &v); err != nil {
			return err
		}
		s.pending.Add(entry.IP)
		return nil
	}

	s.mu.Lock()
	err := s.remove(denyPrefix + entry.IP)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.pending.Forget(entry.IP)
	return nil
}

// Commit deletes the queued entries in one atomic batch.
func (s denyStore) Commit(_ context.Context, ips ...string) error {
	return s.pending.Commit(ips, func(keys []string) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		batch := s.db.NewBatch()
		defer batch.Close()
		for _, ip := range keys {
			if err := batch.Delete([]byte(denyPrefix+ip), nil); err != nil {
				return fmt.Errorf("pebble batch delete: %w", err)
			}
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			return fmt.Errorf("pebble batch commit: %w", err)
		}
		return nil
	})
}

func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
