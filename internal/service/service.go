// Package service implements the lookup, cache, and deny-list policy of the
// gateway: whether to serve a stored record, refresh it from the upstream
// provider, or refuse the request.
package service

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/TomasB/geocache/internal/data"
)

const (
	// DefaultFreshness is how long a stored record is served without refetching.
	DefaultFreshness = 24 * time.Hour
	// DefaultBulkWorkers bounds the concurrency of bulk operations.
	DefaultBulkWorkers = 8
)

// Service resolves IP addresses to geolocation records.
// It keeps no state between calls; all state lives in the stores.
type Service struct {
	records  data.RecordStore
	denies   data.DenyStore
	provider data.Provider

	freshness time.Duration
	workers   int
	now       func() time.Time
	metrics   *Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithFreshness sets the maximum age of a record before it is refetched.
func WithFreshness(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithBulkWorkers sets how many addresses a bulk operation processes at once.
func WithBulkWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics records lookup and deny-list metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a Service on top of the given stores and provider.
func New(records data.RecordStore, denies data.DenyStore, provider data.Provider, opts ...Option) *Service {
	s := &Service{
		records:   records,
		denies:    denies,
		provider:  provider,
		freshness: DefaultFreshness,
		workers:   DefaultBulkWorkers,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseIP validates an IPv4 or IPv6 literal and returns it in canonical form.
// Zoned addresses are rejected and IPv4-mapped IPv6 addresses are unmapped.
func ParseIP(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, invalidIP(raw)
	}
	return addr.Unmap(), nil
}

func (s *Service) findRecord(ctx context.Context, key string) (data.GeoRecord, bool, error) {
	rec, err := s.records.FindByIP(ctx, key)
	if errors.Is(err, data.ErrNotExist) {
		return data.GeoRecord{}, false, nil
	}
	if err != nil {
		return data.GeoRecord{}, false, storageFailure("reading record", err)
	}
	return rec, true, nil
}

func (s *Service) findDeny(ctx context.Context, key string) (data.DenyEntry, bool, error) {
	entry, err := s.denies.FindByIP(ctx, key)
	if errors.Is(err, data.ErrNotExist) {
		return data.DenyEntry{}, false, nil
	}
	if err != nil {
		return data.DenyEntry{}, false, storageFailure("reading deny-list", err)
	}
	return entry, true, nil
}
