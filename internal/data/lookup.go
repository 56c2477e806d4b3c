package data

import (
	"context"
	"errors"
	"net/netip"
)

// ErrNotExist is returned by stores when no row exists for the requested IP.
var ErrNotExist = errors.New("does not exist")

// Provider defines the interface for upstream geolocation lookups.
type Provider interface {
	// Fetch returns the geolocation attributes for the given address.
	// A provider that answered but refused the lookup returns a *LookupError;
	// any other error is treated as a transport failure.
	Fetch(ctx context.Context, ip netip.Addr) (Attributes, error)
}

// LookupError is a structured refusal reported by a provider,
// e.g. an address the provider does not know about.
type LookupError struct {
	Message string
}

func (e *LookupError) Error() string {
	return e.Message
}

// RecordStore persists GeoRecords keyed by their canonical IP string.
type RecordStore interface {
	// FindByIP returns ErrNotExist if no record is stored for ip.
	FindByIP(ctx context.Context, ip string) (GeoRecord, error)
	// Upsert creates the record or overwrites the existing one with the same IP.
	Upsert(ctx context.Context, rec GeoRecord) (GeoRecord, error)
	Delete(ctx context.Context, rec GeoRecord) error
}

// DenyStore persists DenyEntries keyed by IP.
type DenyStore interface {
	// FindByIP returns ErrNotExist if ip is not denied.
	FindByIP(ctx context.Context, ip string) (DenyEntry, error)
	Upsert(ctx context.Context, entry DenyEntry) (DenyEntry, error)
	// Delete removes the entry. With commitNow=false the removal is queued
	// until the next Commit and the entry stays visible to FindByIP.
	Delete(ctx context.Context, entry DenyEntry, commitNow bool) error
	// Commit applies the queued removals of ips, or every queued removal
	// when ips is empty. When it fails, the removals of ips are dropped
	// from the queue and their entries stay in place.
	Commit(ctx context.Context, ips ...string) error
}
