package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/TomasB/geocache/internal/data"
)

// Resolve returns the geolocation record for ip.
//
// A denied IP fails with ErrDenied before any network access. A record
// younger than the freshness window is returned as stored. Otherwise the
// provider is asked and, on success, the record is created or overwritten
// with FetchedAt set to now.
func (s *Service) Resolve(ctx context.Context, ip string) (data.GeoRecord, error) {
	addr, err := ParseIP(ip)
	if err != nil {
		s.metrics.lookup(outcomeInvalid)
		return data.GeoRecord{}, err
	}
	key := addr.String()

	rec, found, err := s.findRecord(ctx, key)
	if err != nil {
		s.metrics.lookup(outcomeStorageError)
		return data.GeoRecord{}, err
	}

	if found {
		_, denied, err := s.findDeny(ctx, key)
		if err != nil {
			s.metrics.lookup(outcomeStorageError)
			return data.GeoRecord{}, err
		}
		if denied {
			s.metrics.lookup(outcomeDenied)
			return data.GeoRecord{}, newError(ErrDenied, nil, "This IP address is denied")
		}

		if age := s.now().Sub(rec.FetchedAt); age < s.freshness {
			slog.Debug("serving stored record", "ip", key, "age", age.String())
			s.metrics.lookup(outcomeFresh)
			return rec, nil
		}
	}

	start := time.Now()
	attrs, err := s.provider.Fetch(ctx, addr)
	s.metrics.observeFetch(time.Since(start))
	if err != nil {
		var lookupErr *data.LookupError
		if errors.As(err, &lookupErr) {
			slog.Info("provider refused lookup", "ip", key, "message", lookupErr.Message)
			s.metrics.lookup(outcomeProviderError)
			return data.GeoRecord{}, newError(ErrProviderError, lookupErr, "%s", lookupErr.Message)
		}
		slog.Warn("upstream lookup failed", "ip", key, "error", err)
		s.metrics.lookup(outcomeUpstreamUnavailable)
		return data.GeoRecord{}, newError(ErrUpstreamUnavailable, err, "Failed to fetch IP info: %v", err)
	}

	if !found {
		rec = data.GeoRecord{IP: key}
	}
	if attrs.Type == "" {
		attrs.Type = data.AddrType(addr)
	}
	rec.Apply(attrs, s.now().UTC())

	saved, err := s.records.Upsert(ctx, rec)
	if err != nil {
		s.metrics.lookup(outcomeStorageError)
		return data.GeoRecord{}, storageFailure("saving record", err)
	}

	if found {
		slog.Info("geo record refreshed", "ip", key, "country", saved.CountryCode)
		s.metrics.lookup(outcomeRefreshed)
	} else {
		slog.Info("geo record created", "ip", key, "country", saved.CountryCode)
		s.metrics.lookup(outcomeCreated)
	}
	return saved, nil
}

// Delete removes the record for ip together with its deny-list entry, if any.
func (s *Service) Delete(ctx context.Context, ip string) error {
	addr, err := ParseIP(ip)
	if err != nil {
		return err
	}
	key := addr.String()

	rec, found, err := s.findRecord(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return newError(ErrNotFound, nil, "IP address %s not found in the database.", ip)
	}

	// The deny entry goes first so a failure never leaves it without its record.
	entry, denied, err := s.findDeny(ctx, key)
	if err != nil {
		return err
	}
	if denied {
		switch err := s.denies.Delete(ctx, entry, true); {
		case err == nil:
			s.metrics.denyChange(opRemove)
		case !errors.Is(err, data.ErrNotExist):
			return storageFailure("removing deny-list entry", err)
		}
	}

	// A concurrent delete may win the race after the lookup above.
	if err := s.records.Delete(ctx, rec); errors.Is(err, data.ErrNotExist) {
		return newError(ErrNotFound, nil, "IP address %s not found in the database.", ip)
	} else if err != nil {
		return storageFailure("deleting record", err)
	}

	slog.Info("geo record deleted", "ip", key, "was_denied", denied)
	return nil
}
