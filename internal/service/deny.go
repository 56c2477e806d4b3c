package service

import (
	"context"
	"log/slog"

	"github.com/TomasB/geocache/internal/data"
)

// AddDeny puts ip on the deny-list. The IP must have a stored record.
func (s *Service) AddDeny(ctx context.Context, ip string) (data.DenyEntry, error) {
	addr, err := ParseIP(ip)
	if err != nil {
		return data.DenyEntry{}, err
	}
	key := addr.String()

	_, found, err := s.findRecord(ctx, key)
	if err != nil {
		return data.DenyEntry{}, err
	}
	if !found {
		return data.DenyEntry{}, newError(ErrNotFound, nil, "IP not found in database")
	}

	_, denied, err := s.findDeny(ctx, key)
	if err != nil {
		return data.DenyEntry{}, err
	}
	if denied {
		return data.DenyEntry{}, newError(ErrConflict, nil, "IP %s is already in deny-list", ip)
	}

	entry, err := s.denies.Upsert(ctx, data.DenyEntry{IP: key, DeniedAt: s.now().UTC()})
	if err != nil {
		return data.DenyEntry{}, storageFailure("adding deny-list entry", err)
	}

	slog.Info("ip added to deny-list", "ip", key)
	s.metrics.denyChange(opAdd)
	return entry, nil
}

// RemoveDeny takes ip off the deny-list. With commitNow=false the removal is
// queued in the deny store until CommitDeny is called.
func (s *Service) RemoveDeny(ctx context.Context, ip string, commitNow bool) error {
	addr, err := ParseIP(ip)
	if err != nil {
		return err
	}
	key := addr.String()

	_, found, err := s.findRecord(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return newError(ErrNotFound, nil, "IP not found in database")
	}

	entry, denied, err := s.findDeny(ctx, key)
	if err != nil {
		return err
	}
	if !denied {
		return newError(ErrNotDenied, nil, "IP not in deny-list")
	}

	if err := s.denies.Delete(ctx, entry, commitNow); err != nil {
		return storageFailure("removing deny-list entry", err)
	}

	slog.Info("ip removed from deny-list", "ip", key, "committed", commitNow)
	s.metrics.denyChange(opRemove)
	return nil
}

// CommitDeny applies removals queued by RemoveDeny(ctx, ip, false). With ips
// given, only the removals of those canonical keys are applied; a failure
// then drops them from the queue so no later commit applies them.
func (s *Service) CommitDeny(ctx context.Context, ips ...string) error {
	if err := s.denies.Commit(ctx, ips...); err != nil {
		return storageFailure("committing deny-list", err)
	}
	return nil
}

// IsDenied reports whether ip is on the deny-list. An IP without a stored
// record is never denied.
func (s *Service) IsDenied(ctx context.Context, ip string) (bool, error) {
	addr, err := ParseIP(ip)
	if err != nil {
		return false, err
	}
	key := addr.String()

	_, found, err := s.findRecord(ctx, key)
	if err != nil || !found {
		return false, err
	}

	_, denied, err := s.findDeny(ctx, key)
	return denied, err
}
