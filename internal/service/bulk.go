package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/TomasB/geocache/internal/data"
)

// LookupResult is the outcome of resolving one address of a bulk lookup.
// IP is the address exactly as it was submitted.
type LookupResult struct {
	IP     string
	Record data.GeoRecord
	Err    error
}

// DeleteReport is the outcome of a bulk delete.
type DeleteReport struct {
	Deleted []string
	Errors  []string
}

// DenyAddReport is the outcome of a bulk deny-list add. Every input IP
// appears in exactly one list.
type DenyAddReport struct {
	Added   []string
	Skipped DenyAddSkipped
}

type DenyAddSkipped struct {
	InvalidFormat []string
	NotFound      []string
	AlreadyDenied []string
	Failed        []string
}

// DenyRemoveReport is the outcome of a bulk deny-list removal. Every input IP
// appears in exactly one list.
type DenyRemoveReport struct {
	Removed []string
	Skipped DenyRemoveSkipped
}

type DenyRemoveSkipped struct {
	InvalidFormat []string
	NotFound      []string
	NotInDenyList []string
	Failed        []string
}

func errEmptyBatch() error {
	return newError(ErrInvalidInput, nil, `Field "ips" must be a non-empty array`)
}

// BulkResolve resolves every address independently. The results are in input order.
func (s *Service) BulkResolve(ctx context.Context, ips []string) ([]LookupResult, error) {
	if len(ips) == 0 {
		return nil, errEmptyBatch()
	}

	results := make([]LookupResult, len(ips))
	keys := s.keys(ips, func(i int, err error) {
		s.metrics.lookup(outcomeInvalid)
		results[i] = LookupResult{IP: ips[i], Err: err}
	})

	s.forEachKey(keys, func(i int) {
		rec, err := s.Resolve(ctx, ips[i])
		results[i] = LookupResult{IP: ips[i], Record: rec, Err: err}
	})
	return results, nil
}

// BulkDelete deletes every address independently.
func (s *Service) BulkDelete(ctx context.Context, ips []string) (DeleteReport, error) {
	if len(ips) == 0 {
		return DeleteReport{}, errEmptyBatch()
	}

	outcomes := make([]error, len(ips))
	keys := s.keys(ips, func(i int, err error) {
		outcomes[i] = err
	})
	s.forEachKey(keys, func(i int) {
		outcomes[i] = s.Delete(ctx, ips[i])
	})

	report := DeleteReport{Deleted: []string{}, Errors: []string{}}
	for i, err := range outcomes {
		switch {
		case err == nil:
			report.Deleted = append(report.Deleted, ips[i])
		case errors.Is(err, ErrInvalidInput):
			report.Errors = append(report.Errors, fmt.Sprintf("Invalid IP address format: %s", ips[i]))
		case errors.Is(err, ErrNotFound):
			report.Errors = append(report.Errors, fmt.Sprintf("IP not found in database: %s", ips[i]))
		default:
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to delete %s: %v", ips[i], err))
		}
	}

	slog.Info("bulk delete finished", "requested", len(ips), "deleted", len(report.Deleted))
	return report, nil
}

// BulkAddDeny adds every address to the deny-list independently.
func (s *Service) BulkAddDeny(ctx context.Context, ips []string) (DenyAddReport, error) {
	if len(ips) == 0 {
		return DenyAddReport{}, errEmptyBatch()
	}

	outcomes := make([]error, len(ips))
	keys := s.keys(ips, func(i int, err error) {
		outcomes[i] = err
	})
	s.forEachKey(keys, func(i int) {
		_, outcomes[i] = s.AddDeny(ctx, ips[i])
	})

	report := DenyAddReport{
		Added: []string{},
		Skipped: DenyAddSkipped{
			InvalidFormat: []string{},
			NotFound:      []string{},
			AlreadyDenied: []string{},
			Failed:        []string{},
		},
	}
	for i, err := range outcomes {
		switch {
		case err == nil:
			report.Added = append(report.Added, ips[i])
		case errors.Is(err, ErrInvalidInput):
			report.Skipped.InvalidFormat = append(report.Skipped.InvalidFormat, ips[i])
		case errors.Is(err, ErrNotFound):
			report.Skipped.NotFound = append(report.Skipped.NotFound, ips[i])
		case errors.Is(err, ErrConflict):
			report.Skipped.AlreadyDenied = append(report.Skipped.AlreadyDenied, ips[i])
		default:
			slog.Warn("bulk deny-list add failed", "ip", ips[i], "error", err)
			report.Skipped.Failed = append(report.Skipped.Failed, ips[i])
		}
	}
	return report, nil
}

// BulkRemoveDeny removes every address from the deny-list. Eligibility is
// decided per address; the removals of this batch are committed once at the
// end, and a failed commit leaves all of them denied.
func (s *Service) BulkRemoveDeny(ctx context.Context, ips []string) (DenyRemoveReport, error) {
	if len(ips) == 0 {
		return DenyRemoveReport{}, errEmptyBatch()
	}

	outcomes := make([]error, len(ips))
	keys := s.keys(ips, func(i int, err error) {
		outcomes[i] = err
	})
	s.forEachKey(keys, func(i int) {
		outcomes[i] = s.RemoveDeny(ctx, ips[i], false)
	})

	report := DenyRemoveReport{
		Removed: []string{},
		Skipped: DenyRemoveSkipped{
			InvalidFormat: []string{},
			NotFound:      []string{},
			NotInDenyList: []string{},
			Failed:        []string{},
		},
	}
	var queued []string
	for i, err := range outcomes {
		switch {
		case err == nil:
			report.Removed = append(report.Removed, ips[i])
			queued = append(queued, keys[i])
		case errors.Is(err, ErrInvalidInput):
			report.Skipped.InvalidFormat = append(report.Skipped.InvalidFormat, ips[i])
		case errors.Is(err, ErrNotDenied):
			report.Skipped.NotInDenyList = append(report.Skipped.NotInDenyList, ips[i])
		case errors.Is(err, ErrNotFound):
			report.Skipped.NotFound = append(report.Skipped.NotFound, ips[i])
		default:
			slog.Warn("bulk deny-list removal failed", "ip", ips[i], "error", err)
			report.Skipped.Failed = append(report.Skipped.Failed, ips[i])
		}
	}

	if len(report.Removed) == 0 {
		return report, nil
	}
	if err := s.CommitDeny(ctx, queued...); err != nil {
		slog.Error("bulk deny-list commit failed", "count", len(report.Removed), "error", err)
		report.Skipped.Failed = append(report.Skipped.Failed, report.Removed...)
		report.Removed = []string{}
	}
	return report, nil
}

// keys returns the canonical key of every input. Invalid inputs get an
// empty key and are reported through invalid.
func (s *Service) keys(ips []string, invalid func(i int, err error)) []string {
	keys := make([]string, len(ips))
	for i, raw := range ips {
		addr, err := ParseIP(raw)
		if err != nil {
			invalid(i, err)
			continue
		}
		keys[i] = addr.String()
	}
	return keys
}

// forEachKey calls fn for every index with a non-empty key. Indices sharing
// a key run sequentially in input order; distinct keys run concurrently on
// at most s.workers goroutines.
func (s *Service) forEachKey(keys []string, fn func(i int)) {
	groups := make(map[string][]int, len(keys))
	order := make([]string, 0, len(keys))
	for i, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, k := range order {
		indices := groups[k]
		g.Go(func() error {
			for _, i := range indices {
				fn(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}
