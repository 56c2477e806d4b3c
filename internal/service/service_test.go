package service

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/store/memory"
)

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// stubProvider counts calls and answers from a fixed table.
type stubProvider struct {
	mu    sync.Mutex
	calls map[string]int
	attrs data.Attributes
	err   error
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		calls: make(map[string]int),
		attrs: data.Attributes{
			ContinentCode: "NA",
			ContinentName: "North America",
			CountryCode:   "US",
			CountryName:   "United States",
			RegionCode:    "CA",
			RegionName:    "California",
			City:          "Los Angeles",
			PostalCode:    "90013",
			Latitude:      data.Float(34.0453),
			Longitude:     data.Float(-118.2413),
		},
	}
}

func (p *stubProvider) Fetch(_ context.Context, ip netip.Addr) (data.Attributes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls[ip.String()]++
	if p.err != nil {
		return data.Attributes{}, p.err
	}
	return p.attrs, nil
}

func (p *stubProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	provider *stubProvider
	registry *prometheus.Registry
	metrics  *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	f := &fixture{
		store:    memory.New(),
		provider: newStubProvider(),
		registry: reg,
		metrics:  NewMetrics(reg),
	}
	f.svc = New(f.store.Records(), f.store.Denies(), f.provider,
		WithClock(func() time.Time { return now }),
		WithMetrics(f.metrics),
		WithBulkWorkers(4),
	)
	return f
}

func (f *fixture) seed(t *testing.T, ip string, fetchedAt time.Time) data.GeoRecord {
	t.Helper()

	rec := data.GeoRecord{
		IP:         ip,
		Attributes: data.Attributes{Type: data.TypeIPv4, CountryCode: "SE", City: "Stockholm"},
		FetchedAt:  fetchedAt,
	}
	_, err := f.store.Records().Upsert(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func (f *fixture) deny(t *testing.T, ip string) {
	t.Helper()

	_, err := f.store.Denies().Upsert(context.Background(), data.DenyEntry{IP: ip, DeniedAt: now})
	require.NoError(t, err)
}

func TestParseIP(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"134.201.250.155", "134.201.250.155", false},
		{"2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1", false},
		{"::ffff:10.0.0.1", "10.0.0.1", false},
		{"fe80::1%eth0", "", true},
		{"not-an-ip", "", true},
		{"", "", true},
		{"256.1.1.1", "", true},
		{" 1.2.3.4", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIP(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				assert.Equal(t, "Invalid IP address format: "+tt.in, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestResolve_FreshRecordSkipsProvider(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, "134.201.250.155", now.Add(-time.Hour))

	got, err := f.svc.Resolve(context.Background(), "134.201.250.155")
	require.NoError(t, err)

	assert.Equal(t, seeded, got)
	assert.Zero(t, f.provider.total())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(outcomeFresh)))
}

func TestResolve_StaleRecordIsRefreshed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "134.201.250.155", now.Add(-25*time.Hour))

	got, err := f.svc.Resolve(context.Background(), "134.201.250.155")
	require.NoError(t, err)

	assert.Equal(t, 1, f.provider.total())
	assert.Equal(t, now, got.FetchedAt)
	assert.Equal(t, "US", got.CountryCode)
	assert.Equal(t, "Los Angeles", got.City)
	assert.Equal(t, data.TypeIPv4, got.Type)

	stored, err := f.store.Records().FindByIP(context.Background(), "134.201.250.155")
	require.NoError(t, err)
	assert.Equal(t, got, stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(outcomeRefreshed)))
}

func TestResolve_RecordAtExactFreshnessBoundaryIsStale(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "134.201.250.155", now.Add(-DefaultFreshness))

	_, err := f.svc.Resolve(context.Background(), "134.201.250.155")
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.total())
}

func TestResolve_RefreshOverwritesEveryField(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "134.201.250.155", now.Add(-48*time.Hour))
	f.provider.attrs = data.Attributes{CountryCode: "US"}

	got, err := f.svc.Resolve(context.Background(), "134.201.250.155")
	require.NoError(t, err)

	assert.Equal(t, "US", got.CountryCode)
	assert.Empty(t, got.City)
	assert.Nil(t, got.Latitude)
}

func TestResolve_MissingRecordIsCreated(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Resolve(context.Background(), "2001:db8::1")
	require.NoError(t, err)

	assert.Equal(t, "2001:db8::1", got.IP)
	assert.Equal(t, data.TypeIPv6, got.Type)
	assert.Equal(t, now, got.FetchedAt)
	assert.Equal(t, 1, f.provider.total())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(outcomeCreated)))
}

func TestResolve_CanonicalKey(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "2001:db8::1", now)

	_, err := f.svc.Resolve(context.Background(), "2001:0db8::0001")
	require.NoError(t, err)
	assert.Zero(t, f.provider.total())
}

func TestResolve_DeniedSkipsProvider(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "134.201.250.155", now.Add(-48*time.Hour))
	f.deny(t, "134.201.250.155")

	_, err := f.svc.Resolve(context.Background(), "134.201.250.155")

	assert.ErrorIs(t, err, ErrDenied)
	assert.Equal(t, KindDenied, KindOf(err))
	assert.Equal(t, "This IP address is denied", err.Error())
	assert.Zero(t, f.provider.total())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(outcomeDenied)))
}

func TestResolve_InvalidIP(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Resolve(context.Background(), "not-an-ip")

	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Zero(t, f.provider.total())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(outcomeInvalid)))
}

func TestResolve_ProviderError(t *testing.T) {
	f := newFixture(t)
	f.provider.err = &data.LookupError{Message: "IPStack API error: IP not found"}

	_, err := f.svc.Resolve(context.Background(), "134.201.250.155")

	assert.ErrorIs(t, err, ErrProviderError)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindProviderError, KindOf(err))
	assert.Equal(t, "IPStack API error: IP not found", err.Error())

	_, err = f.store.Records().FindByIP(context.Background(), "134.201.250.155")
	assert.ErrorIs(t, err, data.ErrNotExist)
}

func TestResolve_UpstreamUnavailableKeepsStaleRecord(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, "134.201.250.155", now.Add(-48*time.Hour))
	f.provider.err = errors.New("dial tcp: connection refused")

	_, err := f.svc.Resolve(context.Background(), "134.201.250.155")

	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, "Failed to fetch IP info: dial tcp: connection refused", err.Error())

	stored, err := f.store.Records().FindByIP(context.Background(), "134.201.250.155")
	require.NoError(t, err)
	assert.Equal(t, seeded, stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(outcomeUpstreamUnavailable)))
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.fetch))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "134.201.250.155", now)
	f.deny(t, "134.201.250.155")

	require.NoError(t, f.svc.Delete(ctx, "134.201.250.155"))

	_, err := f.store.Records().FindByIP(ctx, "134.201.250.155")
	assert.ErrorIs(t, err, data.ErrNotExist)
	_, err = f.store.Denies().FindByIP(ctx, "134.201.250.155")
	assert.ErrorIs(t, err, data.ErrNotExist)

	err = f.svc.Delete(ctx, "134.201.250.155")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "IP address 134.201.250.155 not found in the database.", err.Error())

	err = f.svc.Delete(ctx, "not-an-ip")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// racingRecords deletes the record itself right before the service does, as
// a concurrent Delete of the same IP would.
type racingRecords struct {
	data.RecordStore
}

func (r racingRecords) Delete(ctx context.Context, rec data.GeoRecord) error {
	if err := r.RecordStore.Delete(ctx, rec); err != nil {
		return err
	}
	return r.RecordStore.Delete(ctx, rec)
}

// racingDenies does the same for the deny-list entry.
type racingDenies struct {
	data.DenyStore
}

func (d racingDenies) Delete(ctx context.Context, entry data.DenyEntry, commitNow bool) error {
	if err := d.DenyStore.Delete(ctx, entry, true); err != nil {
		return err
	}
	return d.DenyStore.Delete(ctx, entry, commitNow)
}

func TestDelete_LosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "134.201.250.155", now)
	f.deny(t, "134.201.250.155")

	svc := New(racingRecords{f.store.Records()}, racingDenies{f.store.Denies()}, f.provider,
		WithClock(func() time.Time { return now }))

	err := svc.Delete(ctx, "134.201.250.155")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)
	assert.Equal(t, "IP address 134.201.250.155 not found in the database.", err.Error())

	_, err = f.store.Denies().FindByIP(ctx, "134.201.250.155")
	assert.ErrorIs(t, err, data.ErrNotExist)
}

func TestDenyLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddDeny(ctx, "134.201.250.155")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "IP not found in database", err.Error())

	f.seed(t, "134.201.250.155", now)

	entry, err := f.svc.AddDeny(ctx, "134.201.250.155")
	require.NoError(t, err)
	assert.Equal(t, now, entry.DeniedAt)

	denied, err := f.svc.IsDenied(ctx, "134.201.250.155")
	require.NoError(t, err)
	assert.True(t, denied)

	_, err = f.svc.AddDeny(ctx, "134.201.250.155")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "IP 134.201.250.155 is already in deny-list", err.Error())

	require.NoError(t, f.svc.RemoveDeny(ctx, "134.201.250.155", true))

	denied, err = f.svc.IsDenied(ctx, "134.201.250.155")
	require.NoError(t, err)
	assert.False(t, denied)

	err = f.svc.RemoveDeny(ctx, "134.201.250.155", true)
	assert.ErrorIs(t, err, ErrNotDenied)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "IP not in deny-list", err.Error())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.denyChanges.WithLabelValues(opAdd)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.denyChanges.WithLabelValues(opRemove)))
}

func TestRemoveDeny_Deferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "134.201.250.155", now)
	f.deny(t, "134.201.250.155")

	require.NoError(t, f.svc.RemoveDeny(ctx, "134.201.250.155", false))

	denied, err := f.svc.IsDenied(ctx, "134.201.250.155")
	require.NoError(t, err)
	assert.True(t, denied, "deferred removal must stay visible until commit")

	require.NoError(t, f.svc.CommitDeny(ctx))

	denied, err = f.svc.IsDenied(ctx, "134.201.250.155")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestIsDenied_WithoutRecord(t *testing.T) {
	f := newFixture(t)
	f.deny(t, "134.201.250.155")

	denied, err := f.svc.IsDenied(context.Background(), "134.201.250.155")
	require.NoError(t, err)
	assert.False(t, denied)

	_, err = f.svc.IsDenied(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindInternal},
		{errors.New("boom"), KindInternal},
		{invalidIP("x"), KindInvalidInput},
		{newError(ErrNotFound, nil, "x"), KindNotFound},
		{newError(ErrNotDenied, nil, "x"), KindNotFound},
		{newError(ErrProviderError, nil, "x"), KindProviderError},
		{newError(ErrConflict, nil, "x"), KindConflict},
		{newError(ErrDenied, nil, "x"), KindDenied},
		{newError(ErrUpstreamUnavailable, nil, "x"), KindUpstreamUnavailable},
		{storageFailure("reading", errors.New("disk")), KindStorage},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.lookup(outcomeFresh)
	m.observeFetch(time.Second)
	m.denyChange(opAdd)
}
