package grpc

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/service"
	"github.com/TomasB/geocache/internal/store/memory"
)

type stubProvider struct {
	attrs data.Attributes
	err   error
}

func (p stubProvider) Fetch(context.Context, netip.Addr) (data.Attributes, error) {
	return p.attrs, p.err
}

func newService(p data.Provider) *service.Service {
	store := memory.New()
	return service.New(store.Records(), store.Denies(), p)
}

func usAttrs() data.Attributes {
	return data.Attributes{
		Type:        data.TypeIPv4,
		CountryCode: "US",
		CountryName: "United States",
		City:        "Los Angeles",
		Latitude:    data.Float(34.0453),
	}
}

// dial serves h over an in-memory listener and returns a client for it.
func dial(t *testing.T, h GeoCacheServer) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterGeoCacheServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestLookup(t *testing.T) {
	h := NewHandler(newService(stubProvider{attrs: usAttrs()}))

	resp, err := h.Lookup(context.Background(), wrapperspb.String("134.201.250.155"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fields := resp.GetFields()
	if got := fields["country_code"].GetStringValue(); got != "US" {
		t.Errorf("expected country_code US, got %q", got)
	}
	if got := fields["latitude"].GetNumberValue(); got != 34.0453 {
		t.Errorf("expected latitude 34.0453, got %v", got)
	}
	if _, ok := fields["zip"].GetKind().(*structpb.Value_NullValue); !ok {
		t.Errorf("expected zip to be null, got %v", fields["zip"])
	}
	if _, ok := fields["longitude"].GetKind().(*structpb.Value_NullValue); !ok {
		t.Errorf("expected longitude to be null, got %v", fields["longitude"])
	}
}

func TestLookupErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider stubProvider
		req      *wrapperspb.StringValue
		want     codes.Code
	}{
		{"nil request", stubProvider{}, nil, codes.InvalidArgument},
		{"empty ip", stubProvider{}, wrapperspb.String(""), codes.InvalidArgument},
		{"invalid ip", stubProvider{}, wrapperspb.String("not-an-ip"), codes.InvalidArgument},
		{"provider refusal", stubProvider{err: &data.LookupError{Message: "IP not found"}}, wrapperspb.String("10.0.0.1"), codes.NotFound},
		{"upstream down", stubProvider{err: errors.New("connection refused")}, wrapperspb.String("10.0.0.1"), codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(newService(tt.provider))

			_, err := h.Lookup(context.Background(), tt.req)
			assertCode(t, err, tt.want)
		})
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err     error
		want    codes.Code
		wantMsg string
	}{
		{service.NewError(service.ErrInvalidInput, "bad"), codes.InvalidArgument, "bad"},
		{service.NewError(service.ErrNotFound, "gone"), codes.NotFound, "gone"},
		{service.NewError(service.ErrNotDenied, "IP not in deny-list"), codes.NotFound, "IP not in deny-list"},
		{service.NewError(service.ErrConflict, "dup"), codes.AlreadyExists, "dup"},
		{service.NewError(service.ErrDenied, "This IP address is denied"), codes.PermissionDenied, "This IP address is denied"},
		{service.NewError(service.ErrUpstreamUnavailable, "down"), codes.Unavailable, "down"},
		{service.NewError(service.ErrStorage, "disk on fire"), codes.Internal, "internal error"},
		{errors.New("boom"), codes.Internal, "internal error"},
	}

	for _, tt := range tests {
		err := toStatus(tt.err)
		assertCode(t, err, tt.want)
		if got := status.Convert(err).Message(); got != tt.wantMsg {
			t.Errorf("%v: expected message %q, got %q", tt.err, tt.wantMsg, got)
		}
	}
}

func TestIpsFrom(t *testing.T) {
	_, err := ipsFrom(nil)
	assertCode(t, err, codes.InvalidArgument)

	_, err = ipsFrom(&structpb.ListValue{})
	assertCode(t, err, codes.InvalidArgument)

	_, err = ipsFrom(&structpb.ListValue{Values: []*structpb.Value{structpb.NewNumberValue(1)}})
	assertCode(t, err, codes.InvalidArgument)

	ips, err := ipsFrom(ipList([]string{"10.0.0.1", "::1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ips) != 2 || ips[0] != "10.0.0.1" || ips[1] != "::1" {
		t.Errorf("unexpected ips %v", ips)
	}
}

func TestRoundTrip_DenyLifecycle(t *testing.T) {
	client := dial(t, NewHandler(newService(stubProvider{attrs: usAttrs()})))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Lookup(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	if err := client.AddDeny(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("add deny: %v", err)
	}
	assertCode(t, client.AddDeny(ctx, "10.0.0.1"), codes.AlreadyExists)

	denied, err := client.IsDenied(ctx, "10.0.0.1")
	if err != nil || !denied {
		t.Fatalf("expected denied, got %v (err=%v)", denied, err)
	}

	_, err = client.Lookup(ctx, "10.0.0.1")
	assertCode(t, err, codes.PermissionDenied)

	if err := client.RemoveDeny(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("remove deny: %v", err)
	}
	assertCode(t, client.RemoveDeny(ctx, "10.0.0.1"), codes.NotFound)

	if err := client.Delete(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertCode(t, client.Delete(ctx, "10.0.0.1"), codes.NotFound)
}

func TestRoundTrip_Bulk(t *testing.T) {
	client := dial(t, NewHandler(newService(stubProvider{attrs: usAttrs()})))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.BulkLookup(ctx, []string{"10.0.0.1", "bad", "10.0.0.2"})
	if err != nil {
		t.Fatalf("bulk lookup: %v", err)
	}
	results := resp.GetFields()["results"].GetListValue().GetValues()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if got := results[0].GetStructValue().GetFields()["country_code"].GetStringValue(); got != "US" {
		t.Errorf("expected first result US, got %q", got)
	}
	if got := results[1].GetStructValue().GetFields()["error"].GetStringValue(); got != "Invalid IP address format: bad" {
		t.Errorf("unexpected error entry %q", got)
	}

	resp, err = client.BulkAddDeny(ctx, []string{"10.0.0.1", "10.0.0.9"})
	if err != nil {
		t.Fatalf("bulk add deny: %v", err)
	}
	added := resp.GetFields()["added"].GetListValue().GetValues()
	if len(added) != 1 || added[0].GetStringValue() != "10.0.0.1" {
		t.Errorf("unexpected added %v", added)
	}
	notFound := resp.GetFields()["skipped"].GetStructValue().GetFields()["not_found"].GetListValue().GetValues()
	if len(notFound) != 1 || notFound[0].GetStringValue() != "10.0.0.9" {
		t.Errorf("unexpected not_found %v", notFound)
	}

	resp, err = client.BulkRemoveDeny(ctx, []string{"10.0.0.1", "10.0.0.2"})
	if err != nil {
		t.Fatalf("bulk remove deny: %v", err)
	}
	if n := len(resp.GetFields()["removed"].GetListValue().GetValues()); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}

	resp, err = client.BulkDelete(ctx, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if n := len(resp.GetFields()["deleted"].GetListValue().GetValues()); n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	errs := resp.GetFields()["errors"].GetListValue().GetValues()
	if len(errs) != 1 || errs[0].GetStringValue() != "IP not found in database: 10.0.0.3" {
		t.Errorf("unexpected errors %v", errs)
	}

	_, err = client.BulkDelete(ctx, nil)
	assertCode(t, err, codes.InvalidArgument)
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %v", want)
	}
	if status.Code(err) != want {
		t.Fatalf("expected code %v, got %v", want, status.Code(err))
	}
}
