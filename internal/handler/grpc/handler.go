package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/handler/response"
	"github.com/TomasB/geocache/internal/service"
)

// Service is the core API exposed over gRPC.
type Service interface {
	Resolve(ctx context.Context, ip string) (data.GeoRecord, error)
	Delete(ctx context.Context, ip string) error
	AddDeny(ctx context.Context, ip string) (data.DenyEntry, error)
	RemoveDeny(ctx context.Context, ip string, commitNow bool) error
	IsDenied(ctx context.Context, ip string) (bool, error)
	BulkResolve(ctx context.Context, ips []string) ([]service.LookupResult, error)
	BulkDelete(ctx context.Context, ips []string) (service.DeleteReport, error)
	BulkAddDeny(ctx context.Context, ips []string) (service.DenyAddReport, error)
	BulkRemoveDeny(ctx context.Context, ips []string) (service.DenyRemoveReport, error)
}

// Handler implements the gRPC GeoCacheService.
type Handler struct {
	svc Service
}

var _ GeoCacheServer = (*Handler)(nil)

// NewHandler creates a new gRPC handler on top of svc.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Lookup resolves one IP to its geolocation record.
func (h *Handler) Lookup(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req == nil || req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}

	rec, err := h.svc.Resolve(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(recordFields(rec))
}

// Delete removes the record of one IP and its deny-list entry.
func (h *Handler) Delete(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req == nil || req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}
	if err := h.svc.Delete(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (h *Handler) AddDeny(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req == nil || req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}
	if _, err := h.svc.AddDeny(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (h *Handler) RemoveDeny(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req == nil || req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}
	if err := h.svc.RemoveDeny(ctx, req.GetValue(), true); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (h *Handler) IsDenied(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if req == nil || req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}
	denied, err := h.svc.IsDenied(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(denied), nil
}

// BulkLookup answers {"results": [...]} with one entry per input, in order.
func (h *Handler) BulkLookup(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	ips, err := ipsFrom(req)
	if err != nil {
		return nil, err
	}

	results, err := h.svc.BulkResolve(ctx, ips)
	if err != nil {
		return nil, toStatus(err)
	}

	out := make([]any, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = map[string]any{"ip": r.IP, "error": r.Err.Error()}
			continue
		}
		out[i] = recordFields(r.Record)
	}
	return structpb.NewStruct(map[string]any{"results": out})
}

func (h *Handler) BulkDelete(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	ips, err := ipsFrom(req)
	if err != nil {
		return nil, err
	}

	report, err := h.svc.BulkDelete(ctx, ips)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"deleted": listOf(report.Deleted),
		"errors":  listOf(report.Errors),
	})
}

func (h *Handler) BulkAddDeny(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	ips, err := ipsFrom(req)
	if err != nil {
		return nil, err
	}

	report, err := h.svc.BulkAddDeny(ctx, ips)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"added": listOf(report.Added),
		"skipped": map[string]any{
			"invalid_format": listOf(report.Skipped.InvalidFormat),
			"not_found":      listOf(report.Skipped.NotFound),
			"already_denied": listOf(report.Skipped.AlreadyDenied),
			"failed":         listOf(report.Skipped.Failed),
		},
	})
}

func (h *Handler) BulkRemoveDeny(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	ips, err := ipsFrom(req)
	if err != nil {
		return nil, err
	}

	report, err := h.svc.BulkRemoveDeny(ctx, ips)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"removed": listOf(report.Removed),
		"skipped": map[string]any{
			"invalid_format":  listOf(report.Skipped.InvalidFormat),
			"not_found":       listOf(report.Skipped.NotFound),
			"not_in_denylist": listOf(report.Skipped.NotInDenyList),
			"failed":          listOf(report.Skipped.Failed),
		},
	})
}

// toStatus maps a service error to a gRPC status. Storage and unclassified
// failures are logged and reported without detail.
func toStatus(err error) error {
	kind := service.KindOf(err)
	switch kind {
	case service.KindInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case service.KindNotFound, service.KindProviderError:
		return status.Error(codes.NotFound, err.Error())
	case service.KindConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	case service.KindDenied:
		return status.Error(codes.PermissionDenied, err.Error())
	case service.KindUpstreamUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		slog.Error("grpc request failed", "kind", kind.String(), "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func ipsFrom(req *structpb.ListValue) ([]string, error) {
	if req == nil || len(req.GetValues()) == 0 {
		return nil, status.Error(codes.InvalidArgument, `Field "ips" must be a non-empty array`)
	}
	ips := make([]string, len(req.GetValues()))
	for i, v := range req.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "ips[%d] is not a string", i)
		}
		ips[i] = s.StringValue
	}
	return ips, nil
}

func recordFields(rec data.GeoRecord) map[string]any {
	return map[string]any{
		"ip":             rec.IP,
		"type":           optional(rec.Type),
		"continent_code": optional(rec.ContinentCode),
		"continent_name": optional(rec.ContinentName),
		"country_code":   optional(rec.CountryCode),
		"country_name":   optional(rec.CountryName),
		"region_code":    optional(rec.RegionCode),
		"region_name":    optional(rec.RegionName),
		"city":           optional(rec.City),
		"zip":            optional(rec.PostalCode),
		"latitude":       optionalFloat(rec.Latitude),
		"longitude":      optionalFloat(rec.Longitude),
		"date":           rec.FetchedAt.UTC().Format(response.DateFormat),
	}
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// listOf converts for structpb, which only accepts []any.
func listOf(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
