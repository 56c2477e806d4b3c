package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "geocache.v1.GeoCacheService"

// GeoCacheServer is the server API of geocache.v1.GeoCacheService.
// Single-IP methods take the address as a StringValue; bulk methods take a
// ListValue of address strings and answer with a Struct report.
type GeoCacheServer interface {
	Lookup(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	AddDeny(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	RemoveDeny(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	IsDenied(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	BulkLookup(context.Context, *structpb.ListValue) (*structpb.Struct, error)
	BulkDelete(context.Context, *structpb.ListValue) (*structpb.Struct, error)
	BulkAddDeny(context.Context, *structpb.ListValue) (*structpb.Struct, error)
	BulkRemoveDeny(context.Context, *structpb.ListValue) (*structpb.Struct, error)
}

// ServiceDesc describes GeoCacheService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeoCacheServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Lookup", GeoCacheServer.Lookup),
		unary("Delete", GeoCacheServer.Delete),
		unary("AddDeny", GeoCacheServer.AddDeny),
		unary("RemoveDeny", GeoCacheServer.RemoveDeny),
		unary("IsDenied", GeoCacheServer.IsDenied),
		unary("BulkLookup", GeoCacheServer.BulkLookup),
		unary("BulkDelete", GeoCacheServer.BulkDelete),
		unary("BulkAddDeny", GeoCacheServer.BulkAddDeny),
		unary("BulkRemoveDeny", GeoCacheServer.BulkRemoveDeny),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geocache/v1/geocache.proto",
}

// RegisterGeoCacheServer registers srv on s.
func RegisterGeoCacheServer(s grpc.ServiceRegistrar, srv GeoCacheServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(GeoCacheServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GeoCacheServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(GeoCacheServer), ctx, req.(*Req))
			})
		},
	}
}

// Client is a GeoCacheService client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Lookup(ctx context.Context, ip string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c, "Lookup", wrapperspb.String(ip), opts...)
}

func (c *Client) Delete(ctx context.Context, ip string, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "Delete", wrapperspb.String(ip), opts...)
	return err
}

func (c *Client) AddDeny(ctx context.Context, ip string, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "AddDeny", wrapperspb.String(ip), opts...)
	return err
}

func (c *Client) RemoveDeny(ctx context.Context, ip string, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "RemoveDeny", wrapperspb.String(ip), opts...)
	return err
}

func (c *Client) IsDenied(ctx context.Context, ip string, opts ...grpc.CallOption) (bool, error) {
	out, err := invoke[wrapperspb.BoolValue](ctx, c, "IsDenied", wrapperspb.String(ip), opts...)
	if err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) BulkLookup(ctx context.Context, ips []string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c, "BulkLookup", ipList(ips), opts...)
}

func (c *Client) BulkDelete(ctx context.Context, ips []string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c, "BulkDelete", ipList(ips), opts...)
}

func (c *Client) BulkAddDeny(ctx context.Context, ips []string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c, "BulkAddDeny", ipList(ips), opts...)
}

func (c *Client) BulkRemoveDeny(ctx context.Context, ips []string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c, "BulkRemoveDeny", ipList(ips), opts...)
}

func ipList(ips []string) *structpb.ListValue {
	values := make([]*structpb.Value, len(ips))
	for i, ip := range ips {
		values[i] = structpb.NewStringValue(ip)
	}
	return &structpb.ListValue{Values: values}
}
