// Package grpcserver exposes merges over gRPC as the mosaic.v1.Mosaic service.
// Messages are google.protobuf.Struct values shaped like merge manifests, so no
// generated code is needed.
package grpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mosaic.v1.Mosaic"

// MosaicServer is the server API for the Mosaic service.
type MosaicServer interface {
	// Merge renders a manifest and returns the job summary.
	Merge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Estimate fits the transform of a manifest without rendering.
	Estimate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterMosaicServer registers srv on s.
func RegisterMosaicServer(s grpc.ServiceRegistrar, srv MosaicServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(MosaicServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MosaicServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MosaicServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the Mosaic service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MosaicServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Merge", Handler: unaryHandler("Merge", MosaicServer.Merge)},
		{MethodName: "Estimate", Handler: unaryHandler("Estimate", MosaicServer.Estimate)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mosaic/v1/mosaic.proto",
}

// Client calls the Mosaic service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Merge calls /mosaic.v1.Mosaic/Merge.
func (c *Client) Merge(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Merge", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Estimate calls /mosaic.v1.Mosaic/Estimate.
func (c *Client) Estimate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Estimate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}
