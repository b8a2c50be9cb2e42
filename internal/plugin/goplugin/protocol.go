// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"
	"errors"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PluginName is the name the boundary service is dispensed under.
const PluginName = "boundary"

// LabelEnv carries the context label to the child process.
const LabelEnv = "PLUGBOX_CONTEXT_LABEL"

// HandshakeConfig is shared by the host and the boundary process. A binary
// started without the magic cookie refuses to serve.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGBOX_BOUNDARY",
	MagicCookieValue: "7f3c1e52-boundary",
}

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	PluginName: &GRPCPlugin{},
}

// GRPCPlugin implements go-plugin's Plugin interface for the boundary service.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is used by the boundary process (not used by host).
	Impl BoundaryServer
}

// GRPCServer registers the boundary service (called by the boundary process).
func (p *GRPCPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("goplugin: boundary implementation is nil")
	}
	RegisterBoundaryServer(s, p.Impl)
	return nil
}

// GRPCClient returns a boundary client (called by host process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewBoundaryClient(c), nil
}

// Boundary service wire names.
const (
	serviceName         = "plugbox.boundary.v1.Boundary"
	setDataMethod       = "/" + serviceName + "/SetData"
	runInsideMethod     = "/" + serviceName + "/RunInside"
	modulesMethod       = "/" + serviceName + "/Modules"
	boundaryProtoSource = "plugbox/boundary/v1/boundary.proto"
)

// BoundaryServer is the boundary side of the service. Messages are protobuf
// well-known types:
//
//	SetData(Struct{key, value}) returns (Empty)
//	RunInside(StringValue{unit}) returns (Struct report)
//	Modules(Empty) returns (ListValue of names)
type BoundaryServer interface {
	SetData(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RunInside(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Modules(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// BoundaryClient is the host side of the service.
type BoundaryClient interface {
	SetData(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	RunInside(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Modules(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
}

type boundaryClient struct {
	cc grpc.ClientConnInterface
}

// NewBoundaryClient creates a client for the boundary service on cc.
func NewBoundaryClient(cc grpc.ClientConnInterface) BoundaryClient {
	return &boundaryClient{cc: cc}
}

func (c *boundaryClient) SetData(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, setDataMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *boundaryClient) RunInside(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, runInsideMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *boundaryClient) Modules(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, modulesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterBoundaryServer registers srv on s.
func RegisterBoundaryServer(s grpc.ServiceRegistrar, srv BoundaryServer) {
	s.RegisterService(&boundaryServiceDesc, srv)
}

var boundaryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BoundaryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetData", Handler: setDataHandler},
		{MethodName: "RunInside", Handler: runInsideHandler},
		{MethodName: "Modules", Handler: modulesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: boundaryProtoSource,
}

func setDataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoundaryServer).SetData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: setDataMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BoundaryServer).SetData(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func runInsideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoundaryServer).RunInside(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runInsideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BoundaryServer).RunInside(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func modulesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoundaryServer).Modules(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: modulesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BoundaryServer).Modules(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
