package capsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Fully qualified names of the capability service.
const (
	ServiceName             = "capsvc.CapabilityService"
	NegotiateFullMethodName = "/" + ServiceName + "/Negotiate"
)

// CapabilityServiceClient is the client API for CapabilityService.
type CapabilityServiceClient interface {
	Negotiate(ctx context.Context, in *NegotiateRequest, opts ...grpc.CallOption) (*NegotiateResponse, error)
}

type capabilityServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCapabilityServiceClient creates a client on cc. Calls always use the
// capsvc content-subtype.
func NewCapabilityServiceClient(cc grpc.ClientConnInterface) CapabilityServiceClient {
	return &capabilityServiceClient{cc: cc}
}

func (c *capabilityServiceClient) Negotiate(ctx context.Context, in *NegotiateRequest, opts ...grpc.CallOption) (*NegotiateResponse, error) {
	out := new(NegotiateResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
	if err := c.cc.Invoke(ctx, NegotiateFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CapabilityServiceServer is the server API for CapabilityService.
type CapabilityServiceServer interface {
	Negotiate(ctx context.Context, in *NegotiateRequest) (*NegotiateResponse, error)
}

// UnimplementedCapabilityServiceServer answers every method with
// codes.Unimplemented.
type UnimplementedCapabilityServiceServer struct{}

func (UnimplementedCapabilityServiceServer) Negotiate(context.Context, *NegotiateRequest) (*NegotiateResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Negotiate not implemented")
}

// RegisterCapabilityServiceServer registers srv on s.
func RegisterCapabilityServiceServer(s grpc.ServiceRegistrar, srv CapabilityServiceServer) {
	s.RegisterService(&CapabilityService_ServiceDesc, srv)
}

func negotiateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(NegotiateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CapabilityServiceServer).Negotiate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: NegotiateFullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CapabilityServiceServer).Negotiate(ctx, req.(*NegotiateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CapabilityService_ServiceDesc is the grpc.ServiceDesc for CapabilityService.
var CapabilityService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CapabilityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Negotiate",
			Handler:    negotiateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "capsvc.proto",
}
