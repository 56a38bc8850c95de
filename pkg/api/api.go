// Package api declares the PiService messages, the gRPC service descriptor and
// client stub, and the JSON codec used to carry the messages over gRPC.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// The fully-qualified gRPC service name.
	PiServiceName = "pimachine.v1.PiService"
	// The fully-qualified gRPC method name of GetDigits.
	GetDigitsMethod = "/" + PiServiceName + "/GetDigits"
)

// GetDigitsRequest asks for Count digits starting at the 1-based Position. A
// zero Count requests a full block of digits.
type GetDigitsRequest struct {
	Position uint64 `json:"position"`
	Count    uint32 `json:"count,omitempty"`
}

// Metadata describes the service instance that answered a request.
type Metadata struct {
	Identity    string            `json:"identity"`
	Tags        []string          `json:"tags,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// GetDigitsResponse carries the requested digits.
type GetDigitsResponse struct {
	Position uint64    `json:"position"`
	Digits   string    `json:"digits"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// PiServiceServer is the server API for PiService.
type PiServiceServer interface {
	GetDigits(context.Context, *GetDigitsRequest) (*GetDigitsResponse, error)
}

// UnimplementedPiServiceServer can be embedded to have forward compatible
// implementations.
type UnimplementedPiServiceServer struct{}

func (UnimplementedPiServiceServer) GetDigits(context.Context, *GetDigitsRequest) (*GetDigitsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetDigits not implemented")
}

func getDigitsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetDigitsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PiServiceServer).GetDigits(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetDigitsMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PiServiceServer).GetDigits(ctx, req.(*GetDigitsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// PiServiceDesc is the grpc.ServiceDesc for PiService.
var PiServiceDesc = grpc.ServiceDesc{
	ServiceName: PiServiceName,
	HandlerType: (*PiServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetDigits",
			Handler:    getDigitsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pimachine/v1/pi",
}

// RegisterPiServiceServer registers the PiService implementation with the
// grpc.ServiceRegistrar.
func RegisterPiServiceServer(s grpc.ServiceRegistrar, srv PiServiceServer) {
	s.RegisterService(&PiServiceDesc, srv)
}

// PiServiceClient is the client API for PiService.
type PiServiceClient interface {
	GetDigits(ctx context.Context, in *GetDigitsRequest, opts ...grpc.CallOption) (*GetDigitsResponse, error)
}

type piServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPiServiceClient returns a PiServiceClient that will make calls over the
// connection with the JSON codec.
func NewPiServiceClient(cc grpc.ClientConnInterface) PiServiceClient {
	return &piServiceClient{cc}
}

func (c *piServiceClient) GetDigits(ctx context.Context, in *GetDigitsRequest, opts ...grpc.CallOption) (*GetDigitsResponse, error) {
	out := new(GetDigitsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, GetDigitsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
