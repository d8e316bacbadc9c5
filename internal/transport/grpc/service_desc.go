package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// proto/reserva/v1/booking_service.proto is the contract for these
// messages. Generated stubs go to internal/gen/proto.
//go:generate protoc -I ../../../proto --go_out=../../.. --go_opt=module=reserva/backend --go-grpc_out=../../.. --go-grpc_opt=module=reserva/backend reserva/v1/booking_service.proto

const BookingServiceName = "reserva.v1.BookingService"

const (
	GetAvailabilityMethod = "/" + BookingServiceName + "/GetAvailability"
	CreateBookingMethod   = "/" + BookingServiceName + "/CreateBooking"
	CancelBookingMethod   = "/" + BookingServiceName + "/CancelBooking"
	GetBookingMethod      = "/" + BookingServiceName + "/GetBooking"
)

type BookingServiceServer interface {
	GetAvailability(ctx context.Context, req *GetAvailabilityRequest) (*GetAvailabilityResponse, error)
	CreateBooking(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResponse, error)
	CancelBooking(ctx context.Context, req *CancelBookingRequest) (*CancelBookingResponse, error)
	GetBooking(ctx context.Context, req *GetBookingRequest) (*GetBookingResponse, error)
}

// BookingServiceDesc describes the service for grpc.Server.RegisterService.
// Messages travel with the json codec.
var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: BookingServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailability", Handler: getAvailabilityHandler},
		{MethodName: "CreateBooking", Handler: createBookingHandler},
		{MethodName: "CancelBooking", Handler: cancelBookingHandler},
		{MethodName: "GetBooking", Handler: getBookingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reserva/v1/booking_service",
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&BookingServiceDesc, srv)
}

func unary[Req any, Resp any](method string, call func(BookingServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BookingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BookingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	getAvailabilityHandler = unary(GetAvailabilityMethod, BookingServiceServer.GetAvailability)
	createBookingHandler   = unary(CreateBookingMethod, BookingServiceServer.CreateBooking)
	cancelBookingHandler   = unary(CancelBookingMethod, BookingServiceServer.CancelBooking)
	getBookingHandler      = unary(GetBookingMethod, BookingServiceServer.GetBooking)
)

type BookingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingServiceClient(cc grpc.ClientConnInterface) *BookingServiceClient {
	return &BookingServiceClient{cc: cc}
}

func (c *BookingServiceClient) GetAvailability(ctx context.Context, in *GetAvailabilityRequest, opts ...grpc.CallOption) (*GetAvailabilityResponse, error) {
	out := new(GetAvailabilityResponse)
	if err := c.invoke(ctx, GetAvailabilityMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) CreateBooking(ctx context.Context, in *CreateBookingRequest, opts ...grpc.CallOption) (*CreateBookingResponse, error) {
	out := new(CreateBookingResponse)
	if err := c.invoke(ctx, CreateBookingMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) CancelBooking(ctx context.Context, in *CancelBookingRequest, opts ...grpc.CallOption) (*CancelBookingResponse, error) {
	out := new(CancelBookingResponse)
	if err := c.invoke(ctx, CancelBookingMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) GetBooking(ctx context.Context, in *GetBookingRequest, opts ...grpc.CallOption) (*GetBookingResponse, error) {
	out := new(GetBookingResponse)
	if err := c.invoke(ctx, GetBookingMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
