package api

import (
	"context"
	"encoding/json"
	"net/http"

	"loft/internal/daterange"
	"loft/internal/models"
	"loft/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const reservationServiceName = "loft.reservation.v1.ReservationService"

// Full method names, as seen by interceptors.
const (
	MethodCheckAvailability = "/" + reservationServiceName + "/CheckAvailability"
	MethodQuote             = "/" + reservationServiceName + "/Quote"
	MethodCreateReservation = "/" + reservationServiceName + "/CreateReservation"
)

// ReservationServer is the gRPC surface of the reservation service.
// Messages are google.protobuf.Struct with the same fields as the JSON API.
type ReservationServer interface {
	CheckAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Quote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ReservationServiceDesc = grpc.ServiceDesc{
	ServiceName: reservationServiceName,
	HandlerType: (*ReservationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckAvailability", Handler: unaryHandler(MethodCheckAvailability, ReservationServer.CheckAvailability)},
		{MethodName: "Quote", Handler: unaryHandler(MethodQuote, ReservationServer.Quote)},
		{MethodName: "CreateReservation", Handler: unaryHandler(MethodCreateReservation, ReservationServer.CreateReservation)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loft/reservation/v1/reservation.proto",
}

func RegisterReservationServer(s grpc.ServiceRegistrar, srv ReservationServer) {
	s.RegisterService(&ReservationServiceDesc, srv)
}

type structCall func(ReservationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReservationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReservationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ReservationClient calls ReservationServer over a client connection.
type ReservationClient struct {
	cc grpc.ClientConnInterface
}

func NewReservationClient(cc grpc.ClientConnInterface) *ReservationClient {
	return &ReservationClient{cc: cc}
}

func (c *ReservationClient) CheckAvailability(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCheckAvailability, in, opts...)
}

func (c *ReservationClient) Quote(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodQuote, in, opts...)
}

func (c *ReservationClient) CreateReservation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreateReservation, in, opts...)
}

func (c *ReservationClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReservationGRPCService adapts ReservationAPI to ReservationServer.
type ReservationGRPCService struct {
	svc ReservationAPI
}

func NewReservationGRPCService(svc ReservationAPI) *ReservationGRPCService {
	return &ReservationGRPCService{svc: svc}
}

type stayRequest struct {
	PropertyID int64  `json:"property_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	Guests     int    `json:"guests"`
}

func (s *ReservationGRPCService) CheckAvailability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req stayRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	rng, err := daterange.Parse(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, grpcError(err)
	}

	res, err := s.svc.CheckAvailability(ctx, grpcActor(ctx), req.PropertyID, rng)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(availabilityResponse{Available: res.Available, Conflicts: res.Conflicts})
}

func (s *ReservationGRPCService) Quote(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req stayRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	rng, err := daterange.Parse(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, grpcError(err)
	}
	if req.Guests == 0 {
		req.Guests = 1
	}

	quote, err := s.svc.Quote(ctx, grpcActor(ctx), req.PropertyID, rng, req.Guests)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(quote)
}

func (s *ReservationGRPCService) CreateReservation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.ReservationRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	res, err := s.svc.CreateReservation(ctx, grpcActor(ctx), req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(reservationResponse{
		BookingID:  res.Booking.ID,
		TotalPrice: res.Booking.TotalPrice,
		Status:     res.Booking.Status,
		Currency:   res.Booking.Currency,
		Version:    res.Booking.Version,
		Breakdown:  res.Breakdown,
	})
}

func grpcActor(ctx context.Context) models.Actor {
	actor, _ := ActorFromContext(ctx)
	return actor
}

// fromStruct decodes a Struct through its JSON form, so field names and
// validation match the HTTP API.
func fromStruct(in *structpb.Struct, dst any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, "malformed request")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

// grpcError maps a service error onto a status. The API error code and any
// conflicts travel as a Struct detail.
func grpcError(err error) error {
	httpStatus, body := service.HTTPError(err)

	code := codes.Internal
	switch httpStatus {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusConflict:
		switch body.Code {
		case service.CodeLockConflict, service.CodeConcurrentModification:
			code = codes.Aborted
		default:
			code = codes.FailedPrecondition
		}
	}

	st := status.New(code, body.Error)
	detail, derr := toStruct(body)
	if derr != nil {
		return st.Err()
	}
	if withDetail, werr := st.WithDetails(detail); werr == nil {
		return withDetail.Err()
	}
	return st.Err()
}
