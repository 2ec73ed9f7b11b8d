// Package grpcapi is the gRPC ingress adapter: a DispatchService exposing
// unary RPCs mirroring the REST contract plus a server-streaming
// SubscribeEvents RPC over the Event Bus. Like httpapi, it holds no core
// invariants; it translates domain sentinel errors into grpc/codes
// statuses.
package grpcapi

import (
	"context"
	"encoding/json"
	"io"

	"fleetroute/dispatch/internal/domain"
	"fleetroute/dispatch/internal/eventbus"
	"fleetroute/dispatch/internal/logging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// assignmentCompressionThreshold is the ledger size past which
// ListAssignments ships a zstd-compressed blob instead of a plain JSON
// array.
const assignmentCompressionThreshold = 256

// Store is the subset of *store.Store the gRPC adapter depends on.
type Store interface {
	CreateCourier(input domain.CourierInput) (domain.Courier, error)
	GetCourier(id string) (domain.Courier, error)
	CreateOrder(input domain.OrderInput) (domain.Order, error)
	GetOrder(id string) (domain.Order, error)
	ListAssignments() []domain.Assignment
}

// OrderQueue is the subset of *queue.OrderQueue the gRPC adapter depends
// on to enqueue newly created orders.
type OrderQueue interface {
	Enqueue(ctx context.Context, orderID string) error
}

// DispatchServiceServer is the handwritten service interface a generated
// _grpc.pb.go file would otherwise declare.
type DispatchServiceServer interface {
	CreateCourier(context.Context, *CreateCourierRequest) (*CourierReply, error)
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderReply, error)
	GetCourier(context.Context, *GetByIDRequest) (*CourierReply, error)
	GetOrder(context.Context, *GetByIDRequest) (*OrderReply, error)
	ListAssignments(context.Context, *ListAssignmentsRequest) (*ListAssignmentsReply, error)
	SubscribeEvents(*SubscribeEventsRequest, DispatchService_SubscribeEventsServer) error
}

// DispatchService_SubscribeEventsServer is the server-side streaming
// handle for SubscribeEvents, mirroring the shape grpc-go codegen
// produces for a server-streaming RPC.
type DispatchService_SubscribeEventsServer interface {
	Send(*AssignmentEventMessage) error
	grpc.ServerStream
}

// Service implements DispatchServiceServer against the Store, Queue, and
// Event Bus.
type Service struct {
	store  Store
	queue  OrderQueue
	bus    *eventbus.Bus
	logger *logging.Logger
}

// NewService constructs a Service wired to its collaborators.
func NewService(store Store, q OrderQueue, bus *eventbus.Bus, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.L()
	}
	return &Service{store: store, queue: q, bus: bus, logger: logger}
}

// CreateCourier implements DispatchServiceServer.
func (s *Service) CreateCourier(ctx context.Context, req *CreateCourierRequest) (*CourierReply, error) {
	courier, err := s.store.CreateCourier(domain.CourierInput{
		Name:     req.Name,
		Location: req.Location,
		Capacity: req.Capacity,
		Rating:   req.Rating,
	})
	if err != nil {
		return nil, translateError(err)
	}
	return &CourierReply{Courier: courier}, nil
}

// CreateOrder implements DispatchServiceServer. It creates the order then
// enqueues its id, matching the REST adapter's contract.
func (s *Service) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error) {
	order, err := s.store.CreateOrder(domain.OrderInput{
		Pickup:   req.Pickup,
		Dropoff:  req.Dropoff,
		Priority: req.Priority,
	})
	if err != nil {
		return nil, translateError(err)
	}
	if err := s.queue.Enqueue(ctx, order.ID); err != nil {
		return nil, status.Error(codes.ResourceExhausted, "order queue is full")
	}
	return &OrderReply{Order: order}, nil
}

// GetCourier implements DispatchServiceServer.
func (s *Service) GetCourier(ctx context.Context, req *GetByIDRequest) (*CourierReply, error) {
	courier, err := s.store.GetCourier(req.ID)
	if err != nil {
		return nil, translateError(err)
	}
	return &CourierReply{Courier: courier}, nil
}

// GetOrder implements DispatchServiceServer.
func (s *Service) GetOrder(ctx context.Context, req *GetByIDRequest) (*OrderReply, error) {
	order, err := s.store.GetOrder(req.ID)
	if err != nil {
		return nil, translateError(err)
	}
	return &OrderReply{Order: order}, nil
}

// ListAssignments implements DispatchServiceServer. Below
// assignmentCompressionThreshold it returns the plain JSON array; beyond
// it, the ledger is marshaled once and shipped zstd-compressed.
func (s *Service) ListAssignments(ctx context.Context, req *ListAssignmentsRequest) (*ListAssignmentsReply, error) {
	assignments := s.store.ListAssignments()
	if len(assignments) < assignmentCompressionThreshold {
		return &ListAssignmentsReply{Assignments: assignments}, nil
	}

	raw, err := json.Marshal(assignments)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to marshal assignment ledger")
	}
	compressor := NewZstdCompressor()
	compressed, err := compressor.Compress(raw)
	if err != nil {
		s.logger.Warn("failed to compress assignment ledger, falling back to plain JSON", logging.Error(err))
		return &ListAssignmentsReply{Assignments: assignments}, nil
	}
	return &ListAssignmentsReply{Codec: compressor.Name(), Compressed: compressed}, nil
}

// DecodeAssignments returns the assignments carried by reply, transparently
// decompressing Compressed when Codec is set.
func DecodeAssignments(reply *ListAssignmentsReply) ([]domain.Assignment, error) {
	if reply == nil {
		return nil, nil
	}
	if reply.Codec == "" {
		return reply.Assignments, nil
	}
	compressor, ok := CompressorByName(reply.Codec)
	if !ok {
		return nil, errors.Errorf("unknown assignment ledger codec %q", reply.Codec)
	}
	raw, err := compressor.Decompress(reply.Compressed)
	if err != nil {
		return nil, errors.Wrap(err, "decompress assignment ledger")
	}
	var assignments []domain.Assignment
	if err := json.Unmarshal(raw, &assignments); err != nil {
		return nil, errors.Wrap(err, "unmarshal assignment ledger")
	}
	return assignments, nil
}

// SubscribeEvents implements DispatchServiceServer, joining the Event Bus
// and streaming AssignmentEvents until the client disconnects or the bus
// closes. Grounded on a subscribe-loop-select streaming shape: subscribe,
// loop, select on ctx.Done()/channel, marshal via the server stream.
func (s *Service) SubscribeEvents(req *SubscribeEventsRequest, stream DispatchService_SubscribeEventsServer) error {
	subscriberID := uuid.NewString()
	sub := s.bus.Subscribe(subscriberID)
	defer s.bus.Unsubscribe(subscriberID)

	ctx := stream.Context()
	for {
		select {
		case event, open := <-sub.Events():
			if !open {
				return nil
			}
			if missed := sub.MissedCount(); missed > 0 {
				event.MissedEventCount = missed
			}
			if err := stream.Send(&AssignmentEventMessage{Event: event}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func translateError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, errors.Cause(err).Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func _DispatchService_CreateCourier_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CreateCourierRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).CreateCourier(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dispatch.DispatchService/CreateCourier"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServiceServer).CreateCourier(ctx, req.(*CreateCourierRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func _DispatchService_CreateOrder_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CreateOrderRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).CreateOrder(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dispatch.DispatchService/CreateOrder"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServiceServer).CreateOrder(ctx, req.(*CreateOrderRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func _DispatchService_GetCourier_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetByIDRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).GetCourier(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dispatch.DispatchService/GetCourier"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServiceServer).GetCourier(ctx, req.(*GetByIDRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func _DispatchService_GetOrder_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetByIDRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).GetOrder(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dispatch.DispatchService/GetOrder"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServiceServer).GetOrder(ctx, req.(*GetByIDRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func _DispatchService_ListAssignments_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ListAssignmentsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).ListAssignments(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dispatch.DispatchService/ListAssignments"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServiceServer).ListAssignments(ctx, req.(*ListAssignmentsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

type dispatchServiceSubscribeEventsServer struct {
	grpc.ServerStream
}

func (x *dispatchServiceSubscribeEventsServer) Send(m *AssignmentEventMessage) error {
	return x.ServerStream.SendMsg(m)
}

func _DispatchService_SubscribeEvents_Handler(srv interface{}, stream grpc.ServerStream) error {
	req := new(SubscribeEventsRequest)
	if err := stream.RecvMsg(req); err != nil && err != io.EOF {
		return err
	}
	return srv.(DispatchServiceServer).SubscribeEvents(req, &dispatchServiceSubscribeEventsServer{stream})
}

// ServiceDesc is the handwritten equivalent of a protoc-gen-go-grpc
// _grpc.pb.go ServiceDesc: the real grpc.Server dispatches incoming RPCs
// through this table exactly as it would for a generated service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dispatch.DispatchService",
	HandlerType: (*DispatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateCourier", Handler: _DispatchService_CreateCourier_Handler},
		{MethodName: "CreateOrder", Handler: _DispatchService_CreateOrder_Handler},
		{MethodName: "GetCourier", Handler: _DispatchService_GetCourier_Handler},
		{MethodName: "GetOrder", Handler: _DispatchService_GetOrder_Handler},
		{MethodName: "ListAssignments", Handler: _DispatchService_ListAssignments_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SubscribeEvents", Handler: _DispatchService_SubscribeEvents_Handler, ServerStreams: true},
	},
	Metadata: "dispatch.proto",
}

// RegisterDispatchServiceServer registers srv against s, the same call a
// generated file would expose.
func RegisterDispatchServiceServer(s grpc.ServiceRegistrar, srv DispatchServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
