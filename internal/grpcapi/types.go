package grpcapi

import "fleetroute/dispatch/internal/domain"

// Wire messages for the DispatchService. These stand in for
// protoc-generated request/response types (see codec.go); they are plain
// JSON-tagged structs carried over the real grpc.Server/grpc.ClientConn
// runtime via the hand-registered json codec.

// CreateCourierRequest is the payload for DispatchService.CreateCourier.
type CreateCourierRequest struct {
	Name     string          `json:"name"`
	Location domain.Location `json:"location"`
	Capacity int             `json:"capacity"`
	Rating   float64         `json:"rating"`
}

// CourierReply wraps a single courier.
type CourierReply struct {
	Courier domain.Courier `json:"courier"`
}

// CreateOrderRequest is the payload for DispatchService.CreateOrder.
type CreateOrderRequest struct {
	Pickup   domain.Location      `json:"pickup"`
	Dropoff  domain.Location      `json:"dropoff"`
	Priority domain.OrderPriority `json:"priority"`
}

// OrderReply wraps a single order.
type OrderReply struct {
	Order domain.Order `json:"order"`
}

// GetByIDRequest identifies a courier or order by id.
type GetByIDRequest struct {
	ID string `json:"id"`
}

// ListAssignmentsRequest is an empty request, kept for wire symmetry with
// a generated service client.
type ListAssignmentsRequest struct{}

// ListAssignmentsReply wraps every assignment ever committed. Once the
// ledger reaches assignmentCompressionThreshold, the server marshals it to
// JSON and ships the zstd-compressed bytes in Compressed, naming the codec
// in Codec; the marshal and compression run again on every call. Small
// replies stay plain JSON via Assignments for readability.
type ListAssignmentsReply struct {
	Assignments []domain.Assignment `json:"assignments,omitempty"`
	Codec       string              `json:"codec,omitempty"`
	Compressed  []byte              `json:"compressed,omitempty"`
}

// SubscribeEventsRequest is an empty request; the stream begins
// immediately on open and runs until the client cancels.
type SubscribeEventsRequest struct{}

// AssignmentEventMessage is a single frame of the SubscribeEvents stream.
type AssignmentEventMessage struct {
	Event domain.AssignmentEvent `json:"event"`
}
