// Package store is the in-memory repository of couriers, orders, and
// assignments. Couriers and orders are keyed, each entry guarded by its own
// lock; the append-only assignment log has a lock of its own; there is no
// global store-wide lock. The only cross-entity critical
// section is TryCommitAssignment, which acquires at most one courier lock
// and one order lock, always in courier-before-order order.
package store

import (
	"sort"
	"sync"
	"time"

	"fleetroute/dispatch/internal/domain"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type courierEntry struct {
	mu   sync.Mutex
	data domain.Courier
}

type orderEntry struct {
	mu   sync.Mutex
	data domain.Order
}

// Store is the concurrent, in-memory repository described by the core
// data model. All state is lost on process restart; this is a documented
// property, not a defect.
type Store struct {
	couriersMu sync.RWMutex
	couriers   map[string]*courierEntry

	ordersMu sync.RWMutex
	orders   map[string]*orderEntry

	assignmentsMu sync.Mutex
	assignments   []domain.Assignment

	now func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		couriers: make(map[string]*courierEntry),
		orders:   make(map[string]*orderEntry),
		now:      time.Now,
	}
}

// CreateCourier validates input, assigns an id, and inserts the courier
// with current_load=0 and status=Available.
func (s *Store) CreateCourier(input domain.CourierInput) (domain.Courier, error) {
	if err := validateCourierInput(input); err != nil {
		return domain.Courier{}, err
	}

	courier := domain.Courier{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Location:    input.Location,
		Capacity:    input.Capacity,
		CurrentLoad: 0,
		Rating:      input.Rating,
		Status:      domain.CourierAvailable,
	}

	s.couriersMu.Lock()
	s.couriers[courier.ID] = &courierEntry{data: courier}
	s.couriersMu.Unlock()

	return courier, nil
}

func validateCourierInput(input domain.CourierInput) error {
	if input.Name == "" {
		return domain.ValidationError("courier name must not be empty")
	}
	if !input.Location.Valid() {
		return domain.ValidationError("courier location out of range")
	}
	if input.Capacity < 1 {
		return domain.ValidationError("courier capacity must be >= 1")
	}
	if input.Rating < 0.0 || input.Rating > 5.0 {
		return domain.ValidationError("courier rating must be within [0,5]")
	}
	return nil
}

// GetCourier returns a defensive copy of the courier with the given id.
func (s *Store) GetCourier(id string) (domain.Courier, error) {
	entry, err := s.lookupCourier(id)
	if err != nil {
		return domain.Courier{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.data, nil
}

func (s *Store) lookupCourier(id string) (*courierEntry, error) {
	s.couriersMu.RLock()
	entry, ok := s.couriers[id]
	s.couriersMu.RUnlock()
	if !ok {
		return nil, domain.NotFoundError("courier", id)
	}
	return entry, nil
}

// ListCouriers returns a lock-free snapshot: a point-in-time copy of every
// courier, safe to score against outside any lock. The snapshot may be
// stale by the time a caller acts on it; TryCommitAssignment re-validates.
func (s *Store) ListCouriers() []domain.Courier {
	s.couriersMu.RLock()
	entries := make([]*courierEntry, 0, len(s.couriers))
	for _, entry := range s.couriers {
		entries = append(entries, entry)
	}
	s.couriersMu.RUnlock()

	snapshot := make([]domain.Courier, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		snapshot = append(snapshot, entry.data)
		entry.mu.Unlock()
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return snapshot
}

// PatchCourierStatus sets the courier's status under its entry lock.
func (s *Store) PatchCourierStatus(id string, status domain.CourierStatus) (domain.Courier, error) {
	if !status.Valid() {
		return domain.Courier{}, domain.ValidationError("unrecognized courier status")
	}
	entry, err := s.lookupCourier(id)
	if err != nil {
		return domain.Courier{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.data.Status = status
	return entry.data, nil
}

// PatchCourierLocation sets the courier's location under its entry lock.
func (s *Store) PatchCourierLocation(id string, loc domain.Location) (domain.Courier, error) {
	if !loc.Valid() {
		return domain.Courier{}, domain.ValidationError("courier location out of range")
	}
	entry, err := s.lookupCourier(id)
	if err != nil {
		return domain.Courier{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.data.Location = loc
	return entry.data, nil
}

// CreateOrder validates input and inserts the order with status=Pending,
// attempts=0. The caller (the ingress adapter) is responsible for
// enqueueing the returned order's id on the Order Queue; the order is
// observable as Pending before that enqueue succeeds.
func (s *Store) CreateOrder(input domain.OrderInput) (domain.Order, error) {
	if err := validateOrderInput(input); err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		Pickup:    input.Pickup,
		Dropoff:   input.Dropoff,
		Priority:  input.Priority,
		Status:    domain.OrderPending,
		CreatedAt: s.now(),
		Attempts:  0,
	}

	s.ordersMu.Lock()
	s.orders[order.ID] = &orderEntry{data: order}
	s.ordersMu.Unlock()

	return order, nil
}

func validateOrderInput(input domain.OrderInput) error {
	if !input.Pickup.Valid() || !input.Dropoff.Valid() {
		return domain.ValidationError("order pickup/dropoff location out of range")
	}
	if !input.Priority.Valid() {
		return domain.ValidationError("unrecognized order priority")
	}
	return nil
}

// GetOrder returns a defensive copy of the order with the given id.
func (s *Store) GetOrder(id string) (domain.Order, error) {
	entry, err := s.lookupOrder(id)
	if err != nil {
		return domain.Order{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.data, nil
}

func (s *Store) lookupOrder(id string) (*orderEntry, error) {
	s.ordersMu.RLock()
	entry, ok := s.orders[id]
	s.ordersMu.RUnlock()
	if !ok {
		return nil, domain.NotFoundError("order", id)
	}
	return entry, nil
}

// ListOrders returns a point-in-time copy of every order.
func (s *Store) ListOrders() []domain.Order {
	s.ordersMu.RLock()
	entries := make([]*orderEntry, 0, len(s.orders))
	for _, entry := range s.orders {
		entries = append(entries, entry)
	}
	s.ordersMu.RUnlock()

	snapshot := make([]domain.Order, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		snapshot = append(snapshot, entry.data)
		entry.mu.Unlock()
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return snapshot
}

// IncrementAttempts increments the order's attempts counter, called by the
// Engine every time it dequeues the order.
func (s *Store) IncrementAttempts(id string) (domain.Order, error) {
	entry, err := s.lookupOrder(id)
	if err != nil {
		return domain.Order{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.data.Attempts++
	return entry.data, nil
}

// MarkFailed transitions the order to Failed, called by the Engine once an
// order reaches MAX_ATTEMPTS with no eligible courier found, and by the
// admin force-fail endpoint.
func (s *Store) MarkFailed(id string) (domain.Order, error) {
	entry, err := s.lookupOrder(id)
	if err != nil {
		return domain.Order{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.data.Status = domain.OrderFailed
	return entry.data, nil
}

// TryCommitAssignment is the system's critical section. It acquires the
// courier entry lock, then the order entry lock (fixed global order,
// couriers-before-orders, to avoid deadlock), re-validates both against
// the latest state, and only then creates the Assignment and mutates
// courier.current_load and order.status. The re-reads are mandatory: the
// caller's scoring pass ran against a snapshot that may already be stale.
func (s *Store) TryCommitAssignment(orderID, courierID string, score float64) (domain.Assignment, error) {
	courierEntry, err := s.lookupCourier(courierID)
	if err != nil {
		return domain.Assignment{}, err
	}
	orderEntryRef, err := s.lookupOrder(orderID)
	if err != nil {
		return domain.Assignment{}, err
	}

	courierEntry.mu.Lock()
	defer courierEntry.mu.Unlock()
	orderEntryRef.mu.Lock()
	defer orderEntryRef.mu.Unlock()

	if courierEntry.data.Status != domain.CourierAvailable || courierEntry.data.CurrentLoad >= courierEntry.data.Capacity {
		return domain.Assignment{}, errors.Wrapf(domain.ErrCourierUnavailable, "courier %q", courierID)
	}
	if orderEntryRef.data.Status != domain.OrderPending {
		return domain.Assignment{}, errors.Wrapf(domain.ErrOrderNotPending, "order %q", orderID)
	}

	assignment := domain.Assignment{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		CourierID:  courierID,
		Score:      score,
		AssignedAt: s.now(),
	}

	orderEntryRef.data.Status = domain.OrderAssigned
	courierEntry.data.CurrentLoad++

	s.assignmentsMu.Lock()
	s.assignments = append(s.assignments, assignment)
	s.assignmentsMu.Unlock()

	return assignment, nil
}

// ListAssignments returns a point-in-time copy of every assignment ever
// committed, in commit order.
func (s *Store) ListAssignments() []domain.Assignment {
	s.assignmentsMu.Lock()
	defer s.assignmentsMu.Unlock()
	out := make([]domain.Assignment, len(s.assignments))
	copy(out, s.assignments)
	return out
}
