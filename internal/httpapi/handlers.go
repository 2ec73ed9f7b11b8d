// Package httpapi is the REST ingress adapter: a thin net/http translation
// of the courier/order/assignment contract onto JSON endpoints. It holds no
// core invariants of its own; validation failures, not-found lookups, and
// a full Order Queue are translated from the Store/Engine's sentinel
// errors into HTTP status codes.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"fleetroute/dispatch/internal/domain"
	"fleetroute/dispatch/internal/logging"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Store is the subset of *store.Store the REST adapter depends on.
type Store interface {
	CreateCourier(input domain.CourierInput) (domain.Courier, error)
	GetCourier(id string) (domain.Courier, error)
	ListCouriers() []domain.Courier
	PatchCourierStatus(id string, status domain.CourierStatus) (domain.Courier, error)
	PatchCourierLocation(id string, loc domain.Location) (domain.Courier, error)
	CreateOrder(input domain.OrderInput) (domain.Order, error)
	GetOrder(id string) (domain.Order, error)
	ListOrders() []domain.Order
	ListAssignments() []domain.Assignment
	MarkFailed(id string) (domain.Order, error)
}

// OrderQueue is the subset of *queue.OrderQueue the REST adapter depends
// on to enqueue newly created orders.
type OrderQueue interface {
	Enqueue(ctx context.Context, orderID string) error
}

// ReadinessProvider exposes service state required for readiness checks.
type ReadinessProvider interface {
	Uptime() time.Duration
}

// RateLimiter gates how frequently a keyed caller may invoke a sensitive
// operation, independently of every other key.
type RateLimiter interface {
	Allow(key string) bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger              *logging.Logger
	Store               Store
	Queue               OrderQueue
	EnqueueDeadline     time.Duration
	AdminToken          string
	Readiness           ReadinessProvider
	MetricsHandler      http.Handler
	TimeSource          func() time.Time
	AdminRateLimit      RateLimiter
	LocationUpdateRate  rate.Limit
	LocationUpdateBurst int
}

// HandlerSet bundles the dispatch service's REST handlers.
type HandlerSet struct {
	logger          *logging.Logger
	store           Store
	queue           OrderQueue
	enqueueDeadline time.Duration
	adminToken      string
	readiness       ReadinessProvider
	metricsHandler  http.Handler
	now             func() time.Time
	adminRateLimit  RateLimiter

	locationRate  rate.Limit
	locationBurst int
	locationMu    sync.Mutex
	locationLimit map[string]*rate.Limiter
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	deadline := opts.EnqueueDeadline
	if deadline <= 0 {
		deadline = 250 * time.Millisecond
	}
	locationRate := opts.LocationUpdateRate
	if locationRate <= 0 {
		locationRate = 5 // at most 5 location updates per second per courier
	}
	locationBurst := opts.LocationUpdateBurst
	if locationBurst <= 0 {
		locationBurst = 10
	}
	return &HandlerSet{
		logger:          logger,
		store:           opts.Store,
		queue:           opts.Queue,
		enqueueDeadline: deadline,
		adminToken:      strings.TrimSpace(opts.AdminToken),
		readiness:       opts.Readiness,
		metricsHandler:  opts.MetricsHandler,
		now:             now,
		adminRateLimit:  opts.AdminRateLimit,
		locationRate:    locationRate,
		locationBurst:   locationBurst,
		locationLimit:   make(map[string]*rate.Limiter),
	}
}

// locationLogInterval bounds how often an accepted location update is
// logged per courier; the rate limiter already bounds how often one is
// accepted, but even an allowed cadence is too noisy to log every line.
const locationLogInterval = 30 * time.Second

// limiterFor returns the per-courier token-bucket limiter that throttles
// GPS location update bursts from a single courier's device, creating one
// lazily on first use.
func (h *HandlerSet) limiterFor(courierID string) *rate.Limiter {
	h.locationMu.Lock()
	defer h.locationMu.Unlock()
	limiter, ok := h.locationLimit[courierID]
	if !ok {
		limiter = rate.NewLimiter(h.locationRate, h.locationBurst)
		h.locationLimit[courierID] = limiter
	}
	return limiter
}

// Register attaches every handler to mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /couriers", h.CreateCourierHandler())
	mux.HandleFunc("GET /couriers", h.ListCouriersHandler())
	mux.HandleFunc("GET /couriers/{id}", h.GetCourierHandler())
	mux.HandleFunc("PATCH /couriers/{id}/status", h.PatchCourierStatusHandler())
	mux.HandleFunc("PATCH /couriers/{id}/location", h.PatchCourierLocationHandler())
	mux.HandleFunc("POST /orders", h.CreateOrderHandler())
	mux.HandleFunc("GET /orders", h.ListOrdersHandler())
	mux.HandleFunc("GET /orders/{id}", h.GetOrderHandler())
	mux.HandleFunc("GET /assignments", h.ListAssignmentsHandler())
	mux.HandleFunc("GET /healthz", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
	mux.HandleFunc("POST /admin/orders/{id}/fail", h.ForceFailOrderHandler())
	if h.metricsHandler != nil {
		mux.Handle("GET /metrics", h.metricsHandler)
	}
}

// ForceFailOrderHandler handles POST /admin/orders/{id}/fail, an
// admin-token-gated operational override for abandoning an order that
// operators have determined will never find a courier. This gates
// privileged administrative mutation, not end-user authentication.
func (h *HandlerSet) ForceFailOrderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorise(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if h.adminRateLimit != nil && !h.adminRateLimit.Allow(adminCallerKey(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		order, err := h.store.MarkFailed(r.PathValue("id"))
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// CreateCourierHandler handles POST /couriers.
func (h *HandlerSet) CreateCourierHandler() http.HandlerFunc {
	type request struct {
		Name     string          `json:"name"`
		Location domain.Location `json:"location"`
		Capacity int             `json:"capacity"`
		Rating   float64         `json:"rating"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
		courier, err := h.store.CreateCourier(domain.CourierInput{
			Name:     req.Name,
			Location: req.Location,
			Capacity: req.Capacity,
			Rating:   req.Rating,
		})
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, courier)
	}
}

// ListCouriersHandler handles GET /couriers.
func (h *HandlerSet) ListCouriersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.store.ListCouriers())
	}
}

// GetCourierHandler handles GET /couriers/{id}.
func (h *HandlerSet) GetCourierHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courier, err := h.store.GetCourier(r.PathValue("id"))
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, courier)
	}
}

// PatchCourierStatusHandler handles PATCH /couriers/{id}/status.
func (h *HandlerSet) PatchCourierStatusHandler() http.HandlerFunc {
	type request struct {
		Status domain.CourierStatus `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
		courier, err := h.store.PatchCourierStatus(r.PathValue("id"), req.Status)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, courier)
	}
}

// PatchCourierLocationHandler handles PATCH /couriers/{id}/location. GPS
// clients can resend positions far faster than the dispatch loop consumes
// them, so each courier is throttled independently before the update
// reaches the Store.
func (h *HandlerSet) PatchCourierLocationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !h.limiterFor(id).Allow() {
			writeError(w, http.StatusTooManyRequests, "too many location updates")
			return
		}
		var loc domain.Location
		if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
		courier, err := h.store.PatchCourierLocation(id, loc)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		h.logger.Throttled("location:"+id, locationLogInterval, logging.InfoLevel,
			"courier location updated", logging.String("courier_id", id))
		writeJSON(w, http.StatusOK, courier)
	}
}

// CreateOrderHandler handles POST /orders. It creates the order in the
// Store and then enqueues it on the Order Queue; if the queue is full and
// stays full past EnqueueDeadline, it surfaces a 503 even though the order
// already exists as Pending — creation and enqueue look atomic to the
// caller, but blocking backpressure on the queue is the real contract.
func (h *HandlerSet) CreateOrderHandler() http.HandlerFunc {
	type request struct {
		Pickup   domain.Location      `json:"pickup"`
		Dropoff  domain.Location      `json:"dropoff"`
		Priority domain.OrderPriority `json:"priority"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
		order, err := h.store.CreateOrder(domain.OrderInput{
			Pickup:   req.Pickup,
			Dropoff:  req.Dropoff,
			Priority: req.Priority,
		})
		if err != nil {
			h.writeStoreError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.enqueueDeadline)
		defer cancel()
		if err := h.queue.Enqueue(ctx, order.ID); err != nil {
			h.logger.Warn("order enqueue deadline exceeded", logging.String("order_id", order.ID))
			writeError(w, http.StatusServiceUnavailable, "order queue is full")
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

// ListOrdersHandler handles GET /orders.
func (h *HandlerSet) ListOrdersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.store.ListOrders())
	}
}

// GetOrderHandler handles GET /orders/{id}.
func (h *HandlerSet) GetOrderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := h.store.GetOrder(r.PathValue("id"))
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// ListAssignmentsHandler handles GET /assignments.
func (h *HandlerSet) ListAssignmentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.store.ListAssignments())
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports service readiness.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *HandlerSet) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, errors.Cause(err).Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("unexpected store error", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// authorise checks the admin bearer token gating privileged endpoints.
// This is ambient operational security, not end-user authentication: it
// gates administrative mutation, not the courier/order/assignment API.
func (h *HandlerSet) authorise(r *http.Request) bool {
	if h.adminToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

// adminCallerKey identifies the caller a privileged request's rate limit is
// keyed on: the remote address with its port stripped, so one operator
// hammering the endpoint from many ports doesn't exhaust another
// operator's quota and vice versa.
func adminCallerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: message})
}
