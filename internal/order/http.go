package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/daran2/deliver-anything/internal/event"
)

// Handler is the synchronous order surface. It only acknowledges that work
// was accepted; saga outcomes reach the caller later as notifications,
// never as an error on these requests.
type Handler struct {
	service *Service
	bus     Publisher
}

func NewHandler(service *Service, bus Publisher) *Handler {
	return &Handler{service: service, bus: bus}
}

// Mount registers the routes on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", h.create)
	mux.HandleFunc("GET /orders/{id}", h.get)
	mux.HandleFunc("POST /orders/{id}/payment-succeeded", h.paymentSucceeded)
	mux.HandleFunc("POST /orders/{id}/payment-failed", h.paymentFailed)
	mux.HandleFunc("POST /orders/{id}/cancel", h.cancel)
	mux.HandleFunc("POST /orders/{id}/assign", h.assign)
	mux.HandleFunc("POST /orders/{id}/pickup", h.pickup)
	mux.HandleFunc("POST /orders/{id}/delivered", h.delivered)
}

type createRequest struct {
	CustomerID string `json:"customerId"`
	StoreID    string `json:"storeId"`
	OwnerID    string `json:"ownerId"`
	Items      []struct {
		ProductID   int64  `json:"productId"`
		ProductName string `json:"productName"`
		Quantity    int64  `json:"quantity"`
		Price       int64  `json:"price"`
	} `json:"items"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	in := CreateInput{
		CustomerID: req.CustomerID,
		StoreID:    req.StoreID,
		OwnerID:    req.OwnerID,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.Price,
		})
	}
	o, err := h.service.Create(r.Context(), in)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"orderId": o.ID,
		"status":  o.Status,
		"total":   o.TotalPrice,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"orderId": o.ID,
		"status":  o.Status,
		"total":   o.TotalPrice,
		"updated": o.UpdatedUnix,
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) paymentSucceeded(w http.ResponseWriter, r *http.Request) {
	h.accept(w, h.service.PaymentSucceeded(r.Context(), r.PathValue("id")))
}

func (h *Handler) paymentFailed(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.accept(w, h.service.PaymentFailed(r.Context(), r.PathValue("id"), req.Reason))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.accept(w, h.service.Cancel(r.Context(), r.PathValue("id"), req.Reason))
}

type riderRequest struct {
	RiderID string `json:"riderId"`
}

// assign, pickup and delivered bridge the delivery subsystem's decisions
// onto the bus.
func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	h.publishDelivery(w, r, event.TopicOrderAssigned)
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	h.publishDelivery(w, r, event.TopicOrderPickupSucceeded)
}

func (h *Handler) delivered(w http.ResponseWriter, r *http.Request) {
	h.publishDelivery(w, r, event.TopicOrderDeliverSucceeded)
}

func (h *Handler) publishDelivery(w http.ResponseWriter, r *http.Request, topic string) {
	var req riderRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	payload := event.DeliveryPayload{OrderID: r.PathValue("id"), RiderID: req.RiderID}
	h.accept(w, h.bus.Publish(r.Context(), topic, payload))
}

func (h *Handler) accept(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("order: request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
