package stock

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Handler is the administrative stock surface: onboarding a product's
// ledger row, reading it, and the quantity override.
type Handler struct {
	repo   *Repository
	ledger *Ledger
}

func NewHandler(repo *Repository, ledger *Ledger) *Handler {
	return &Handler{repo: repo, ledger: ledger}
}

// Mount registers the routes on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /stocks", h.create)
	mux.HandleFunc("GET /stocks/{productId}", h.get)
	mux.HandleFunc("PUT /stocks/{productId}/quantity", h.setQuantity)
}

func productID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("productId"), 10, 64)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID int64 `json:"productId"`
		Quantity  int64 `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Quantity < 0 {
		http.Error(w, ErrStockChangeInvalid.Error(), http.StatusBadRequest)
		return
	}
	if err := h.repo.Create(r.Context(), req.ProductID, req.Quantity); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	s, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{
		"productId": s.ProductID,
		"total":     s.TotalQty,
		"held":      s.HeldQty,
		"available": s.Available(),
	})
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	var req struct {
		Quantity int64 `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	err = h.ledger.SetTotalQuantity(r.Context(), id, req.Quantity)
	switch {
	case errors.Is(err, ErrStockChangeInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
