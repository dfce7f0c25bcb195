package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler exposes the stream endpoint and the notification reads. The SSE
// event names and ids are contract; the JSON of the REST reads is not.
type Handler struct {
	service   *Service
	registry  *Registry
	heartbeat time.Duration
}

func NewHandler(service *Service, registry *Registry, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Handler{service: service, registry: registry, heartbeat: heartbeat}
}

// Mount registers the routes on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /notifications/stream", h.stream)
	mux.HandleFunc("GET /notifications", h.list)
	mux.HandleFunc("GET /notifications/unread-count", h.unreadCount)
	mux.HandleFunc("POST /notifications/{id}/read", h.markRead)
	mux.HandleFunc("POST /notifications/switch-profile", h.switchProfile)
	mux.HandleFunc("POST /notifications/logout", h.logout)
}

func session(r *http.Request) (profileID, deviceID string) {
	q := r.URL.Query()
	return q.Get("profileId"), q.Get("deviceId")
}

// stream holds one SSE connection per active device session. Reconnecting
// re-registers the same (profile, device) pair and supersedes the old
// stream.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	profileID, deviceID := session(r)
	if profileID == "" || deviceID == "" {
		http.Error(w, "profileId and deviceId required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	em, err := NewSSEEmitter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.registry.Put(profileID, deviceID, em)
	log.Info().Str("profile", profileID).Str("device", deviceID).Msg("stream: connected")
	_ = em.Comment("connected")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			// evict by identity: the entry may have been superseded by a
			// newer stream or re-homed to another profile by a switch
			h.registry.Evict(em)
			em.Close()
			log.Info().Str("profile", profileID).Str("device", deviceID).Msg("stream: disconnected")
			return
		case <-em.Done():
			return
		case <-ticker.C:
			if err := em.Comment("ping"); err != nil {
				h.registry.Evict(em)
				em.Close()
				return
			}
		}
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	profileID, _ := session(r)
	if profileID == "" {
		http.Error(w, "profileId required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.List(r.Context(), profileID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"notifications": items})
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	profileID, _ := session(r)
	if profileID == "" {
		http.Error(w, "profileId required", http.StatusBadRequest)
		return
	}
	n, err := h.service.UnreadCount(r.Context(), profileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int64{"unreadCount": n})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	profileID, _ := session(r)
	id := r.PathValue("id")
	if profileID == "" || id == "" {
		http.Error(w, "profileId and id required", http.StatusBadRequest)
		return
	}
	err := h.service.MarkAsRead(r.Context(), id, profileID)
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotRecipient):
		http.Error(w, err.Error(), http.StatusForbidden)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// switchProfile re-homes the device's live stream when the user changes
// active role, e.g. customer to rider.
func (h *Handler) switchProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldProfileID string `json:"oldProfileId"`
		NewProfileID string `json:"newProfileId"`
		DeviceID     string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.OldProfileID == "" || req.NewProfileID == "" || req.DeviceID == "" {
		http.Error(w, "oldProfileId, newProfileId and deviceId required", http.StatusBadRequest)
		return
	}
	if !h.registry.Move(req.OldProfileID, req.NewProfileID, req.DeviceID) {
		http.Error(w, "no live stream for session", http.StatusNotFound)
		return
	}
	log.Info().Str("from", req.OldProfileID).Str("to", req.NewProfileID).
		Str("device", req.DeviceID).Msg("stream: profile switched")
	w.WriteHeader(http.StatusNoContent)
}

// logout tears down exactly the one session of the terminated device.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	profileID, deviceID := session(r)
	if profileID == "" || deviceID == "" {
		http.Error(w, "profileId and deviceId required", http.StatusBadRequest)
		return
	}
	if em, ok := h.registry.Remove(profileID, deviceID); ok {
		em.Close()
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("notification: write response")
	}
}
