package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.openly.dev/pointy"

	"github.com/autorenta/p2p-reconciler/internal/entities"
	"github.com/autorenta/p2p-reconciler/internal/safety"
)

const defaultListLimit = 50

// RecordStore is the slice of the idempotency store the ops surface needs:
// inspection plus the out-of-band manual recovery path.
type RecordStore interface {
	Get(ctx context.Context, orderID string) (entities.ProcessingRecord, error)
	List(ctx context.Context, limit int) ([]entities.ProcessingRecord, error)
	ResolveManually(ctx context.Context, orderID, note string) error
}

// HTTPHandler exposes the read-mostly audit API. There is no interactive UI:
// operators inspect records, limiter usage, and held locks here and in the
// logs.
type HTTPHandler struct {
	logger  *slog.Logger
	records RecordStore
	limiter *safety.TransferRateLimiter
	locks   *safety.OrderProcessingLock
}

func NewHTTPHandler(logger *slog.Logger, records RecordStore, limiter *safety.TransferRateLimiter, locks *safety.OrderProcessingLock) *HTTPHandler {
	return &HTTPHandler{logger: logger, records: records, limiter: limiter, locks: locks}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/records", h.ListRecords).Methods("GET")
	router.HandleFunc("/records/{orderId}", h.GetRecord).Methods("GET")
	router.HandleFunc("/records/{orderId}/resolve", h.ResolveRecord).Methods("POST")
	router.HandleFunc("/limits", h.GetLimits).Methods("GET")
	router.HandleFunc("/locks", h.GetLocks).Methods("GET")
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// recordResponse mirrors ProcessingRecord with empty optionals omitted.
type recordResponse struct {
	OrderID       string    `json:"order_id"`
	Flow          string    `json:"flow"`
	State         string    `json:"state"`
	AttemptCount  int       `json:"attempt_count"`
	ManualReview  bool      `json:"manual_review"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	ResultNote    *string   `json:"result_note,omitempty"`
}

func toRecordResponse(rec entities.ProcessingRecord) recordResponse {
	resp := recordResponse{
		OrderID:       rec.OrderID,
		Flow:          string(rec.Flow),
		State:         string(rec.State),
		AttemptCount:  rec.AttemptCount,
		ManualReview:  rec.ManualReview,
		FirstSeenAt:   rec.FirstSeenAt,
		LastUpdatedAt: rec.LastUpdatedAt,
	}
	if rec.ResultNote != "" {
		resp.ResultNote = pointy.String(rec.ResultNote)
	}
	return resp
}

func (h *HTTPHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if param := r.URL.Query().Get("limit"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.records.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list records", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	h.writeJSON(w, out)
}

func (h *HTTPHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	rec, err := h.records.Get(r.Context(), orderID)
	if errors.Is(err, entities.ErrNotFound) {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get record", "order_id", orderID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toRecordResponse(rec))
}

type resolveRequest struct {
	Note string `json:"note"`
}

// ResolveRecord marks an order as settled out-of-band. This is the manual
// recovery path for orders a human paid or cancelled outside the daemon.
func (h *HTTPHandler) ResolveRecord(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Note == "" {
		http.Error(w, "note is required for manual resolution", http.StatusBadRequest)
		return
	}

	err := h.records.ResolveManually(r.Context(), orderID, "manual: "+req.Note)
	switch {
	case errors.Is(err, entities.ErrNotFound):
		http.Error(w, "record not found", http.StatusNotFound)
		return
	case errors.Is(err, entities.ErrConflict):
		http.Error(w, "record already succeeded", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("failed to resolve record", "order_id", orderID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("record resolved manually", "order_id", orderID, "note", req.Note)
	h.writeJSON(w, map[string]string{"status": "resolved"})
}

func (h *HTTPHandler) GetLimits(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, h.limiter.Usage())
}

func (h *HTTPHandler) GetLocks(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, map[string][]string{"held": h.locks.Held()})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
