package controller

import (
	"net/http"
	"strconv"

	"github.com/andresilva/courier/internal/application/delivery"
	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// OutboxController handles outbox-related HTTP requests.
type OutboxController struct {
	processor delivery.MessageProcessor
	registry  *delivery.Registry
	store     outbox.Store
}

// NewOutboxController creates a new OutboxController.
func NewOutboxController(
	processor delivery.MessageProcessor,
	registry *delivery.Registry,
	store outbox.Store,
) *OutboxController {
	return &OutboxController{
		processor: processor,
		registry:  registry,
		store:     store,
	}
}

// Enqueue handles POST /api/v1/outbox/messages
func (h *OutboxController) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	typeTag, ok := h.registry.TypeTag(req.MessageName)
	if !ok {
		writeError(w, domainErrors.ErrMessageTypeNotRegistered)
		return
	}
	msg, err := h.registry.Decode(typeTag, req.Payload)
	if err != nil {
		writeError(w, domainErrors.NewValidationError("payload", err.Error()))
		return
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey, _ = middleware.IdempotencyKeyFromContext(r.Context())
	}

	var resp *outbox.Response
	if idempotencyKey != "" {
		resp, err = h.processor.EnqueueWithKey(r.Context(), msg, idempotencyKey)
	} else {
		resp, err = h.processor.Enqueue(r.Context(), msg)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, FromResponse(resp))
}

// GetMessage handles GET /api/v1/outbox/messages/{id}
func (h *OutboxController) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	m, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if m == nil {
		writeError(w, domainErrors.ErrMessageNotFound)
		return
	}

	writeJSON(w, http.StatusOK, FromMessage(m))
}

// GetStatus handles GET /api/v1/outbox/messages/{id}/status
func (h *OutboxController) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	status, err := h.processor.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromStatus(id, status))
}

// UpdateStatus handles PUT /api/v1/outbox/messages/{id}/status
func (h *OutboxController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.processor.UpdateStatus(r.Context(), id, outbox.State(req.State), req.JobID, req.Content); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid outbox id", Code: "invalid_id"})
		return 0, false
	}
	return id, true
}
