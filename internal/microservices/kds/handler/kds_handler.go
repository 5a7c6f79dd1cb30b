package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/microservices/kds/models"
	"coffee-kds/internal/microservices/kds/repository"
	"coffee-kds/internal/microservices/kds/scheduler"
	"coffee-kds/internal/microservices/kds/service"
)

type KdsHandler struct {
	display service.DisplayServiceInterface
	poller  Poller
	stream  Streamer
	checks  map[string]Pinger
	log     *logger.Logger
}

func NewKdsHandler(display service.DisplayServiceInterface, poller Poller, stream Streamer, checks map[string]Pinger, log *logger.Logger) *KdsHandler {
	return &KdsHandler{display: display, poller: poller, stream: stream, checks: checks, log: log}
}

type statusRequest struct {
	Status    string `json:"status"`
	ChangedBy string `json:"changed_by"`
}

func (h *KdsHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.display.CurrentOrders(r.Context())
	if err != nil {
		h.log.Error("list_orders_failed", err, nil)
		writeProblem(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "timestamp": time.Now().UTC()})
}

func (h *KdsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", "body must be {\"status\": \"...\"}")
		return
	}

	order, changed, err := h.display.SetStatus(r.Context(), id, req.Status, req.ChangedBy)
	switch {
	case errors.Is(err, models.ErrInvalidStatus):
		writeProblem(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, repository.ErrOrderNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, models.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "invalid_transition", err.Error())
	case err != nil:
		h.log.Error("update_status_failed", err, map[string]any{"kds_order_id": id})
		writeProblem(w, http.StatusInternalServerError, "db_error", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "changed": changed, "order": order})
	}
}

func (h *KdsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	events, err := h.display.Timeline(r.Context(), id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		writeProblem(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "events": events})
}

// Poll runs an ingestion cycle now instead of waiting for the scheduler.
func (h *KdsHandler) Poll(w http.ResponseWriter, r *http.Request) {
	rep, err := h.poller.RunOnce(r.Context())
	if errors.Is(err, scheduler.ErrLockBusy) {
		writeProblem(w, http.StatusConflict, "busy", err.Error())
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "ingest_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": rep})
}

func (h *KdsHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := h.display.ClearCompleted(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func (h *KdsHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.display.ClearAll(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func (h *KdsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": checks})
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(param(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "bad_request", "order id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem — единый формат ошибок (RFC7807 Problem+JSON, упрощённый)
func writeProblem(w http.ResponseWriter, code int, typ, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

func param(r *http.Request, key string) string {
	return r.PathValue(key)
}
