package handler

import "net/http"

func Router(h *Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /kds/orders", h.KdsHandler.ListOrders)
	mux.HandleFunc("POST /kds/orders/{id}/status", h.KdsHandler.UpdateStatus)
	mux.HandleFunc("GET /kds/orders/{id}/timeline", h.KdsHandler.Timeline)
	mux.HandleFunc("POST /kds/poll", h.KdsHandler.Poll)
	mux.HandleFunc("GET /kds/stream", h.KdsHandler.Stream)
	mux.HandleFunc("POST /kds/clear-completed", h.KdsHandler.ClearCompleted)
	mux.HandleFunc("POST /kds/clear-all", h.KdsHandler.ClearAll)
	mux.HandleFunc("GET /healthz", h.KdsHandler.Health)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}
