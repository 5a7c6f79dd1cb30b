package handler

import (
	"fmt"
	"net/http"
)

// Stream serves the order list as Server-Sent Events: once on connect, then
// whenever the hub redraws.
func (h *KdsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "stream_unsupported", "streaming unsupported")
		return
	}

	ch, unsubscribe := h.stream.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	h.log.Debug("stream_connected", map[string]any{"remote": r.RemoteAddr})
	defer h.log.Debug("stream_disconnected", map[string]any{"remote": r.RemoteAddr})

	data, err := h.stream.Snapshot(ctx)
	if err != nil {
		h.log.Error("stream_snapshot_failed", err, nil)
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
	} else {
		writeEvent(w, data)
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ch:
			if err := writeEvent(w, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "event: orders\ndata: %s\n\n", data)
	return err
}
