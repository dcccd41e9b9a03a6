package server

import (
	"fmt"
	"net/http"
)

// eventWriter writes Server-Sent Events, flushing after each one.
type eventWriter struct {
	w       http.ResponseWriter
	flusher *http.ResponseController
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	e := &eventWriter{w: w, flusher: http.NewResponseController(w)}
	// Send the headers now so clients see the stream open before the
	// first event.
	_ = e.flusher.Flush()
	return e
}

func (e *eventWriter) send(data []byte) error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return e.flusher.Flush()
}
