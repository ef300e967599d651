package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/ibkr-bridge/internal/events"
)

// eventsStreamHandler streams every event kind the core publishes over a
// single Server-Sent Events connection: per-connection buffered channel,
// optional type filter, heartbeat ticker, clean unsubscribe on client
// disconnect.
type eventsStreamHandler struct {
	bus *events.Bus
}

func (s *Server) newEventsStreamHandler() *eventsStreamHandler {
	return &eventsStreamHandler{bus: s.cfg.Bus}
}

var allEventTypes = []events.EventType{
	events.OrderStatus,
	events.Execution,
	events.Commission,
	events.Alert,
	events.Evaluation,
	events.Signal,
	events.SessionState,
	events.TunnelStatus,
	events.TrailingStopModified,
}

func (h *eventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	typesFilter := r.URL.Query().Get("types")
	var allowedTypes map[events.EventType]bool
	if typesFilter != "" {
		allowedTypes = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowedTypes[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	eventChan := make(chan *events.Event, 100)

	handler := func(evt *events.Event) {
		select {
		case eventChan <- evt:
		default:
			// Channel full: drop. The next event is authoritative for state,
			// so a dropped intermediate event is harmless.
		}
	}

	var unsubscribers []func()
	subscribeTo := allEventTypes
	if allowedTypes != nil {
		subscribeTo = make([]events.EventType, 0, len(allowedTypes))
		for t := range allowedTypes {
			subscribeTo = append(subscribeTo, t)
		}
	}
	for _, t := range subscribeTo {
		unsubscribers = append(unsubscribers, h.bus.Subscribe(t, handler))
	}
	defer func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}()

	fmt.Fprintf(w, "data: %s\n\n", encodeSSE(map[string]interface{}{"type": "connected"}))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt := <-eventChan:
			fmt.Fprintf(w, "data: %s\n\n", encodeSSE(map[string]interface{}{
				"seq":       evt.Seq,
				"type":      string(evt.Type),
				"timestamp": evt.Timestamp.Format(time.RFC3339),
				"data":      evt.Data,
			}))
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", encodeSSE(map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

func encodeSSE(v map[string]interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
