package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/api/response"
	"github.com/Rrens/secassist/internal/service"
	"github.com/Rrens/secassist/internal/session"
)

const (
	eventSnapshot = "snapshot"
	eventNotice   = "notice"

	keepAliveInterval = 25 * time.Second
)

// EventHub fans notices out to connected event streams. It implements
// service.Notifier; a full subscriber drops the notice.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan service.Notice]struct{}
}

var _ service.Notifier = (*EventHub)(nil)

// NewEventHub creates an empty hub
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan service.Notice]struct{})}
}

func (h *EventHub) Notify(n service.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (h *EventHub) subscribe() (<-chan service.Notice, func()) {
	ch := make(chan service.Notice, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// Events streams snapshots and notices as server-sent events. The store
// delivers the current snapshot first.
func Events(store *session.Store, hub *EventHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			response.InternalError(w, "streaming not supported")
			return
		}

		snapshots, unsubscribe := store.Subscribe(8)
		defer unsubscribe()
		notices, leave := hub.subscribe()
		defer leave()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			var err error
			select {
			case <-r.Context().Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				err = writeEvent(w, eventSnapshot, snap)
			case n := <-notices:
				err = writeEvent(w, eventNotice, n)
			case <-ticker.C:
				_, err = fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err != nil {
				log.Debug().Err(err).Msg("Event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
