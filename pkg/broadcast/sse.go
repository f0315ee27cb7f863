package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
)

// SSEHandler streams events as Server-Sent Events.
type SSEHandler struct {
	broadcaster *Broadcaster
	log         *logging.Logger
}

// NewSSEHandler creates an SSE endpoint over b.
func NewSSEHandler(b *Broadcaster, log *logging.Logger) *SSEHandler {
	if log == nil {
		log = logging.Nop()
	}
	return &SSEHandler{broadcaster: b, log: log}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.broadcaster.Subscribe("sse")
	defer h.broadcaster.Unsubscribe(sub.ID())

	rc := http.NewResponseController(w)
	ctx := r.Context()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Errorf("failed to marshal SSE event %s: %v", ev.Type, err)
			continue
		}

		_ = rc.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			h.log.Debugf("SSE write failed: subscriber=%s err=%v", sub.ID(), err)
			return
		}
		flusher.Flush()
	}
}
