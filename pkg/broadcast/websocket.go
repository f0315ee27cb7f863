package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
)

const (
	// WriteTimeout bounds a single write to a subscriber connection.
	WriteTimeout = 2 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 70 * time.Second
)

// WebSocketHandler upgrades dashboard connections and streams events as
// {"event": ..., "data": ..., "timestamp": ...} JSON frames.
type WebSocketHandler struct {
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
	log            *logging.Logger
}

// NewWebSocketHandler creates the handler. An empty origin list accepts every origin.
func NewWebSocketHandler(b *Broadcaster, allowedOrigins []string, log *logging.Logger) *WebSocketHandler {
	if log == nil {
		log = logging.Nop()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	h := &WebSocketHandler{broadcaster: b, allowedOrigins: origins, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.broadcaster.Subscribe("websocket")
	defer h.broadcaster.Unsubscribe(sub.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Inbound frames are ignored; reading drives pong handling and close detection.
	go func() {
		defer cancel()
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debugf("websocket closed unexpectedly: subscriber=%s err=%v", sub.ID(), err)
				}
				return
			}
		}
	}()

	go keepAlive(ctx, conn)

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Debugf("websocket write failed: subscriber=%s err=%v", sub.ID(), err)
			return
		}
	}
}

// keepAlive pings until ctx ends. WriteControl may run concurrently with WriteJSON.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
				return
			}
		}
	}
}
