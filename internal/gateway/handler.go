package gateway

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/audit"
	"github.com/openclaw/realtime-server-go/internal/config"
)

// Handler upgrades /v1/ws requests and runs one connection per request.
type Handler struct {
	upgrader   websocket.Upgrader
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher, allowedOrigins []string) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		dispatcher: dispatcher,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(ws, audit.ClientIP(r))
	log.Info().
		Str("sessionId", conn.ID()).
		Str("ip", conn.RemoteIP()).
		Msg("websocket connection established")

	go conn.writeLoop()

	conn.readLoop(context.Background(), func(ctx context.Context, raw []byte) {
		h.dispatcher.Dispatch(ctx, conn, raw)
	})
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.EventTimeout)
	defer cancel()
	h.dispatcher.Disconnect(ctx, conn)

	log.Info().
		Str("sessionId", conn.ID()).
		Str("userId", conn.UserID()).
		Msg("websocket connection closed")
}

// checkOrigin accepts any origin when the allow list is empty. Requests
// without an Origin header come from non-browser clients and are accepted.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set[origin] {
			return true
		}
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventOriginRejected,
			Details: map[string]interface{}{"origin": origin},
		})
		return false
	}
}
