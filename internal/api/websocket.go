package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"piano/internal/identity"
	"piano/internal/metrics"
	"piano/internal/ws"
)

type WebSocketHandler struct {
	registry *ws.Registry
	resolver *ClientIPResolver
	ids      *identity.Service
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWebSocketHandler(
	registry *ws.Registry,
	resolver *ClientIPResolver,
	ids *identity.Service,
	m *metrics.Metrics,
	allowedOrigins []string,
) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		resolver: resolver,
		ids:      ids,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return originAllowed(origin, allowedOrigins)
			},
		},
		log: slog.With("component", "api"),
	}
}

// ServeWS upgrades the request and binds the connection to the IP-derived
// client id. Two tabs from the same address share that id; the newer
// connection takes over the outbound sink.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	addr := "unknown"
	if ip := h.resolver.Resolve(r); ip != nil {
		addr = ip.String()
	}
	cid := h.ids.ClientID(addr)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.registry.EnsureClient(cid, cid)
	sink := ws.NewSink()
	h.registry.RegisterSender(cid, sink)
	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ConnectionsActive.Inc()
	h.log.Info("connection opened", "cid", cid)

	client := ws.NewClient(h.registry, conn, sink, cid)
	go client.WritePump()
	go client.ReadPump()
}
