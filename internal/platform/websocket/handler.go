package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
	reloadTimeout  = 5 * time.Second
)

// Handler upgrades HTTP connections and runs the per-connection pumps.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	loader   auth.IdentityLoader
	logger   zerolog.Logger
}

// NewHandler binds a handler to hub. Browser handshakes must come from one
// of allowedOrigins; requests without an Origin header are accepted.
func NewHandler(hub *Hub, allowedOrigins []string, logger zerolog.Logger) *Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allow[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allow[strings.ToLower(strings.TrimRight(origin, "/"))]
				return ok
			},
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// WithIdentityLoader makes the handler re-check the client's account before
// every subscribe.
func (h *Handler) WithIdentityLoader(loader auth.IdentityLoader) *Handler {
	h.loader = loader
	return h
}

// RegisterRoutes mounts GET /ws. mw should resolve the session without
// rejecting anonymous clients.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.GET("/ws", h.Connect, mw...)
}

// Connect upgrades the connection, greets the client and subscribes it to
// the topics its identity owns.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return nil
	}

	var identity *auth.Identity
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
		identity = &id
	}

	client := &Client{
		ID:       uuid.NewString(),
		Topics:   DefaultTopics(identity),
		Send:     make(chan []byte, sendBuffer),
		Identity: identity,
	}
	client.Send <- mustMarshal(ServerMessage{Type: "hello", Message: "connected"})

	h.hub.Register(client)
	h.logger.Debug().Str("client", client.ID).Strs("topics", client.Topics).Msg("client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		reply := ServerMessage{Type: "error", Message: "invalid message"}
		if err := json.Unmarshal(raw, &msg); err == nil {
			if msg.Action == "subscribe" && !h.stillValid(client) {
				return
			}
			reply = h.hub.ProcessMessage(client, msg)
		}
		h.trySend(client, reply)
	}
}

func (h *Handler) stillValid(client *Client) bool {
	if h.loader == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	return h.hub.revalidate(ctx, h.loader, client)
}

// trySend queues a reply unless the client is gone or backed up.
func (h *Handler) trySend(client *Client, msg ServerMessage) {
	defer func() {
		// Send may have been closed by Shutdown.
		_ = recover()
	}()
	select {
	case client.Send <- mustMarshal(msg):
	default:
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustMarshal(msg ServerMessage) []byte {
	b, _ := json.Marshal(msg)
	return b
}
