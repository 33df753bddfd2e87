// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tsplay/internal/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendQueue  = 16
)

// WSMessage is one frame pushed to status subscribers.
type WSMessage struct {
	Type string `json:"type"` // "status" or "notice"
	Data any    `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans frames out to websocket clients. Slow clients are dropped.
type hub struct {
	clients    map[*wsClient]struct{}
	frames     chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	logger     zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		clients:    make(map[*wsClient]struct{}),
		frames:     make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug().Str(log.FieldEvent, "api.ws_connected").Int("clients", len(h.clients)).Msg("status subscriber connected")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug().Str(log.FieldEvent, "api.ws_disconnected").Int("clients", len(h.clients)).Msg("status subscriber left")
			}
		case frame := <-h.frames:
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

func (h *hub) broadcast(kind string, data any) {
	frame, err := json.Marshal(WSMessage{Type: kind, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Msg("ws marshal failed")
		return
	}
	select {
	case h.frames <- frame:
	default:
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStatusWS upgrades to a websocket that receives the current status
// at once, then periodic status frames and every notice.
func (h *Handler) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendQueue)}
	if first, err := json.Marshal(WSMessage{Type: "status", Data: h.ctl.Status()}); err == nil {
		c.send <- first
	}

	select {
	case h.hub.register <- c:
	case <-h.hub.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump(h.hub)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and notices disconnects.
func (c *wsClient) readPump(h *hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
