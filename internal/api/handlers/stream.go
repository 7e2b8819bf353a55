package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

const (
	streamBuffer = 16
	writeWait    = 10 * time.Second
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub pushes every recorded round to the connected websocket clients.
// Slow clients miss rounds rather than blocking the trainer.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan models.RoundSummary
	closed  bool
}

var _ ports.RoundRecorder = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan models.RoundSummary),
	}
}

// ServeWS upgrades the request and streams rounds until the client leaves
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("websocket")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Upgrade failed")
		return
	}

	ch := make(chan models.RoundSummary, streamBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = ch
	h.mu.Unlock()
	log.Debug().Str("remote_addr", r.RemoteAddr).Msg("Stream client connected")

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("Connection closed")
				}
				h.remove(conn)
				return
			}
		}
	}()

	for summary := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(WSMessage{Type: "round", Payload: summary}); err != nil {
			log.Debug().Err(err).Int("round", summary.Round).Msg("Round send failed")
			h.remove(conn)
			break
		}
	}
	conn.Close()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
}

func (h *Hub) RecordRound(ctx context.Context, summary models.RoundSummary) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- summary:
		default:
			log := logger.WithComponent("websocket")
			log.Warn().
				Str("remote_addr", conn.RemoteAddr().String()).
				Int("round", summary.Round).
				Msg("Stream client too slow, round dropped")
		}
	}
	return nil
}

// Clients returns the number of connected stream clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn, ch := range h.clients {
		delete(h.clients, conn)
		close(ch)
	}
}
