package server

import (
	"context"

	"log/slog"

	"github.com/gorilla/websocket"
)

// hub fans messages out to every connected websocket client. All client
// state is owned by the run goroutine.
type hub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		log:        logger,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

func (h *hub) run(ctx context.Context) {
	defer func() {
		for client := range h.clients {
			client.Close()
		}
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}

// add registers conn; false once the hub has stopped.
func (h *hub) add(conn *websocket.Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) remove(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

func (h *hub) publish(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		h.log.Warn("websocket broadcast buffer full, dropping message")
	}
}
