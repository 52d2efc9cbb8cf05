package chat

import (
	"context"
	"log/slog"
)

// Hub tracks the live websocket clients of this instance so REST calls can
// reach the session a user has open. Run is the only goroutine that touches
// the client set.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	lookups    chan lookup
	done       chan struct{}
	logger     *slog.Logger
}

type lookup struct {
	userID string
	peerID string
	reply  chan *Client
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		lookups:    make(chan lookup),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				client.closeSend()
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("session opened", "user_id", client.UserID, "peer_id", client.PeerID, "sessions", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				h.logger.Info("session closed", "user_id", client.UserID, "peer_id", client.PeerID, "sessions", len(h.clients))
			}

		case l := <-h.lookups:
			var found *Client
			for client := range h.clients {
				if client.UserID == l.userID && client.PeerID == l.peerID {
					found = client
					break
				}
			}
			l.reply <- found
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Lookup returns a live client of userID looking at peerID, or nil.
func (h *Hub) Lookup(ctx context.Context, userID, peerID string) *Client {
	l := lookup{userID: userID, peerID: peerID, reply: make(chan *Client, 1)}
	select {
	case h.lookups <- l:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case c := <-l.reply:
		return c
	case <-ctx.Done():
		return nil
	}
}
