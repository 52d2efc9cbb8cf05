package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ephemeral-chat/internal/attachment"
	"ephemeral-chat/internal/composer"
	"ephemeral-chat/internal/conversation"
	"ephemeral-chat/internal/session"
	appErrors "ephemeral-chat/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Client is the middleman between one websocket connection and the
// conversation session it drives.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *session.Session
	logger  *slog.Logger

	UserID string
	PeerID string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, userID, peerID string, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		UserID: userID,
		PeerID: peerID,
		logger: logger.With("user_id", userID, "peer_id", peerID),
		send:   make(chan []byte, sendBuffer),
	}
}

// observer routes session output to the browser.
func (c *Client) observer() session.Observer {
	return session.Observer{
		Messages: func(views []conversation.View) {
			if views == nil {
				views = []conversation.View{}
			}
			c.push(Event{Type: EvtMessages, Messages: views})
		},
		Attachment: func(a attachment.Attachment) {
			c.push(Event{Type: EvtAttachment, Attachment: &a})
		},
		Draft: func(s composer.State) {
			c.push(Event{Type: EvtDraft, Draft: &s})
		},
	}
}

// push queues an event. Events for a client that cannot keep up are dropped;
// the next messages event carries the full list again.
func (c *Client) push(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		c.logger.Error("event encoding failed", "type", evt.Type, "err", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("client send buffer full, dropping event", "type", evt.Type)
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump turns browser frames into session commands until the connection
// drops, then closes the session.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.session.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "err", err)
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if _, err := c.session.Recorder().Write(data); err != nil {
				c.push(errorEvent(appErrors.ErrNotRecording))
			}
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.push(errorEvent(appErrors.Validation("malformed command")))
			continue
		}
		if err := c.handle(context.Background(), cmd); err != nil {
			c.push(errorEvent(err))
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) error {
	comp := c.session.Composer()
	switch cmd.Type {
	case CmdDraft:
		comp.SetDraftText(cmd.Text)
	case CmdSelfDestruct:
		if cmd.Seconds != 0 {
			comp.SetSelfDestructSeconds(cmd.Seconds)
		}
		comp.ToggleSelfDestruct(cmd.Enabled)
	case CmdSend:
		sent, err := c.session.Send(ctx)
		if len(sent) > 0 {
			c.push(Event{Type: EvtSent, Sent: sent})
		}
		return err
	case CmdMarkRead:
		n, err := c.session.MarkRead(ctx)
		if err != nil {
			return err
		}
		c.push(Event{Type: EvtRead, Updated: n})
	case CmdRecordStart:
		return comp.StartRecording(ctx)
	case CmdRecordStop:
		_, err := comp.StopRecording(ctx)
		return err
	case CmdRemoveAttachment:
		return comp.RemoveAttachment(cmd.AttachmentID)
	case CmdMoveAttachment:
		return comp.MoveAttachment(cmd.AttachmentID, cmd.Delta)
	case CmdCaption:
		return comp.SetCaption(cmd.AttachmentID, cmd.Text)
	default:
		return appErrors.Validation("unknown command " + string(cmd.Type))
	}
	return nil
}

// WritePump drains queued events to the connection and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One JSON event per frame.
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
