package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one authenticated WebSocket session. Events from its read loop
// are handled sequentially, which is what preserves per-sender ordering
// within a conversation.
type Client struct {
	UserID      uuid.UUID
	FullName    string
	Role        string
	ConnectedAt time.Time

	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, identity *Identity) *Client {
	return &Client{
		UserID:      identity.UserID,
		FullName:    identity.FullName,
		Role:        identity.Role,
		ConnectedAt: time.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump. A full buffer means a stalled
// consumer; the frame is dropped rather than blocking the caller, since message
// durability comes from the persisted row, not the broadcast. The send
// channel is never closed, so enqueue is safe against a concurrent shutdown.
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Dropping event for slow client %s", c.UserID)
	}
}

func (c *Client) deliver(event string, payload interface{}) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		log.Printf("Failed to marshal %s event for client %s: %v", event, c.UserID, err)
		return
	}
	c.enqueue(data)
}

func (c *Client) deliverError(message string) {
	c.deliver(EventMessageError, ErrorEvent{Error: message})
}

// shutdown signals the write pump to close the connection. Idempotent.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		var evt InboundEvent
		if err := c.conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket closed for client %s: %v", c.UserID, err)
			} else {
				log.Printf("WebSocket read error for client %s: %v", c.UserID, err)
			}
			return
		}
		c.dispatch(&evt)
	}
}

func (c *Client) dispatch(evt *InboundEvent) {
	switch evt.Event {
	case EventJoinConversation:
		convID, err := uuid.Parse(evt.ConversationID)
		if err != nil {
			c.deliverError("Invalid conversation ID")
			return
		}
		c.hub.JoinConversation(c, convID)
	case EventLeaveConversation:
		convID, err := uuid.Parse(evt.ConversationID)
		if err != nil {
			c.deliverError("Invalid conversation ID")
			return
		}
		c.hub.LeaveConversation(c, convID)
	case EventSendMessage:
		convID, err := uuid.Parse(evt.ConversationID)
		if err != nil {
			c.deliverError("Invalid conversation ID")
			return
		}
		c.hub.SendMessage(c, convID, evt)
	case EventTypingStart:
		convID, err := uuid.Parse(evt.ConversationID)
		if err != nil {
			return
		}
		c.hub.TypingStart(c, convID)
	case EventTypingStop:
		convID, err := uuid.Parse(evt.ConversationID)
		if err != nil {
			return
		}
		c.hub.TypingStop(c, convID)
	case EventAddReaction:
		messageID, err := uuid.Parse(evt.MessageID)
		if err != nil {
			c.deliverError("Invalid message ID")
			return
		}
		c.hub.AddReaction(c, messageID, evt.Reaction)
	default:
		log.Printf("Unknown event %q from client %s", evt.Event, c.UserID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))    //nolint:errcheck
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
