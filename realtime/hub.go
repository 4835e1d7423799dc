package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/extensionhub/extension_hub/models"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Hub owns the process-wide realtime state: the presence registry, the room
// table and the ephemeral typing table. One hub per process; the database is
// the source of truth for conversation/participant/message state, the hub
// only mirrors room membership for connected sessions.
//
// Horizontal scaling would need a pub/sub layer between hubs; this design
// deliberately assumes a single process owns all room state.
type Hub struct {
	db       *gorm.DB
	auth     Authenticator
	presence *Registry

	mu          sync.RWMutex
	rooms       map[uuid.UUID]map[*Client]bool
	clientRooms map[*Client]map[uuid.UUID]bool

	typingMu sync.Mutex
	typing   map[uuid.UUID]map[uuid.UUID]time.Time
}

func NewHub(db *gorm.DB, auth Authenticator) *Hub {
	return &Hub{
		db:          db,
		auth:        auth,
		presence:    NewRegistry(),
		rooms:       make(map[uuid.UUID]map[*Client]bool),
		clientRooms: make(map[*Client]map[uuid.UUID]bool),
		typing:      make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

func (h *Hub) Presence() *Registry { return h.presence }

// Register records presence (latest session wins) and auto-subscribes the
// client to every conversation it actively participates in.
func (h *Hub) Register(c *Client) {
	if displaced := h.presence.Register(c); displaced != nil {
		log.Printf("Displacing previous session for user %s", c.UserID)
		h.removeFromAllRooms(displaced)
		displaced.shutdown()
	}

	var convIDs []uuid.UUID
	err := h.db.Model(&models.ConversationParticipant{}).
		Joins("JOIN conversations ON conversations.id = conversation_participants.conversation_id").
		Where("conversation_participants.user_id = ? AND conversation_participants.is_active = ? AND conversations.is_active = ?",
			c.UserID, true, true).
		Pluck("conversation_participants.conversation_id", &convIDs).Error
	if err != nil {
		log.Printf("Failed to auto-join conversations for user %s: %v", c.UserID, err)
		return
	}

	h.mu.Lock()
	for _, convID := range convIDs {
		h.subscribeLocked(c, convID)
	}
	h.mu.Unlock()
	log.Printf("Client registered: %s (%d conversations)", c.UserID, len(convIDs))
}

// Unregister removes the client from all rooms and from presence. Idempotent;
// persisted messages and participant rows are untouched.
func (h *Hub) Unregister(c *Client) {
	h.removeFromAllRooms(c)
	h.clearTypingForUser(c.UserID)
	h.presence.Unregister(c)
	c.shutdown()
	log.Printf("Client unregistered: %s", c.UserID)
}

// JoinConversation subscribes an authorized client to a room and marks the
// conversation read: opening a conversation implies reading it.
func (h *Hub) JoinConversation(c *Client, convID uuid.UUID) {
	if !h.isActiveParticipant(convID, c.UserID) {
		c.deliverError("You are not a participant of this conversation")
		return
	}

	h.mu.Lock()
	h.subscribeLocked(c, convID)
	h.mu.Unlock()

	if err := models.MarkConversationRead(h.db, convID, c.UserID); err != nil {
		log.Printf("Failed to mark conversation %s read for user %s: %v", convID, c.UserID, err)
	}
}

// LeaveConversation unsubscribes only; the read cursor is not touched.
func (h *Hub) LeaveConversation(c *Client, convID uuid.UUID) {
	h.mu.Lock()
	h.unsubscribeLocked(c, convID)
	h.mu.Unlock()
}

// SendMessage persists the message, then fans it out: every other room
// subscriber gets one new_message, the sender gets one message_sent echo.
// The caller must already be subscribed; there is no implicit join on send.
func (h *Hub) SendMessage(c *Client, convID uuid.UUID, evt *InboundEvent) {
	if !h.isSubscribed(c, convID) {
		c.deliverError("Join the conversation before sending messages")
		return
	}
	if evt.Content == "" && evt.FileURL == "" {
		c.deliverError("Message content is required")
		return
	}

	messageType := evt.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	senderID := c.UserID
	message := models.Message{
		ConversationID: convID,
		SenderID:       &senderID,
		MessageType:    messageType,
		Content:        evt.Content,
	}
	if evt.FileURL != "" {
		message.FileURL = &evt.FileURL
	}
	if evt.FileName != "" {
		message.FileName = &evt.FileName
	}
	if evt.FileSize > 0 {
		size := evt.FileSize
		message.FileSize = &size
	}

	if err := h.db.Create(&message).Error; err != nil {
		log.Printf("Failed to save message for client %s: %v", c.UserID, err)
		c.deliverError("Failed to send message")
		return
	}

	// Reload with the sender joined so recipients get display metadata
	// without a second round trip.
	var full models.Message
	if err := h.db.Preload("Sender").First(&full, "id = ?", message.ID).Error; err != nil {
		log.Printf("Failed to reload message %s: %v", message.ID, err)
		full = message
	}

	if err := models.TouchConversation(h.db, convID); err != nil {
		log.Printf("Failed to touch conversation %s: %v", convID, err)
	}

	h.broadcastToRoom(convID, c, EventNewMessage, MessageEvent{Message: &full, IsOwn: false})
	c.deliver(EventMessageSent, MessageEvent{Message: &full, IsOwn: true})
}

// TypingStart broadcasts an ephemeral typing indicator to the room,
// excluding the originator. Nothing is persisted.
func (h *Hub) TypingStart(c *Client, convID uuid.UUID) {
	if !h.isSubscribed(c, convID) {
		return
	}

	h.typingMu.Lock()
	if h.typing[convID] == nil {
		h.typing[convID] = make(map[uuid.UUID]time.Time)
	}
	h.typing[convID][c.UserID] = time.Now()
	h.typingMu.Unlock()

	h.broadcastToRoom(convID, c, EventUserTyping, TypingEvent{
		UserID:         c.UserID,
		UserName:       c.FullName,
		ConversationID: convID,
	})
}

func (h *Hub) TypingStop(c *Client, convID uuid.UUID) {
	h.typingMu.Lock()
	delete(h.typing[convID], c.UserID)
	h.typingMu.Unlock()

	h.broadcastToRoom(convID, c, EventUserStopTyping, TypingEvent{
		UserID:         c.UserID,
		ConversationID: convID,
	})
}

// AddReaction upserts the (message, user, reaction) triple and broadcasts
// the reaction to the message's conversation room only. Re-applying the same
// reaction is a no-op on storage but still broadcast.
func (h *Hub) AddReaction(c *Client, messageID uuid.UUID, reactionType string) {
	if reactionType == "" {
		c.deliverError("Reaction type is required")
		return
	}

	var message models.Message
	if err := h.db.First(&message, "id = ? AND is_deleted = ?", messageID, false).Error; err != nil {
		c.deliverError("Message not found")
		return
	}
	if !h.isActiveParticipant(message.ConversationID, c.UserID) {
		c.deliverError("You are not a participant of this conversation")
		return
	}

	reaction := models.MessageReaction{
		MessageID: messageID,
		UserID:    c.UserID,
		Reaction:  reactionType,
	}
	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}, {Name: "reaction"}},
		DoNothing: true,
	}).Create(&reaction).Error
	if err != nil {
		log.Printf("Failed to save reaction for client %s: %v", c.UserID, err)
		c.deliverError("Failed to add reaction")
		return
	}

	h.broadcastToRoom(message.ConversationID, nil, EventReactionAdded, ReactionEvent{
		MessageID:      messageID,
		ConversationID: message.ConversationID,
		UserID:         c.UserID,
		UserName:       c.FullName,
		Reaction:       reactionType,
	})
}

// SweepIdleTyping clears typing indicators older than maxIdle and tells the
// room the user stopped. Covers clients that never send typing_stop.
func (h *Hub) SweepIdleTyping(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)

	type staleEntry struct {
		convID uuid.UUID
		userID uuid.UUID
	}
	var stale []staleEntry

	h.typingMu.Lock()
	for convID, users := range h.typing {
		for userID, startedAt := range users {
			if startedAt.Before(cutoff) {
				delete(users, userID)
				stale = append(stale, staleEntry{convID: convID, userID: userID})
			}
		}
		if len(users) == 0 {
			delete(h.typing, convID)
		}
	}
	h.typingMu.Unlock()

	for _, entry := range stale {
		var except *Client
		if c, ok := h.presence.Get(entry.userID); ok {
			except = c
		}
		h.broadcastToRoom(entry.convID, except, EventUserStopTyping, TypingEvent{
			UserID:         entry.userID,
			ConversationID: entry.convID,
		})
	}
}

func (h *Hub) broadcastToRoom(convID uuid.UUID, except *Client, event string, payload interface{}) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[convID] {
		if client == except {
			continue
		}
		client.enqueue(data)
	}
}

func (h *Hub) isSubscribed(c *Client, convID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clientRooms[c][convID]
}

func (h *Hub) isActiveParticipant(convID, userID uuid.UUID) bool {
	var count int64
	err := h.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", convID, userID, true).
		Count(&count).Error
	if err != nil {
		log.Printf("Participant check failed for conversation %s user %s: %v", convID, userID, err)
		return false
	}
	return count > 0
}

func (h *Hub) subscribeLocked(c *Client, convID uuid.UUID) {
	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[*Client]bool)
	}
	h.rooms[convID][c] = true
	if h.clientRooms[c] == nil {
		h.clientRooms[c] = make(map[uuid.UUID]bool)
	}
	h.clientRooms[c][convID] = true
}

func (h *Hub) unsubscribeLocked(c *Client, convID uuid.UUID) {
	if room, ok := h.rooms[convID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, convID)
		}
	}
	if rooms, ok := h.clientRooms[c]; ok {
		delete(rooms, convID)
		if len(rooms) == 0 {
			delete(h.clientRooms, c)
		}
	}
}

func (h *Hub) removeFromAllRooms(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for convID := range h.clientRooms[c] {
		if room, ok := h.rooms[convID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
	delete(h.clientRooms, c)
}

func (h *Hub) clearTypingForUser(userID uuid.UUID) {
	h.typingMu.Lock()
	defer h.typingMu.Unlock()
	for convID, users := range h.typing {
		delete(users, userID)
		if len(users) == 0 {
			delete(h.typing, convID)
		}
	}
}

// ServeWS upgrades, authenticates the first frame, then runs the session
// pumps. Connections failing authentication are closed before any presence
// registration or room subscription happens.
func ServeWS(hub *Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		var authMsg struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		conn.SetReadDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
		if err := conn.ReadJSON(&authMsg); err != nil || authMsg.Type != "auth" {
			log.Printf("WebSocket auth failed: invalid or missing auth message: %v", err)
			_ = conn.WriteJSON(Event{Event: EventMessageError, Payload: ErrorEvent{Error: "Invalid or missing auth message"}})
			conn.Close()
			return
		}

		identity, err := hub.auth(authMsg.Token)
		if err != nil {
			log.Printf("WebSocket auth failed: %v", err)
			_ = conn.WriteJSON(Event{Event: EventMessageError, Payload: ErrorEvent{Error: "Invalid token"}})
			conn.Close()
			return
		}

		client := newClient(hub, conn, identity)
		hub.Register(client)

		go client.writePump()
		client.readPump()
	}
}
