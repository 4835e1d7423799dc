package realtime

import (
	"github.com/extensionhub/extension_hub/models"
	"github.com/google/uuid"
)

// Client -> server event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventAddReaction       = "add_reaction"
)

// Server -> client event names.
const (
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventMessageError   = "message_error"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventReactionAdded  = "reaction_added"
)

// InboundEvent is the single envelope clients send over the socket after the
// auth handshake. Fields beyond Event are populated per event type.
type InboundEvent struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	MessageType    string `json:"message_type,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Reaction       string `json:"reaction,omitempty"`
}

// Event is the server -> client envelope.
type Event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// MessageEvent carries a persisted message plus the recipient-side ownership
// flag: the sender gets exactly one message_sent copy with IsOwn true, every
// other subscriber gets one new_message copy with IsOwn false.
type MessageEvent struct {
	*models.Message
	IsOwn bool `json:"is_own"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}

type TypingEvent struct {
	UserID         uuid.UUID `json:"user_id"`
	UserName       string    `json:"user_name,omitempty"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

type ReactionEvent struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	UserName       string    `json:"user_name"`
	Reaction       string    `json:"reaction"`
}
