package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/extensionhub/extension_hub/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type wireEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageReaction{},
	))
	return db
}

func createUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	user := &models.User{
		FullName: name,
		Email:    name + "@extension.test",
		Password: "hashed",
		Role:     "member",
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createConversation(t *testing.T, db *gorm.DB, creator *models.User, members ...*models.User) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{
		Type:      models.ConversationTypeGroup,
		CreatedBy: &creator.ID,
		IsActive:  true,
	}
	require.NoError(t, db.Create(conv).Error)
	require.NoError(t, db.Create(&models.ConversationParticipant{
		ConversationID: conv.ID,
		UserID:         creator.ID,
		Role:           models.ParticipantRoleAdmin,
		IsActive:       true,
	}).Error)
	for _, m := range members {
		require.NoError(t, db.Create(&models.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         m.ID,
			Role:           models.ParticipantRoleMember,
			IsActive:       true,
		}).Error)
	}
	return conv
}

func connect(hub *Hub, user *models.User) *Client {
	client := newClient(hub, nil, &Identity{
		UserID:   user.ID,
		FullName: user.FullName,
		Role:     user.Role,
	})
	hub.Register(client)
	return client
}

// drainEvents empties everything the hub has queued for the client so far.
// Hub calls are synchronous, so by the time a call returns its events are
// already buffered.
func drainEvents(t *testing.T, c *Client) []wireEvent {
	t.Helper()
	var events []wireEvent
	for {
		select {
		case data := <-c.send:
			var evt wireEvent
			require.NoError(t, json.Unmarshal(data, &evt))
			events = append(events, evt)
		default:
			return events
		}
	}
}

func eventsNamed(events []wireEvent, name string) []wireEvent {
	var out []wireEvent
	for _, e := range events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func TestSendMessageEchoSemantics(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")
	conv := createConversation(t, db, alice, bob)
	otherConv := createConversation(t, db, carol)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)
	carolClient := connect(hub, carol)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "hello"})

	aliceEvents := drainEvents(t, aliceClient)
	sent := eventsNamed(aliceEvents, EventMessageSent)
	require.Len(t, sent, 1, "sender gets exactly one message_sent")
	assert.Empty(t, eventsNamed(aliceEvents, EventNewMessage), "sender never receives new_message for its own send")

	var sentPayload MessageEvent
	require.NoError(t, json.Unmarshal(sent[0].Payload, &sentPayload))
	assert.True(t, sentPayload.IsOwn)
	assert.Equal(t, "hello", sentPayload.Content)
	require.NotNil(t, sentPayload.Sender)
	assert.Equal(t, "alice", sentPayload.Sender.FullName)

	bobEvents := drainEvents(t, bobClient)
	incoming := eventsNamed(bobEvents, EventNewMessage)
	require.Len(t, incoming, 1, "recipient gets exactly one new_message")
	assert.Empty(t, eventsNamed(bobEvents, EventMessageSent))

	var incomingPayload MessageEvent
	require.NoError(t, json.Unmarshal(incoming[0].Payload, &incomingPayload))
	assert.False(t, incomingPayload.IsOwn)
	assert.Equal(t, "hello", incomingPayload.Content)

	assert.Empty(t, drainEvents(t, carolClient), "sessions outside the room receive nothing")

	// Bob was not viewing the conversation, so his unread count went up by
	// exactly one.
	var bobRow models.ConversationParticipant
	require.NoError(t, db.First(&bobRow, "conversation_id = ? AND user_id = ?", conv.ID, bob.ID).Error)
	unread, err := models.UnreadCount(db, conv.ID, bobRow.LastReadAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	unreadOther, err := models.UnreadCount(db, otherConv.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unreadOther)
}

func TestSendMessageRequiresSubscription(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)

	// Conversation created after Alice connected, so she holds a
	// participant row but no live subscription. Send must not imply join.
	conv := createConversation(t, db, bob, alice)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "hello"})

	events := drainEvents(t, aliceClient)
	require.Len(t, eventsNamed(events, EventMessageError), 1)
	assert.Empty(t, eventsNamed(events, EventMessageSent))

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count, "nothing persisted when the precondition fails")
}

func TestSendMessageValidation(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	conv := createConversation(t, db, alice)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{})

	events := drainEvents(t, aliceClient)
	require.Len(t, eventsNamed(events, EventMessageError), 1)
}

func TestSendMessageWithAttachment(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv := createConversation(t, db, alice, bob)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{
		Content:     "quarterly report",
		MessageType: models.MessageTypeFile,
		FileURL:     "https://cdn.example.com/report.pdf",
		FileName:    "report.pdf",
		FileSize:    2048,
	})

	incoming := eventsNamed(drainEvents(t, bobClient), EventNewMessage)
	require.Len(t, incoming, 1)

	var payload MessageEvent
	require.NoError(t, json.Unmarshal(incoming[0].Payload, &payload))
	assert.Equal(t, models.MessageTypeFile, payload.MessageType)
	require.NotNil(t, payload.FileURL)
	assert.Equal(t, "https://cdn.example.com/report.pdf", *payload.FileURL)
	require.NotNil(t, payload.FileSize)
	assert.Equal(t, int64(2048), *payload.FileSize)
}

func TestJoinConversationAuthorizationAndRead(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	mallory := createUser(t, db, "mallory")
	conv := createConversation(t, db, alice)

	hub := NewHub(db, nil)
	malloryClient := connect(hub, mallory)

	hub.JoinConversation(malloryClient, conv.ID)
	require.Len(t, eventsNamed(drainEvents(t, malloryClient), EventMessageError), 1)
	assert.False(t, hub.isSubscribed(malloryClient, conv.ID), "failed join leaves no subscription")

	// A participant joining marks the conversation read.
	aliceClient := connect(hub, alice)
	before := time.Now().Add(-time.Second)
	hub.JoinConversation(aliceClient, conv.ID)

	var row models.ConversationParticipant
	require.NoError(t, db.First(&row, "conversation_id = ? AND user_id = ?", conv.ID, alice.ID).Error)
	require.NotNil(t, row.LastReadAt)
	firstRead := *row.LastReadAt
	assert.True(t, firstRead.After(before))

	// The cursor never moves backwards.
	hub.JoinConversation(aliceClient, conv.ID)
	require.NoError(t, db.First(&row, "conversation_id = ? AND user_id = ?", conv.ID, alice.ID).Error)
	require.NotNil(t, row.LastReadAt)
	assert.False(t, row.LastReadAt.Before(firstRead))
}

func TestLeaveConversationStopsDeliveryKeepsCursor(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv := createConversation(t, db, alice, bob)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)

	var before models.ConversationParticipant
	require.NoError(t, db.First(&before, "conversation_id = ? AND user_id = ?", conv.ID, bob.ID).Error)

	hub.LeaveConversation(bobClient, conv.ID)
	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "anyone?"})

	assert.Empty(t, drainEvents(t, bobClient))

	var after models.ConversationParticipant
	require.NoError(t, db.First(&after, "conversation_id = ? AND user_id = ?", conv.ID, bob.ID).Error)
	assert.Equal(t, before.LastReadAt, after.LastReadAt, "leave does not touch the read cursor")
}

func TestTypingSignaling(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")
	conv := createConversation(t, db, alice, bob)
	createConversation(t, db, carol)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)
	carolClient := connect(hub, carol)

	hub.TypingStart(aliceClient, conv.ID)

	typing := eventsNamed(drainEvents(t, bobClient), EventUserTyping)
	require.Len(t, typing, 1)
	var payload TypingEvent
	require.NoError(t, json.Unmarshal(typing[0].Payload, &payload))
	assert.Equal(t, alice.ID, payload.UserID)
	assert.Equal(t, "alice", payload.UserName)
	assert.Equal(t, conv.ID, payload.ConversationID)

	assert.Empty(t, drainEvents(t, aliceClient), "no acknowledgement to the originator")
	assert.Empty(t, drainEvents(t, carolClient), "typing stays room-scoped")

	hub.TypingStop(aliceClient, conv.ID)
	stopped := eventsNamed(drainEvents(t, bobClient), EventUserStopTyping)
	require.Len(t, stopped, 1)

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count, "typing events are never persisted")
}

func TestSweepIdleTyping(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv := createConversation(t, db, alice, bob)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)

	hub.TypingStart(aliceClient, conv.ID)
	drainEvents(t, bobClient)

	// Backdate the indicator past the idle cutoff.
	hub.typingMu.Lock()
	hub.typing[conv.ID][alice.ID] = time.Now().Add(-time.Minute)
	hub.typingMu.Unlock()

	hub.SweepIdleTyping(10 * time.Second)

	stopped := eventsNamed(drainEvents(t, bobClient), EventUserStopTyping)
	require.Len(t, stopped, 1)
	assert.Empty(t, drainEvents(t, aliceClient))

	hub.typingMu.Lock()
	assert.Empty(t, hub.typing)
	hub.typingMu.Unlock()
}

func TestReactionIdempotentAndRoomScoped(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")
	conv := createConversation(t, db, alice, bob)
	createConversation(t, db, carol)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)
	carolClient := connect(hub, carol)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "react to me"})
	drainEvents(t, aliceClient)
	drainEvents(t, bobClient)

	var message models.Message
	require.NoError(t, db.First(&message, "conversation_id = ?", conv.ID).Error)

	hub.AddReaction(bobClient, message.ID, "👍")
	hub.AddReaction(bobClient, message.ID, "👍")

	var count int64
	require.NoError(t, db.Model(&models.MessageReaction{}).
		Where("message_id = ? AND user_id = ? AND reaction = ?", message.ID, bob.ID, "👍").
		Count(&count).Error)
	assert.Equal(t, int64(1), count, "re-applying the same reaction stores a single row")

	reactions := eventsNamed(drainEvents(t, aliceClient), EventReactionAdded)
	require.NotEmpty(t, reactions)
	var payload ReactionEvent
	require.NoError(t, json.Unmarshal(reactions[0].Payload, &payload))
	assert.Equal(t, message.ID, payload.MessageID)
	assert.Equal(t, bob.ID, payload.UserID)
	assert.Equal(t, "👍", payload.Reaction)

	assert.Empty(t, eventsNamed(drainEvents(t, carolClient), EventReactionAdded),
		"reactions broadcast to the owning room only")
}

func TestReactionRequiresMembership(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	mallory := createUser(t, db, "mallory")
	conv := createConversation(t, db, alice)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	malloryClient := connect(hub, mallory)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "private"})
	drainEvents(t, aliceClient)

	var message models.Message
	require.NoError(t, db.First(&message, "conversation_id = ?", conv.ID).Error)

	hub.AddReaction(malloryClient, message.ID, "👀")

	require.Len(t, eventsNamed(drainEvents(t, malloryClient), EventMessageError), 1)
	var count int64
	require.NoError(t, db.Model(&models.MessageReaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDisconnectCleanup(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv := createConversation(t, db, alice, bob)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)

	hub.SendMessage(bobClient, conv.ID, &InboundEvent{Content: "first"})
	drainEvents(t, aliceClient)
	drainEvents(t, bobClient)

	hub.Unregister(bobClient)
	_, present := hub.Presence().Get(bob.ID)
	assert.False(t, present)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "second"})
	assert.Empty(t, drainEvents(t, bobClient), "no delivery after disconnect")

	// Durable state survives the session.
	var messageCount, participantCount int64
	require.NoError(t, db.Model(&models.Message{}).Where("sender_id = ?", bob.ID).Count(&messageCount).Error)
	require.NoError(t, db.Model(&models.ConversationParticipant{}).
		Where("user_id = ? AND is_active = ?", bob.ID, true).Count(&participantCount).Error)
	assert.Equal(t, int64(1), messageCount)
	assert.Equal(t, int64(1), participantCount)

	// Unregister tolerates being called again.
	hub.Unregister(bobClient)
}

func TestLatestSessionWins(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv := createConversation(t, db, alice, bob)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobFirst := connect(hub, bob)
	bobSecond := connect(hub, bob)

	select {
	case <-bobFirst.done:
	default:
		t.Fatal("displaced session should be shut down")
	}

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "hello again"})

	assert.Empty(t, eventsNamed(drainEvents(t, bobFirst), EventNewMessage))
	require.Len(t, eventsNamed(drainEvents(t, bobSecond), EventNewMessage), 1)

	// The displaced session's deferred unregister must not evict the new one.
	hub.Unregister(bobFirst)
	current, present := hub.Presence().Get(bob.ID)
	require.True(t, present)
	assert.Same(t, bobSecond, current)
}

func TestAutoJoinSkipsInactiveMembership(t *testing.T) {
	db := newTestDB(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv := createConversation(t, db, alice, bob)

	require.NoError(t, db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conv.ID, bob.ID).
		Update("is_active", false).Error)

	hub := NewHub(db, nil)
	aliceClient := connect(hub, alice)
	bobClient := connect(hub, bob)

	hub.SendMessage(aliceClient, conv.ID, &InboundEvent{Content: "members only"})
	assert.Empty(t, drainEvents(t, bobClient))
}
