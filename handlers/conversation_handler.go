package handlers

import (
	"errors"
	"strconv"

	"github.com/extensionhub/extension_hub/database"
	"github.com/extensionhub/extension_hub/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var validate = validator.New()

var errParticipantNotFound = errors.New("participant user not found")

func currentUser(c *fiber.Ctx) (uuid.UUID, string) {
	token := c.Locals("user").(*jwt.Token)
	claims := token.Claims.(jwt.MapClaims)
	userID, _ := uuid.Parse(claims["user_id"].(string))
	role, _ := claims["role"].(string)
	return userID, role
}

type ParticipantInput struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Role   string `json:"role" validate:"omitempty,oneof=admin member"`
}

type CreateConversationRequest struct {
	Type         string             `json:"type" validate:"required,oneof=direct group"`
	Name         *string            `json:"name"`
	Participants []ParticipantInput `json:"participants" validate:"required,min=1,dive"`
}

type ConversationSummary struct {
	models.Conversation
	UnreadCount int64           `json:"unread_count"`
	LastMessage *models.Message `json:"last_message,omitempty"`
}

func GetUserConversations(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	var memberships []models.ConversationParticipant
	if err := database.DB.
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&memberships).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch conversations"})
	}

	lastReadByConv := make(map[uuid.UUID]*models.ConversationParticipant, len(memberships))
	conversationIDs := make([]uuid.UUID, 0, len(memberships))
	for i := range memberships {
		lastReadByConv[memberships[i].ConversationID] = &memberships[i]
		conversationIDs = append(conversationIDs, memberships[i].ConversationID)
	}

	summaries := make([]ConversationSummary, 0, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return c.JSON(summaries)
	}

	var conversations []models.Conversation
	if err := database.DB.
		Where("id IN ? AND is_active = ?", conversationIDs, true).
		Preload("Participants", "is_active = ?", true).
		Preload("Participants.User").
		Order("updated_at DESC").
		Find(&conversations).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch conversations"})
	}

	for i := range conversations {
		conv := &conversations[i]
		membership := lastReadByConv[conv.ID]

		unread, err := models.UnreadCount(database.DB, conv.ID, membership.LastReadAt)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch conversations"})
		}

		var lastMessage *models.Message
		var preview models.Message
		err = database.DB.
			Where("conversation_id = ? AND is_deleted = ?", conv.ID, false).
			Order("created_at DESC").
			Preload("Sender").
			First(&preview).Error
		if err == nil {
			lastMessage = &preview
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch conversations"})
		}

		summaries = append(summaries, ConversationSummary{
			Conversation: *conv,
			UnreadCount:  unread,
			LastMessage:  lastMessage,
		})
	}

	return c.JSON(summaries)
}

func CreateConversation(c *fiber.Ctx) error {
	creatorID, _ := currentUser(c)

	var req CreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	// A direct conversation between the same two users is reused, not
	// duplicated.
	if req.Type == models.ConversationTypeDirect && len(req.Participants) == 1 {
		otherID, _ := uuid.Parse(req.Participants[0].UserID)
		var existing models.Conversation
		err := database.DB.
			Joins("JOIN conversation_participants cp1 ON cp1.conversation_id = conversations.id AND cp1.user_id = ? AND cp1.is_active = ?", creatorID, true).
			Joins("JOIN conversation_participants cp2 ON cp2.conversation_id = conversations.id AND cp2.user_id = ? AND cp2.is_active = ?", otherID, true).
			Where("conversations.type = ? AND conversations.is_active = ?", models.ConversationTypeDirect, true).
			First(&existing).Error
		if err == nil {
			return c.JSON(existing)
		}
	}

	var conversation models.Conversation
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		conversation = models.Conversation{
			Type:      req.Type,
			Name:      req.Name,
			CreatedBy: &creatorID,
			IsActive:  true,
		}
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}

		creator := models.ConversationParticipant{
			ConversationID: conversation.ID,
			UserID:         creatorID,
			Role:           models.ParticipantRoleAdmin,
			IsActive:       true,
		}
		if err := tx.Create(&creator).Error; err != nil {
			return err
		}

		for _, p := range req.Participants {
			participantID, _ := uuid.Parse(p.UserID)
			if participantID == creatorID {
				continue
			}

			var count int64
			if err := tx.Model(&models.User{}).
				Where("id = ? AND is_active = ?", participantID, true).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return errParticipantNotFound
			}

			role := p.Role
			if role == "" {
				role = models.ParticipantRoleMember
			}
			row := models.ConversationParticipant{
				ConversationID: conversation.ID,
				UserID:         participantID,
				Role:           role,
				IsActive:       true,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errParticipantNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "One or more participants not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create conversation"})
	}

	if err := database.DB.
		Preload("Participants", "is_active = ?", true).
		Preload("Participants.User").
		First(&conversation, "id = ?", conversation.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create conversation"})
	}

	return c.Status(fiber.StatusCreated).JSON(conversation)
}

func GetConversationMessages(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	var membership models.ConversationParticipant
	err = database.DB.
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "You are not a participant of this conversation"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}

	// Storage returns newest first so paging walks backwards through
	// history; the page itself goes out in chronological order.
	var messages []models.Message
	err = database.DB.
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Preload("Sender").
		Preload("Reactions").
		Find(&messages).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	// Loading history counts as reading it, same policy as the socket join.
	if err := models.MarkConversationRead(database.DB, conversationID, userID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"page":     page,
		"limit":    limit,
	})
}

type AddParticipantsRequest struct {
	Participants []ParticipantInput `json:"participants" validate:"required,min=1,dive"`
}

func isConversationAdmin(conversationID, userID uuid.UUID) bool {
	var count int64
	database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND role = ? AND is_active = ?",
			conversationID, userID, models.ParticipantRoleAdmin, true).
		Count(&count)
	return count > 0
}

func AddParticipants(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}

	var req AddParticipantsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if !isConversationAdmin(conversationID, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only conversation admins can add participants"})
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		for _, p := range req.Participants {
			participantID, _ := uuid.Parse(p.UserID)

			var count int64
			if err := tx.Model(&models.User{}).
				Where("id = ? AND is_active = ?", participantID, true).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return errParticipantNotFound
			}

			role := p.Role
			if role == "" {
				role = models.ParticipantRoleMember
			}

			// A previously removed participant gets reactivated rather
			// than a second row.
			var existing models.ConversationParticipant
			err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, participantID).
				First(&existing).Error
			switch {
			case err == nil:
				if err := tx.Model(&existing).
					Updates(map[string]interface{}{"is_active": true, "role": role}).Error; err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				row := models.ConversationParticipant{
					ConversationID: conversationID,
					UserID:         participantID,
					Role:           role,
					IsActive:       true,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errParticipantNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "One or more participants not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to add participants"})
	}

	return c.JSON(fiber.Map{"status": "success"})
}

func RemoveParticipant(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	conversationID, err := uuid.Parse(c.Params("conversationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation ID"})
	}
	participantID, err := uuid.Parse(c.Params("participantId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid participant ID"})
	}

	if !isConversationAdmin(conversationID, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only conversation admins can remove participants"})
	}

	result := database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, participantID, true).
		Update("is_active", false)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to remove participant"})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Participant not found"})
	}

	return c.JSON(fiber.Map{"status": "success"})
}

// GetAvailableUsers backs the participant picker when starting a
// conversation.
func GetAvailableUsers(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	query := database.DB.Model(&models.User{}).
		Where("is_active = ? AND id <> ?", true, userID)
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}
	if department := c.Query("department"); department != "" {
		query = query.Where("department = ?", department)
	}

	var users []models.User
	if err := query.Order("full_name ASC").Find(&users).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch users"})
	}

	return c.JSON(users)
}
