package handlers

import (
	"errors"
	"time"

	"github.com/extensionhub/extension_hub/database"
	"github.com/extensionhub/extension_hub/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// EditMessage lets the original sender change a message's content; the
// edited flag and timestamp are stamped so clients can show "(edited)".
func EditMessage(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message ID"})
	}

	var req EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var message models.Message
	err = database.DB.First(&message, "id = ? AND is_deleted = ?", messageID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Message not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to edit message"})
	}

	if message.SenderID == nil || *message.SenderID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only the sender can edit a message"})
	}

	now := time.Now()
	err = database.DB.Model(&message).Updates(map[string]interface{}{
		"content":   req.Content,
		"is_edited": true,
		"edited_at": now,
	}).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to edit message"})
	}

	return c.JSON(message)
}

// DeleteMessage soft-deletes: the row stays for audit but drops out of
// history pages and unread counts. Allowed for the sender or a platform
// admin.
func DeleteMessage(c *fiber.Ctx) error {
	userID, role := currentUser(c)

	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message ID"})
	}

	var message models.Message
	err = database.DB.First(&message, "id = ? AND is_deleted = ?", messageID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Message not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete message"})
	}

	isSender := message.SenderID != nil && *message.SenderID == userID
	if !isSender && role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Not allowed to delete this message"})
	}

	now := time.Now()
	err = database.DB.Model(&message).Updates(map[string]interface{}{
		"is_deleted": true,
		"deleted_at": now,
	}).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete message"})
	}

	return c.JSON(fiber.Map{"status": "success"})
}
