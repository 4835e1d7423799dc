package routes

import (
	"github.com/extensionhub/extension_hub/handlers"
	"github.com/extensionhub/extension_hub/middleware"
	"github.com/extensionhub/extension_hub/realtime"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func MessagingRoutes(app *fiber.App, hub *realtime.Hub) {
	api := app.Group("/api/v1")

	conversations := api.Group("/conversations", middleware.Protected())
	conversations.Get("", handlers.GetUserConversations)
	conversations.Post("", handlers.CreateConversation)
	conversations.Get("/users/available", handlers.GetAvailableUsers)
	conversations.Get("/:conversationId/messages", handlers.GetConversationMessages)
	conversations.Post("/:conversationId/participants", handlers.AddParticipants)
	conversations.Delete("/:conversationId/participants/:participantId", handlers.RemoveParticipant)

	messages := api.Group("/messages", middleware.Protected())
	messages.Put("/:id", handlers.EditMessage)
	messages.Delete("/:id", handlers.DeleteMessage)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	api.Get("/ws", websocket.New(realtime.ServeWS(hub)))
}
