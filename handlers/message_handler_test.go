package handlers_test

import (
	"net/http"
	"time"

	"github.com/extensionhub/extension_hub/models"
)

func (s *MessagingAPISuite) TestEditMessageSenderOnly() {
	convID := s.createGroup(s.alice, s.bob)
	message := s.insertMessage(convID, s.bob, "draft", time.Now().Add(-time.Minute))

	body := map[string]string{"content": "final"}

	resp := s.request(http.MethodPut, "/api/v1/messages/"+message.ID.String(), body, s.alice)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.request(http.MethodPut, "/api/v1/messages/"+message.ID.String(), body, s.bob)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var updated models.Message
	s.Require().NoError(s.db.First(&updated, "id = ?", message.ID).Error)
	s.Equal("final", updated.Content)
	s.True(updated.IsEdited)
	s.NotNil(updated.EditedAt)
}

func (s *MessagingAPISuite) TestEditMessageValidation() {
	convID := s.createGroup(s.alice, s.bob)
	message := s.insertMessage(convID, s.bob, "draft", time.Now())

	resp := s.request(http.MethodPut, "/api/v1/messages/"+message.ID.String(), map[string]string{}, s.bob)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.request(http.MethodPut, "/api/v1/messages/not-a-uuid", map[string]string{"content": "x"}, s.bob)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *MessagingAPISuite) TestDeleteMessageSoftDelete() {
	convID := s.createGroup(s.alice, s.bob)
	message := s.insertMessage(convID, s.bob, "remove me", time.Now().Add(-time.Minute))

	// Carol is neither the sender nor a platform admin.
	resp := s.request(http.MethodDelete, "/api/v1/messages/"+message.ID.String(), nil, s.carol)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.request(http.MethodDelete, "/api/v1/messages/"+message.ID.String(), nil, s.bob)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	// The row survives for audit, flagged and timestamped.
	var deleted models.Message
	s.Require().NoError(s.db.First(&deleted, "id = ?", message.ID).Error)
	s.True(deleted.IsDeleted)
	s.NotNil(deleted.DeletedAt)
	s.Equal("remove me", deleted.Content)

	// But it is gone from history pages.
	resp = s.request(http.MethodGet, "/api/v1/conversations/"+convID+"/messages", nil, s.alice)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var page struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	s.decode(resp, &page)
	s.Empty(page.Messages)

	// Deleting twice reports not found.
	resp = s.request(http.MethodDelete, "/api/v1/messages/"+message.ID.String(), nil, s.bob)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *MessagingAPISuite) TestDeleteMessagePrivilegedRole() {
	admin := s.createUser("Dora Admin", "dora@extension.test", "admin", "Administration")
	convID := s.createGroup(s.alice, s.bob)
	message := s.insertMessage(convID, s.bob, "moderated", time.Now())

	resp := s.request(http.MethodDelete, "/api/v1/messages/"+message.ID.String(), nil, admin)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var deleted models.Message
	s.Require().NoError(s.db.First(&deleted, "id = ?", message.ID).Error)
	s.True(deleted.IsDeleted)
}

func (s *MessagingAPISuite) TestEditDeletedMessageNotFound() {
	convID := s.createGroup(s.alice, s.bob)
	message := s.insertMessage(convID, s.bob, "gone", time.Now())
	now := time.Now()
	s.Require().NoError(s.db.Model(message).Updates(map[string]interface{}{
		"is_deleted": true,
		"deleted_at": now,
	}).Error)

	resp := s.request(http.MethodPut, "/api/v1/messages/"+message.ID.String(), map[string]string{"content": "late edit"}, s.bob)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}
