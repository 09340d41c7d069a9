package httpapi

import (
	"net/http"
	"strings"

	"support-calls/internal/auth"
	"support-calls/internal/chatlog"

	"github.com/gin-gonic/gin"
)

type contactRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl"`
}

// PostContact appends a customer message. The sender is always the caller;
// a body email that names someone else is rejected.
func (h Handlers) PostContact(c *gin.Context) {
	if h.Chat == nil {
		fail(c, http.StatusInternalServerError, "chat not configured")
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Email != "" && auth.NormalizeEmail(req.Email) != auth.NormalizeEmail(p.Email) {
		fail(c, http.StatusForbidden, "email does not match the signed-in user")
		return
	}
	msg, err := h.Chat.AppendCustomerMessage(c.Request.Context(), p, req.Name, req.Message, req.ImageURL)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Message sent successfully", "data": msg})
}

// GetContact returns the caller's own thread, oldest first.
func (h Handlers) GetContact(c *gin.Context) {
	if h.Chat == nil {
		fail(c, http.StatusInternalServerError, "chat not configured")
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}
	msgs, err := h.Chat.ListForCustomer(c.Request.Context(), p.Email)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": nonNil(msgs)})
}

// ListMessages returns every message, newest first. Support only.
func (h Handlers) ListMessages(c *gin.Context) {
	if h.Chat == nil {
		fail(c, http.StatusInternalServerError, "chat not configured")
		return
	}
	msgs, err := h.Chat.ListAll(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": nonNil(msgs)})
}

// ListConversations returns messages grouped by customer. Support only.
func (h Handlers) ListConversations(c *gin.Context) {
	if h.Chat == nil {
		fail(c, http.StatusInternalServerError, "chat not configured")
		return
	}
	convs, err := h.Chat.ListByParty(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if convs == nil {
		convs = []chatlog.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversations": convs})
}

type updateMessageRequest struct {
	ID            string         `json:"id"`
	Reply         string         `json:"reply"`
	Status        chatlog.Status `json:"status"`
	ReplyImageURL string         `json:"replyImageUrl"`
}

// UpdateMessage appends a reply turn or changes the status. Support only.
// The reply is appended server-side; clients never send the whole transcript.
func (h Handlers) UpdateMessage(c *gin.Context) {
	if h.Chat == nil {
		fail(c, http.StatusInternalServerError, "chat not configured")
		return
	}
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ID == "" {
		fail(c, http.StatusBadRequest, "id required")
		return
	}

	ctx := c.Request.Context()
	var (
		msg chatlog.Message
		err error
	)
	switch {
	case strings.TrimSpace(req.Reply) != "" || strings.TrimSpace(req.ReplyImageURL) != "":
		msg, err = h.Chat.AppendReply(ctx, req.ID, req.Reply, req.ReplyImageURL)
	case req.Status != "":
		msg, err = h.Chat.SetStatus(ctx, req.ID, req.Status)
	default:
		fail(c, http.StatusBadRequest, "reply or status required")
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": msg})
}

// DeleteMessage is the moderation path. Support only.
func (h Handlers) DeleteMessage(c *gin.Context) {
	if h.Chat == nil {
		fail(c, http.StatusInternalServerError, "chat not configured")
		return
	}
	if err := h.Chat.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func nonNil(msgs []chatlog.Message) []chatlog.Message {
	if msgs == nil {
		return []chatlog.Message{}
	}
	return msgs
}
