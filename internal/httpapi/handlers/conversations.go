package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/assistant-relay/internal/common"
)

type createConversationReq struct {
	AssistantID string `json:"assistant_id" binding:"omitempty,max=64"`
	Title       string `json:"title" binding:"omitempty,max=255"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	var req createConversationReq
	// an empty body is allowed
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "invalid json")
		return
	}

	conv, err := h.ChatSvc.CreateConversation(c.Request.Context(), uid, req.AssistantID, req.Title)
	if err != nil {
		h.chatError(c, err, "assistant not found")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": common.CodeOK, "data": conv})
}

func (h *Handler) ListConversations(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	list, err := h.ChatSvc.ListConversations(c.Request.Context(), uid)
	if err != nil {
		h.chatError(c, err, "conversation not found")
		return
	}
	common.OK(c, gin.H{"conversations": list})
}

type renameConversationReq struct {
	Title string `json:"title" binding:"required,max=255"`
}

func (h *Handler) RenameConversation(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	var req renameConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "title: must not be empty")
		return
	}
	if err := h.ChatSvc.RenameConversation(c.Request.Context(), uid, c.Param("id"), req.Title); err != nil {
		h.chatError(c, err, "conversation not found")
		return
	}
	common.OK(c, gin.H{"id": c.Param("id"), "title": req.Title})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DeleteConversation(c.Request.Context(), uid, c.Param("id")); err != nil {
		h.chatError(c, err, "conversation not found")
		return
	}
	common.OK(c, gin.H{"id": c.Param("id"), "deleted": true})
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, c.Param("id"), limit, beforeID)
	if err != nil {
		h.chatError(c, err, "conversation not found")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	j, err := h.ChatSvc.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.chatError(c, err, "job not found")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, common.CodeNotFound, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"conversation_id":   j.ConversationID,
			"status":            j.Status,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}
