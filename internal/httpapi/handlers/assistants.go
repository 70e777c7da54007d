package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/common"
)

func (h *Handler) ListAssistants(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	list, err := h.ChatSvc.ListAssistants(c.Request.Context(), uid)
	if err != nil {
		h.chatError(c, err, "assistant not found")
		return
	}
	common.OK(c, gin.H{"assistants": list})
}

func (h *Handler) SetActiveAssistant(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	assistantID := c.Param("assistant_id")
	if err := h.ChatSvc.SetActiveAssistant(c.Request.Context(), uid, assistantID); err != nil {
		h.chatError(c, err, "assistant not found")
		return
	}
	common.OK(c, gin.H{"assistant_id": assistantID, "is_active": true})
}

func (h *Handler) GetAssistantSettings(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	st, err := h.ChatSvc.GetSettings(c.Request.Context(), uid, c.Param("assistant_id"))
	if err != nil {
		h.chatError(c, err, "assistant not found")
		return
	}
	common.OK(c, st)
}

type settingsReq struct {
	EnableFunctionCalling *bool    `json:"enable_function_calling"`
	EnableWebSearch       *bool    `json:"enable_web_search"`
	Model                 *string  `json:"model" binding:"omitempty,max=64"`
	Temperature           *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	MaxTokens             *int     `json:"max_tokens" binding:"omitempty,gte=1,lte=128000"`
	CustomInstructions    *string  `json:"custom_instructions" binding:"omitempty,max=32768"`
}

// UpdateAssistantSettings replaces the settings; omitted overrides are cleared.
func (h *Handler) UpdateAssistantSettings(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	var req settingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "invalid settings")
		return
	}

	u := chat.SettingsUpdate{
		EnableFunctionCalling: true,
		Model:                 req.Model,
		Temperature:           req.Temperature,
		MaxTokens:             req.MaxTokens,
		CustomInstructions:    req.CustomInstructions,
	}
	if req.EnableFunctionCalling != nil {
		u.EnableFunctionCalling = *req.EnableFunctionCalling
	}
	if req.EnableWebSearch != nil {
		u.EnableWebSearch = *req.EnableWebSearch
	}

	st, err := h.ChatSvc.UpdateSettings(c.Request.Context(), uid, c.Param("assistant_id"), u)
	if err != nil {
		h.chatError(c, err, "assistant not found")
		return
	}
	common.OK(c, st)
}
