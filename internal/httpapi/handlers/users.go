package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suPer8Hu/assistant-relay/internal/auth"
	"github.com/suPer8Hu/assistant-relay/internal/common"
	"github.com/suPer8Hu/assistant-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/assistant-relay/internal/models"
)

type credentialsReq struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "valid email and a password of 8 to 72 characters required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.Log.Error().Err(err).Msg("hash password")
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to hash password")
		return
	}

	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") ||
			strings.Contains(err.Error(), "Duplicate") {
			common.Fail(c, http.StatusConflict, common.CodeConflict, "email already registered")
			return
		}
		h.Log.Error().Err(err).Msg("create user")
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to create user")
		return
	}

	token, err := auth.SignJWT(user.ID, user.Email, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to sign token")
		return
	}

	h.Log.Info().Str("user_id", user.ID).Msg("user registered")
	common.OK(c, gin.H{
		"id":    user.ID,
		"email": user.Email,
		"token": token,
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidRequest, "email and password required")
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "invalid email or password")
			return
		}
		h.Log.Error().Err(err).Msg("load user")
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "db error")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "invalid email or password")
		return
	}

	token, err := auth.SignJWT(user.ID, user.Email, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token, "expires_in": int(h.Cfg.JWTTTL.Seconds())})
}

// Logout revokes the presented token until it expires.
func (h *Handler) Logout(c *gin.Context) {
	id, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required")
		return
	}
	if h.Revoker == nil {
		common.Fail(c, http.StatusNotImplemented, "logout-unavailable", "token revocation is not configured")
		return
	}
	if err := h.Revoker.RevokeToken(c.Request.Context(), auth.HashToken(id.Token), id.ExpiresAt); err != nil {
		h.Log.Error().Err(err).Str("user_id", id.UserID).Msg("revoke token")
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to revoke token")
		return
	}
	common.OK(c, gin.H{"logged_out": true})
}

func (h *Handler) Me(c *gin.Context) {
	id, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required")
		return
	}
	common.OK(c, gin.H{
		"id":         id.UserID,
		"email":      id.Email,
		"expires_at": id.ExpiresAt,
	})
}
