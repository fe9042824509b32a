package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"meshforge/internal/api/auth"
	"meshforge/internal/model"

	"github.com/gin-gonic/gin"
)

// handleAdminListUsers 列出所有普通用户及其额度。
//
// GET /admin
//
// 管理员自身不在列表里，避免在管理页上误改自己的额度。
func (s *Server) handleAdminListUsers(c *gin.Context) {
	users, err := s.directory.ListUsersWithTokens(c.Request.Context(), model.RoleRegular)
	if err != nil {
		s.logger.Error("list users failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "successfully retrieved all user information",
		"allUsers": users,
	})
}

type manageTokensRequest struct {
	// 指针用于区分「缺字段」和「显式置 0」
	AvailableTokens *int `json:"available_tokens"`
}

// handleAdminManageTokens 覆写指定用户的剩余额度。
//
// PATCH /admin/manageAPI/:user_id
func (s *Server) handleAdminManageTokens(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid user id."})
		return
	}

	var req manageTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AvailableTokens == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "available_tokens is required."})
		return
	}
	if *req.AvailableTokens < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "available_tokens must not be negative."})
		return
	}

	if err := s.directory.SetAvailableTokens(c.Request.Context(), uint(userID), *req.AvailableTokens); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found."})
			return
		}
		s.logger.Error("update tokens failed", slog.Uint64("user_id", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
		return
	}

	s.logger.Info("tokens updated",
		slog.Uint64("user_id", userID),
		slog.Int("available_tokens", *req.AvailableTokens),
		slog.Int("admin_id", c.GetInt("userID")))
	c.JSON(http.StatusOK, gin.H{"message": "Tokens updated successfully."})
}
