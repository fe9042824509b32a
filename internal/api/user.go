package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"meshforge/internal/api/auth"

	"github.com/gin-gonic/gin"
)

// userProfile 对外暴露的用户信息，不包含密码哈希。
type userProfile struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// handleGetUser 按邮箱查询用户档案。
//
// GET /user/:email
func (s *Server) handleGetUser(c *gin.Context) {
	email := c.Param("email")

	user, err := s.directory.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found."})
			return
		}
		s.logger.Error("query user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userProfile{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}})
}

// handleGetUserTokens 查询指定用户的剩余额度与累计用量。
//
// GET /user/tokens/:userId
func (s *Server) handleGetUserTokens(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid user id."})
		return
	}

	token, err := s.directory.GetUserTokens(c.Request.Context(), uint(userID))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found."})
			return
		}
		s.logger.Error("query user tokens failed", slog.Uint64("user_id", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userAvailableTokens": gin.H{
		"available_tokens": token.AvailableTokens,
		"tokens_used":      token.TokensUsed,
	}})
}
