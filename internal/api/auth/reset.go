package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"meshforge/internal/model"
	"meshforge/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// 重置令牌的有效期，与凭证有效期独立，固定 1 小时。
const resetTokenTTL = time.Hour

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ForgotPassword 发起密码重置：落库令牌并发送重置邮件。
//
// POST /auth/forgot-password
//
// 令牌先落库再发邮件。发信失败时令牌已经可兑换，
// 返回独立的错误提示用户重试（重试会生成新令牌，旧令牌等清理任务回收）。
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.users.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("query user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	token, err := generateResetToken()
	if err != nil {
		h.logger.Error("generate reset token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	reset := &model.PasswordReset{
		UserID:     user.ID,
		ResetToken: token,
		ExpiryDate: time.Now().Add(resetTokenTTL),
	}
	if err := h.resets.CreateReset(c.Request.Context(), reset); err != nil {
		h.logger.Error("create reset record failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", h.frontendURL, token)
	if err := h.mailer.SendPasswordReset(email, resetURL); err != nil {
		// 令牌已持久化且可兑换，失败只影响送达
		h.logger.Warn("send reset email failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send reset email"})
		return
	}

	metrics.ResetRequestTotal.Inc()
	h.logger.Info("password reset requested", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusOK, gin.H{"message": "Password reset email sent"})
}

// ResetPassword 兑换重置令牌并更新密码。
//
// POST /auth/reset-password
//
// 密码更新与令牌删除在同一事务内完成，令牌只能兑换一次；
// 过期令牌保留在库里，由后台清理任务回收。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token and new password are required"})
		return
	}

	reset, err := h.resets.GetResetByToken(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, ErrResetNotFound) {
			metrics.ResetRedeemTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired token"})
			return
		}
		h.logger.Error("query reset record failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	if time.Now().After(reset.ExpiryDate) {
		metrics.ResetRedeemTotal.WithLabelValues("expired").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token has expired"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), saltCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	if err := h.users.ResetPassword(c.Request.Context(), reset.UserID, string(hash), req.Token); err != nil {
		if errors.Is(err, ErrResetNotFound) {
			// 并发兑换：另一个请求先消费了令牌
			metrics.ResetRedeemTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired token"})
			return
		}
		h.logger.Error("reset password failed", slog.Uint64("user_id", uint64(reset.UserID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	metrics.ResetRedeemTotal.WithLabelValues("ok").Inc()
	h.logger.Info("password reset", slog.Uint64("user_id", uint64(reset.UserID)))
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successful"})
}

// generateResetToken 生成 256 位随机令牌的 hex 表示。
func generateResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
